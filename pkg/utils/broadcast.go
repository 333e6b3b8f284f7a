package utils

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/srand/jolt/bridge/pkg/log"
)

// Default number of events buffered per consumer.
const BroadcastCapacity = 100

// Time a slow consumer is given before an event is dropped for it.
const BroadcastSendTimeout = 100 * time.Millisecond

type BroadcastConsumer[E any] struct {
	Chan      chan E
	ID        string
	Broadcast *Broadcast[E]
	dropped   atomic.Int64
}

// Broadcast delivers every sent event to all registered consumers.
// Senders are never blocked longer than BroadcastSendTimeout per consumer.
type Broadcast[E any] struct {
	mu        sync.RWMutex
	capacity  int
	closed    bool
	consumers map[string]*BroadcastConsumer[E]
}

func NewBroadcast[E any]() *Broadcast[E] {
	return NewBroadcastSize[E](BroadcastCapacity)
}

func NewBroadcastSize[E any](capacity int) *Broadcast[E] {
	return &Broadcast[E]{
		capacity:  capacity,
		consumers: map[string]*BroadcastConsumer[E]{},
	}
}

// NewConsumer registers a consumer. A consumer created after Close
// receives a closed channel.
func (bc *Broadcast[E]) NewConsumer() *BroadcastConsumer[E] {
	consumer := &BroadcastConsumer[E]{
		Chan:      make(chan E, bc.capacity),
		ID:        uuid.NewString(),
		Broadcast: bc,
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		close(consumer.Chan)
		return consumer
	}

	bc.consumers[consumer.ID] = consumer
	return consumer
}

func (bc *Broadcast[E]) HasConsumer() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.consumers) > 0
}

// Close closes the channels of all consumers.
func (bc *Broadcast[E]) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return
	}
	bc.closed = true

	for _, consumer := range bc.consumers {
		close(consumer.Chan)
	}
	bc.consumers = map[string]*BroadcastConsumer[E]{}
}

func (bc *Broadcast[E]) Remove(bcc *BroadcastConsumer[E]) bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	_, ok := bc.consumers[bcc.ID]
	delete(bc.consumers, bcc.ID)
	return ok
}

func (bcc *BroadcastConsumer[E]) Close() {
	if bcc.Broadcast.Remove(bcc) {
		close(bcc.Chan)
	}
}

// Dropped returns the number of events not delivered to the consumer
// because its channel was full.
func (bcc *BroadcastConsumer[E]) Dropped() int64 {
	return bcc.dropped.Load()
}

func (bcc *BroadcastConsumer[E]) send(data E) {
	select {
	case bcc.Chan <- data:
		return
	default:
	}

	timer := time.NewTimer(BroadcastSendTimeout)
	defer timer.Stop()

	select {
	case bcc.Chan <- data:
	case <-timer.C:
		bcc.dropped.Add(1)
		log.Debugf("Dropping event for %s, channel full", bcc.ID)
	}
}

func (bc *Broadcast[E]) Send(data E) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	for _, c := range bc.consumers {
		c.send(data)
	}
}
