package refcount

import (
	"fmt"
	"sync"

	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// Counter tracks local references per object.
type Counter struct {
	mu     sync.Mutex
	counts map[ids.ObjectID]int
	onZero func(ids.ObjectID)
}

// NewCounter creates a counter. onZero, if not nil, is called when the last
// reference to an object is removed. It runs with the counter locked and must
// not call back into the counter.
func NewCounter(onZero func(ids.ObjectID)) *Counter {
	return &Counter{
		counts: map[ids.ObjectID]int{},
		onZero: onZero,
	}
}

// Add a reference and return the new count.
func (c *Counter) Add(id ids.ObjectID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[id]++
	return c.counts[id]
}

// Remove a reference and return the new count.
// Removing a reference that is not held leaves every count unchanged.
func (c *Counter) Remove(id ids.ObjectID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count, ok := c.counts[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", utils.ErrNoReference, id.Hex())
	}

	count--
	if count > 0 {
		c.counts[id] = count
		return count, nil
	}

	delete(c.counts, id)
	if c.onZero != nil {
		c.onZero(id)
	}
	return 0, nil
}

func (c *Counter) Count(id ids.ObjectID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

// Number of objects with at least one reference.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
