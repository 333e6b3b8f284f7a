// Package store is an in-process object store.
//
// Objects are created unsealed, filled through a Writer and become visible to
// readers when sealed. Sealed objects are kept in memory up to a size limit,
// after which the least recently used ones are moved to an optional
// SpillCache and transparently restored when read.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/core"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/utils"
)

var (
	ErrObjectExists = fmt.Errorf("%w: object already exists", utils.ErrStoreFailure)
	ErrStoreFull    = fmt.Errorf("%w: object store is full", utils.ErrStoreFailure)
)

type entryState int

const (
	// Waited for but not yet created.
	statePending entryState = iota
	// Created, being written.
	stateCreated
	stateSealed
	stateSpilled
	stateDeleted
)

type entry struct {
	id        ids.ObjectID
	state     entryState
	data      *buffer.Buffer
	meta      *buffer.Buffer
	contained []ids.ObjectID
	size      int64

	// Closed when the object is sealed or deleted.
	ready   chan struct{}
	waiters int
}

func (e *entry) Key() ids.ObjectID {
	return e.id
}

func (e *entry) Size() int64 {
	return e.size
}

func (e *entry) signal() {
	select {
	case <-e.ready:
	default:
		close(e.ready)
	}
}

func (e *entry) release() {
	e.data.Release()
	e.meta.Release()
	e.data, e.meta = nil, nil
}

// Store statistics
type Stats struct {
	// Number of sealed objects, in memory or spilled
	Objects int64

	// Number of objects being written
	Unsealed int64

	// Size of sealed objects in memory in bytes
	Size int64

	// Number of objects moved to the spill cache
	Spilled int64

	// Number of objects read back from the spill cache
	Restored int64

	Spill SpillStats
}

type MemoryStore struct {
	sync.Mutex

	mem     buffer.Allocator
	maxSize int64
	objects map[ids.ObjectID]*entry
	lru     *utils.LRU[ids.ObjectID, *entry]
	spill   *SpillCache
	stats   Stats

	// Bytes reserved by objects being written.
	unsealed int64
}

// NewMemoryStore creates a store holding at most maxSize bytes in memory.
// A maxSize of zero or less means unlimited. spill may be nil, in which case
// objects are never evicted.
func NewMemoryStore(mem buffer.Allocator, maxSize int64, spill *SpillCache) *MemoryStore {
	if mem == nil {
		mem = buffer.DefaultAllocator
	}

	s := &MemoryStore{
		mem:     mem,
		maxSize: maxSize,
		objects: map[ids.ObjectID]*entry{},
		spill:   spill,
	}

	s.lru = utils.NewLRU[ids.ObjectID, *entry](maxSize, s.evict)

	if maxSize > 0 {
		log.Info("Maximum store size:", utils.HumanByteSize(maxSize))
	}
	return s
}

// Called by the LRU with the store locked.
func (s *MemoryStore) evict(e *entry) bool {
	if s.spill == nil {
		return false
	}

	if err := s.spill.Write(e.id, e.data.Bytes(), e.meta.Bytes()); err != nil {
		if errors.Is(err, ErrSpillFull) {
			log.Tracef("Keeping %s in memory: %v", e.id.Hex(), err)
		} else {
			log.Warnf("Failed to spill %s: %v", e.id.Hex(), err)
		}
		return false
	}

	log.Tracef("Spilled %s (%s)", e.id.Hex(), utils.HumanByteSize(e.size))
	e.release()
	e.state = stateSpilled
	s.stats.Spilled++
	return true
}

// Create reserves space for a new object. Creating an object that already
// exists fails. The object stays invisible to readers until the returned
// writer is sealed.
func (s *MemoryStore) Create(id ids.ObjectID, size int, meta []byte, contained []ids.ObjectID) (*Writer, error) {
	total := int64(size + len(meta))

	s.Lock()
	defer s.Unlock()

	e, ok := s.objects[id]
	if ok && e.state != statePending {
		return nil, fmt.Errorf("%w: %s", ErrObjectExists, id.Hex())
	}

	// Without a spill cache nothing can make room.
	if s.maxSize > 0 && s.spill == nil && s.lru.Size()+s.unsealed+total > s.maxSize {
		return nil, fmt.Errorf("%w: %s requested, %s of %s in use", ErrStoreFull,
			utils.HumanByteSize(total), utils.HumanByteSize(s.lru.Size()+s.unsealed), utils.HumanByteSize(s.maxSize))
	}
	if !ok {
		e = &entry{id: id, ready: make(chan struct{})}
		s.objects[id] = e
	}

	e.state = stateCreated
	e.size = total
	s.unsealed += total
	e.contained = append([]ids.ObjectID(nil), contained...)
	e.data = buffer.Allocate(s.mem, size)
	if len(meta) > 0 {
		e.meta = buffer.Copy(s.mem, meta)
	}

	return &Writer{store: s, entry: e}, nil
}

// Put creates and seals an object in one step.
func (s *MemoryStore) Put(id ids.ObjectID, value buffer.DataValue, contained []ids.ObjectID) error {
	w, err := s.Create(id, value.Data.Len(), value.Meta.Bytes(), contained)
	if err != nil {
		return err
	}
	copy(w.Data().Bytes(), value.Data.Bytes())
	return w.Seal()
}

func (s *MemoryStore) seal(e *entry) error {
	s.Lock()
	defer s.Unlock()

	if e.state != stateCreated {
		return fmt.Errorf("%w: %s is not writable", utils.ErrStoreFailure, e.id.Hex())
	}

	e.state = stateSealed
	s.unsealed -= e.size
	e.signal()
	s.lru.Add(e)
	return nil
}

func (s *MemoryStore) abort(e *entry) error {
	s.Lock()
	defer s.Unlock()

	if e.state != stateCreated {
		return fmt.Errorf("%w: %s is not writable", utils.ErrStoreFailure, e.id.Hex())
	}

	e.release()
	s.unsealed -= e.size
	if e.waiters > 0 {
		e.state = statePending
		e.size = 0
		e.contained = nil
	} else {
		e.state = stateDeleted
		delete(s.objects, e.id)
	}
	return nil
}

// Contains returns true if the object is sealed.
func (s *MemoryStore) Contains(id ids.ObjectID) bool {
	s.Lock()
	defer s.Unlock()

	e, ok := s.objects[id]
	return ok && (e.state == stateSealed || e.state == stateSpilled)
}

// Delete an object. Readers waiting for it fail.
func (s *MemoryStore) Delete(id ids.ObjectID) error {
	s.Lock()
	defer s.Unlock()

	e, ok := s.objects[id]
	if !ok || e.state == statePending {
		return fmt.Errorf("%w: %s", utils.ErrNotFound, id.Hex())
	}

	switch e.state {
	case stateCreated:
		s.unsealed -= e.size
	case stateSealed:
		s.lru.Remove(e.id)
	case stateSpilled:
		s.spill.Remove(id)
	}

	e.release()
	e.state = stateDeleted
	e.signal()
	delete(s.objects, id)
	log.Tracef("Deleted %s", id.Hex())
	return nil
}

// Get waits for objects to be sealed and returns them in request order.
//
// A negative timeout waits until all objects are available or ctx is done.
// A zero timeout checks availability once without waiting. A positive
// timeout waits at most that long. If any object is unavailable the whole
// call fails with ErrTimeout.
func (s *MemoryStore) Get(ctx context.Context, objectIDs []ids.ObjectID, timeout time.Duration) ([]*core.Object, error) {
	entries := s.wait(objectIDs)
	defer s.unwait(entries)

	if timeout == 0 {
		for _, e := range entries {
			select {
			case <-e.ready:
			default:
				return nil, fmt.Errorf("%w: %s is not available", utils.ErrTimeout, e.id.Hex())
			}
		}
	} else {
		waitCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		group, groupCtx := errgroup.WithContext(waitCtx)
		for _, e := range entries {
			e := e
			group.Go(func() error {
				select {
				case <-e.ready:
					return nil
				case <-groupCtx.Done():
					return fmt.Errorf("%s: %w", e.id.Hex(), groupCtx.Err())
				}
			})
		}

		if err := group.Wait(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", utils.ErrTimeout, err)
			}
			return nil, err
		}
	}

	return s.read(entries)
}

// Registers interest in objects, creating placeholders for objects that do
// not exist yet.
func (s *MemoryStore) wait(objectIDs []ids.ObjectID) []*entry {
	s.Lock()
	defer s.Unlock()

	entries := make([]*entry, len(objectIDs))
	for i, id := range objectIDs {
		e, ok := s.objects[id]
		if !ok {
			e = &entry{id: id, ready: make(chan struct{})}
			s.objects[id] = e
		}
		e.waiters++
		entries[i] = e
	}
	return entries
}

func (s *MemoryStore) unwait(entries []*entry) {
	s.Lock()
	defer s.Unlock()

	for _, e := range entries {
		e.waiters--
		if e.waiters == 0 && e.state == statePending {
			delete(s.objects, e.id)
		}
	}
}

func (s *MemoryStore) read(entries []*entry) ([]*core.Object, error) {
	s.Lock()
	defer s.Unlock()

	objects := make([]*core.Object, len(entries))
	for i, e := range entries {
		var data, meta []byte

		switch e.state {
		case stateSealed:
			s.lru.Get(e.id)
			data, meta = e.data.Bytes(), e.meta.Bytes()
		case stateSpilled:
			var err error
			if data, meta, err = s.restore(e); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %s", utils.ErrNotFound, e.id.Hex())
		}

		obj := &core.Object{
			ID:        e.id,
			Data:      buffer.Borrow(data),
			Contained: e.contained,
		}
		if len(meta) > 0 {
			obj.Meta = buffer.Borrow(meta)
		}
		objects[i] = obj
	}
	return objects, nil
}

// Reads a spilled object and moves it back into memory, unless it alone
// exceeds the memory limit.
func (s *MemoryStore) restore(e *entry) (data, meta []byte, err error) {
	data, meta, err = s.spill.Read(e.id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: restoring %s: %v", utils.ErrStoreFailure, e.id.Hex(), err)
	}

	if s.maxSize > 0 && e.size > s.maxSize {
		return data, meta, nil
	}

	e.data = buffer.Copy(s.mem, data)
	if len(meta) > 0 {
		e.meta = buffer.Copy(s.mem, meta)
	}
	e.state = stateSealed
	s.stats.Restored++

	s.spill.Remove(e.id)
	s.lru.Add(e)
	return data, meta, nil
}

// Returns statistics about the store.
func (s *MemoryStore) Statistics() Stats {
	s.Lock()
	defer s.Unlock()

	stats := s.stats
	stats.Objects, stats.Unsealed = 0, 0
	for _, e := range s.objects {
		switch e.state {
		case stateSealed, stateSpilled:
			stats.Objects++
		case stateCreated:
			stats.Unsealed++
		}
	}
	stats.Size = s.lru.Size()
	if s.spill != nil {
		stats.Spill = s.spill.Statistics()
	}
	return stats
}

// Writer fills a created object. Exactly one of Seal or Abort must be called.
type Writer struct {
	store *MemoryStore
	entry *entry
}

func (w *Writer) ID() ids.ObjectID {
	return w.entry.id
}

// Data returns the writable payload, exactly as large as requested.
func (w *Writer) Data() *buffer.Buffer {
	return w.entry.data
}

func (w *Writer) Meta() *buffer.Buffer {
	return w.entry.meta
}

// Seal makes the object visible to readers.
func (w *Writer) Seal() error {
	return w.store.seal(w.entry)
}

// Abort discards the object.
func (w *Writer) Abort() error {
	return w.store.abort(w.entry)
}
