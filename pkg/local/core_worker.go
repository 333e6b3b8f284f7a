// Package local is a single process runtime.
//
// CoreWorker implements core.CoreWorker on top of an in-memory object store
// and runs submitted tasks on a worker pool in the same process. It is used by
// the jolt-bridge binary and as the runtime in tests.
package local

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/core"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/refcount"
	"github.com/srand/jolt/bridge/pkg/store"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// Returns the ids of objects referenced from inside a value.
type ObjectRefExtractor func(value buffer.DataValue) []ids.ObjectID

type Config struct {
	JobID ids.JobID

	// Address other workers use to reach this one.
	IP   string
	Port int32

	// Node the worker runs on. Defaults to NewNodeWithDefaults().
	Node *Node

	// Return values are inlined until the combined size of a task's
	// inlined returns would exceed this many bytes.
	InlineThreshold int64

	// Number of tasks executed concurrently. Defaults to GOMAXPROCS.
	Threads int

	// Finds object references nested in values. Optional.
	ObjectRefExtractor ObjectRefExtractor

	// Allocator for copies of task arguments. Optional.
	Allocator buffer.Allocator
}

type Stats struct {
	TasksSubmitted int64
	TasksFinished  int64
	TasksFailed    int64
	ReturnsInlined int64
	References     int64
	Store          store.Stats
}

type CoreWorker struct {
	config  Config
	address task.Address
	store   *store.MemoryStore
	refs    *refcount.Counter
	pool    *utils.WorkerPool
	handler atomic.Pointer[core.TaskHandler]

	// Task id used for objects put from outside of any task.
	driverTask ids.TaskID
	putIndex   atomic.Uint32

	mu      sync.Mutex
	owners  map[ids.ObjectID]task.Address
	writers map[ids.ObjectID]*store.Writer

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Int64
	finished  atomic.Int64
	failed    atomic.Int64
	inlined   atomic.Int64
}

func NewCoreWorker(objects *store.MemoryStore, config Config) *CoreWorker {
	if config.Node == nil {
		config.Node = NewNodeWithDefaults()
	}
	if config.IP == "" {
		config.IP = "127.0.0.1"
	}
	if config.Allocator == nil {
		config.Allocator = buffer.DefaultAllocator
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &CoreWorker{
		config: config,
		address: task.Address{
			NodeID:   config.Node.ID,
			IP:       config.IP,
			Port:     config.Port,
			WorkerID: ids.NewWorkerID(),
		},
		store:      objects,
		pool:       utils.NewWorkerPoolSize(config.Threads),
		driverTask: ids.NewTaskID(config.JobID),
		owners:     map[ids.ObjectID]task.Address{},
		writers:    map[ids.ObjectID]*store.Writer{},
		ctx:        ctx,
		cancel:     cancel,
	}

	c.refs = refcount.NewCounter(c.collect)
	return c
}

// Start executing submitted tasks.
func (c *CoreWorker) Start() {
	log.Infof("Worker %s started on node %s", c.address.WorkerID.Hex(), c.address.NodeID.Hex())
	c.pool.Start()
}

// Stop executing tasks. Tasks waiting for arguments are cancelled.
func (c *CoreWorker) Stop() {
	c.cancel()
	c.pool.Stop()
}

// Wait for all submitted tasks to finish.
func (c *CoreWorker) Wait() {
	c.pool.Wait()
}

// SetTaskHandler installs the function that executes tasks.
func (c *CoreWorker) SetTaskHandler(handler core.TaskHandler) {
	c.handler.Store(&handler)
}

func (c *CoreWorker) Address() task.Address {
	return c.address
}

func (c *CoreWorker) JobID() ids.JobID {
	return c.config.JobID
}

func (c *CoreWorker) Node() *Node {
	return c.config.Node
}

func (c *CoreWorker) Store() *store.MemoryStore {
	return c.store
}

// Number of local references held to an object.
func (c *CoreWorker) ReferenceCount(id ids.ObjectID) int {
	return c.refs.Count(id)
}

func (c *CoreWorker) Statistics() Stats {
	return Stats{
		TasksSubmitted: c.submitted.Load(),
		TasksFinished:  c.finished.Load(),
		TasksFailed:    c.failed.Load(),
		ReturnsInlined: c.inlined.Load(),
		References:     int64(c.refs.Len()),
		Store:          c.store.Statistics(),
	}
}

// Deletes objects nobody references anymore.
// Called with the reference counter locked.
func (c *CoreWorker) collect(id ids.ObjectID) {
	c.mu.Lock()
	delete(c.owners, id)
	c.mu.Unlock()

	if err := c.store.Delete(id); err == nil {
		log.Tracef("Collected %s", id.Hex())
	}
}

func (c *CoreWorker) AllocateReturnObject(id ids.ObjectID, size int, meta *buffer.Buffer, contained []core.ObjectReference, inlined *int64) (*core.ReturnObject, error) {
	w, err := c.store.Create(id, size, meta.Bytes(), core.ReferenceIDs(contained))
	if err != nil {
		return nil, err
	}

	obj := &core.ReturnObject{
		ID:        id,
		Data:      w.Data(),
		Meta:      w.Meta(),
		Contained: contained,
	}

	total := int64(size + meta.Len())
	if inlined != nil && *inlined+total <= c.config.InlineThreshold {
		*inlined += total
		obj.Inlined = true
		c.inlined.Add(1)
	}

	c.mu.Lock()
	c.writers[id] = w
	c.mu.Unlock()

	return obj, nil
}

func (c *CoreWorker) SealReturnObject(obj *core.ReturnObject) error {
	c.mu.Lock()
	w, ok := c.writers[obj.ID]
	delete(c.writers, obj.ID)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s was not allocated", utils.ErrStoreFailure, obj.ID.Hex())
	}
	return w.Seal()
}

func (c *CoreWorker) GetObjectRefs(contained []ids.ObjectID) ([]core.ObjectReference, error) {
	refs := make([]core.ObjectReference, len(contained))
	for i, id := range contained {
		owner, err := c.GetOwnerAddress(id)
		if err != nil {
			return nil, err
		}
		refs[i] = core.ObjectReference{ID: id, Owner: owner}
	}
	return refs, nil
}

func (c *CoreWorker) ContainedObjectIDs(value buffer.DataValue) []ids.ObjectID {
	if c.config.ObjectRefExtractor == nil {
		return nil
	}
	return c.config.ObjectRefExtractor(value)
}

func (c *CoreWorker) GetOwnerAddress(id ids.ObjectID) (task.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.owners[id]
	if !ok {
		return task.Address{}, fmt.Errorf("%w: owner of %s", utils.ErrNotFound, id.Hex())
	}
	return owner, nil
}

// Get waits for objects. Objects holding the error of a failed task fail
// the call with ErrTaskFailed.
func (c *CoreWorker) Get(ctx context.Context, objectIDs []ids.ObjectID, timeout time.Duration) ([]*core.Object, error) {
	objects, err := c.store.Get(ctx, objectIDs, timeout)
	if err != nil {
		return nil, err
	}

	for _, obj := range objects {
		if obj.IsError() {
			return nil, fmt.Errorf("%w: %s: %s", utils.ErrTaskFailed, obj.ID.Hex(), obj.Data.Bytes())
		}
	}
	return objects, nil
}

func (c *CoreWorker) Put(value buffer.DataValue, contained []ids.ObjectID) (ids.ObjectID, error) {
	id := ids.ObjectIDForPut(c.driverTask, c.putIndex.Add(1))

	if err := c.store.Put(id, value, contained); err != nil {
		return ids.ObjectID{}, err
	}

	c.mu.Lock()
	c.owners[id] = c.address
	c.mu.Unlock()

	return id, nil
}

func (c *CoreWorker) AddLocalReference(id ids.ObjectID) error {
	c.refs.Add(id)
	return nil
}

func (c *CoreWorker) RemoveLocalReference(id ids.ObjectID) error {
	_, err := c.refs.Remove(id)
	return err
}
