// Package bridge connects task executors to the runtime.
//
// The runtime hands every task dispatched to this worker to Bridge.Execute,
// which converts the task's arguments into DataValues, calls the registered
// Executor and turns its outputs into sealed return objects. The executor side
// uses the same Bridge to manage references, read and write objects and
// submit new tasks.
package bridge

import (
	"sync/atomic"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/core"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/utils"
)

type Option func(*Bridge)

// WithExecutor sets the executor tasks are dispatched to.
func WithExecutor(executor Executor) Option {
	return func(b *Bridge) {
		b.Register(executor)
	}
}

// WithAllocator sets the allocator used for values returned by Get.
func WithAllocator(mem buffer.Allocator) Option {
	return func(b *Bridge) {
		b.mem = mem
	}
}

// Statistics
type Stats struct {
	TasksExecuted int64
	TasksFailed   int64
	ReturnsSealed int64
	Puts          int64
	Gets          int64
	Submits       int64
}

type Bridge struct {
	core     core.CoreWorker
	mem      buffer.Allocator
	executor atomic.Pointer[Executor]
	updates  *utils.Broadcast[*StateUpdate]

	executed atomic.Int64
	failed   atomic.Int64
	sealed   atomic.Int64
	puts     atomic.Int64
	gets     atomic.Int64
	submits  atomic.Int64
}

func New(cw core.CoreWorker, opts ...Option) *Bridge {
	b := &Bridge{
		core:    cw,
		mem:     buffer.DefaultAllocator,
		updates: utils.NewBroadcast[*StateUpdate](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register the executor that runs tasks, replacing any earlier one.
// Returns true if an executor was registered, false for nil.
func (b *Bridge) Register(executor Executor) bool {
	if executor == nil {
		return false
	}
	if old := b.executor.Swap(&executor); old != nil {
		log.Debug("Replaced registered executor")
	}
	return true
}

// Registered returns true once an executor is registered.
func (b *Bridge) Registered() bool {
	return b.executor.Load() != nil
}

// Handler returns the function the runtime calls to execute tasks.
func (b *Bridge) Handler() core.TaskHandler {
	return b.handle
}

// Observe returns a consumer receiving a StateUpdate for every state change
// of every invocation. Close the consumer when done.
func (b *Bridge) Observe() *utils.BroadcastConsumer[*StateUpdate] {
	return b.updates.NewConsumer()
}

// Close stops delivery of state updates.
func (b *Bridge) Close() {
	b.updates.Close()
}

func (b *Bridge) Statistics() Stats {
	return Stats{
		TasksExecuted: b.executed.Load(),
		TasksFailed:   b.failed.Load(),
		ReturnsSealed: b.sealed.Load(),
		Puts:          b.puts.Load(),
		Gets:          b.gets.Load(),
		Submits:       b.submits.Load(),
	}
}
