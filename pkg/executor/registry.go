// Package executor runs tasks implemented as Go functions.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// Func implements a task. It receives the task's arguments and returns one
// value per return id. Argument buffers are only valid until the function
// returns, returned values must not be released by the function.
type Func func(ctx context.Context, args []buffer.DataValue) ([]buffer.DataValue, error)

// Registry maps function names to Go functions and executes tasks naming
// them. It implements bridge.Executor.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry holding the builtin functions.
func NewRegistry() *Registry {
	r := &Registry{funcs: map[string]Func{}}
	r.Register("identity", Identity)
	r.Register("concat", Concat)
	return r
}

// Register a function, replacing any function with the same name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.funcs[name]; ok {
		log.Debugf("Replacing function %s", name)
	}
	r.funcs[name] = fn
}

func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: function %s", utils.ErrNotFound, name)
	}
	return fn, nil
}

// Names of all registered functions in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Execute(ctx context.Context, typ task.Type, names buffer.Slice[string], args, outputs buffer.Slice[buffer.DataValue]) error {
	if typ != task.Normal {
		return fmt.Errorf("%w: %s tasks are not supported", utils.ErrBadRequest, typ)
	}
	if names.Len() != 1 {
		return fmt.Errorf("%w: expected one function name, got %d", utils.ErrBadRequest, names.Len())
	}

	name := names.At(0)
	fn, err := r.Lookup(name)
	if err != nil {
		return err
	}

	results, err := fn(ctx, args.Elems())
	if err != nil {
		return err
	}
	if len(results) != outputs.Len() {
		return fmt.Errorf("%w: %s returned %d values for %d returns", utils.ErrBadRequest, name, len(results), outputs.Len())
	}

	for i, result := range results {
		if result.Data == nil {
			return fmt.Errorf("%w: %s returned no data for value %d", utils.ErrBadRequest, name, i)
		}
		outputs.Set(i, result)
	}
	return nil
}
