package local

import (
	"context"
	"fmt"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/core"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// SubmitTask schedules a normal task on this worker and returns its return
// ids. The caller owns the returned objects and holds one local reference to
// each of them.
func (c *CoreWorker) SubmitTask(fn task.FunctionDescriptor, args []task.Arg, opts task.Options, strategy task.SchedulingStrategy) ([]ids.ObjectID, error) {
	if fn.Name == "" {
		return nil, fmt.Errorf("%w: empty function name", utils.ErrBadRequest)
	}
	if opts.NumReturns < 0 {
		return nil, fmt.Errorf("%w: negative number of returns", utils.ErrBadRequest)
	}
	if err := opts.Resources.Validate(); err != nil {
		return nil, err
	}
	if !c.config.Node.Fulfills(opts.Resources) {
		return nil, fmt.Errorf("%w: %s requires %v", utils.ErrUnschedulable, fn.Name, opts.Resources)
	}
	if !strategy.IsDefault() {
		log.Debugf("Placement group %s ignored, all tasks run on this worker", strategy)
	}

	spec := &task.Spec{
		ID:               ids.NewTaskID(c.config.JobID),
		Type:             task.Normal,
		Function:         fn,
		Args:             make([]task.Arg, len(args)),
		ReturnIDs:        make([]ids.ObjectID, opts.NumReturns),
		Resources:        opts.Resources.Clone(),
		Strategy:         strategy,
		ConcurrencyGroup: opts.ConcurrencyGroup,
		MaxRetries:       opts.MaxRetries,
		Caller:           c.address,
	}

	// Values are copied since the task outlives the caller's buffers.
	// Referenced objects are pinned until the task has finished.
	for i, arg := range args {
		if value, ok := arg.Value(); ok {
			spec.Args[i] = task.ByValue(value.Clone(c.config.Allocator))
			continue
		}
		id, _, _ := arg.Reference()
		c.refs.Add(id)
		spec.Args[i] = arg
	}

	c.mu.Lock()
	for i := range spec.ReturnIDs {
		spec.ReturnIDs[i] = ids.ObjectIDForReturn(spec.ID, i)
		c.owners[spec.ReturnIDs[i]] = c.address
	}
	c.mu.Unlock()

	for _, id := range spec.ReturnIDs {
		c.refs.Add(id)
	}

	c.submitted.Add(1)
	log.Debugf("Submitted task %s", spec)

	if !c.pool.Submit(func() { c.run(spec) }) {
		c.failed.Add(1)
		c.fail(spec, fmt.Errorf("worker stopped: %w", context.Canceled))
		c.releaseArgs(spec)
	}

	return append([]ids.ObjectID(nil), spec.ReturnIDs...), nil
}

func (c *CoreWorker) run(spec *task.Spec) {
	defer c.releaseArgs(spec)

	err := c.execute(spec)
	if err == nil {
		c.finished.Add(1)
		log.Debugf("Task %s finished", spec.ID.Hex())
		return
	}

	c.failed.Add(1)
	log.Warnf("Task %s (%s) failed: %v", spec.ID.Hex(), spec.Function.Name, err)
	c.fail(spec, err)
}

func (c *CoreWorker) execute(spec *task.Spec) error {
	handler := c.handler.Load()
	if handler == nil {
		return fmt.Errorf("no task handler installed")
	}

	args, err := c.resolve(spec)
	if err != nil {
		return err
	}

	return (*handler)(c.ctx, spec, args)
}

// Converts arguments to objects, waiting for referenced objects as long
// as necessary.
func (c *CoreWorker) resolve(spec *task.Spec) ([]*core.Object, error) {
	args := make([]*core.Object, len(spec.Args))

	var refs []ids.ObjectID
	var positions []int

	for i, arg := range spec.Args {
		if value, ok := arg.Value(); ok {
			args[i] = &core.Object{Data: value.Data, Meta: value.Meta}
			continue
		}
		id, _, _ := arg.Reference()
		refs = append(refs, id)
		positions = append(positions, i)
	}

	if len(refs) == 0 {
		return args, nil
	}

	objects, err := c.Get(c.ctx, refs, -1)
	if err != nil {
		return nil, fmt.Errorf("resolving arguments: %w", err)
	}
	for i, obj := range objects {
		args[positions[i]] = obj
	}
	return args, nil
}

// Seals an error object for every return value that was not sealed,
// so that readers do not wait forever.
func (c *CoreWorker) fail(spec *task.Spec, cause error) {
	message := []byte(cause.Error())
	meta := []byte(core.ErrorMeta)

	for _, id := range spec.ReturnIDs {
		c.mu.Lock()
		w, ok := c.writers[id]
		delete(c.writers, id)
		c.mu.Unlock()

		if ok {
			w.Abort()
		}
		if c.store.Contains(id) {
			continue
		}

		err := c.store.Put(id, buffer.BorrowValue(message, meta), nil)
		if err != nil {
			log.Debugf("Failed to store error of %s: %v", id.Hex(), err)
		}
	}
}

func (c *CoreWorker) releaseArgs(spec *task.Spec) {
	for _, arg := range spec.Args {
		if value, ok := arg.Value(); ok {
			value.Release()
			continue
		}
		id, _, _ := arg.Reference()
		if _, err := c.refs.Remove(id); err != nil {
			log.Debugf("Releasing argument %s: %v", id.Hex(), err)
		}
	}
}

var _ core.CoreWorker = (*CoreWorker)(nil)
