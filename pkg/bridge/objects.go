package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/refcount"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// AddLocalReference prevents the object from being collected.
// Every call must be paired with a RemoveLocalReference.
func (b *Bridge) AddLocalReference(id ids.ObjectID) error {
	return utils.GrpcError(b.core.AddLocalReference(id))
}

func (b *Bridge) RemoveLocalReference(id ids.ObjectID) error {
	return utils.GrpcError(b.core.RemoveLocalReference(id))
}

// Acquire adds a local reference and returns a guard removing it again.
func (b *Bridge) Acquire(id ids.ObjectID) (*refcount.Reference, error) {
	if err := b.AddLocalReference(id); err != nil {
		return nil, err
	}
	return refcount.NewReference(id, b.RemoveLocalReference), nil
}

// Get waits for objects and returns their values in request order.
//
// A negative timeout waits until all objects are available or ctx is done.
// A zero timeout returns immediately. If any object is unavailable when the
// timeout expires the whole call fails with codes.DeadlineExceeded, other
// store errors are reported with their own codes.
//
// The returned values own their memory and must be released by the caller.
func (b *Bridge) Get(ctx context.Context, objectIDs []ids.ObjectID, timeout time.Duration) ([]buffer.DataValue, error) {
	b.gets.Add(1)

	objects, err := b.core.Get(ctx, objectIDs, timeout)
	if err != nil {
		return nil, utils.GrpcError(err)
	}
	if len(objects) != len(objectIDs) {
		return nil, utils.GrpcError(fmt.Errorf("%w: got %d objects for %d ids", utils.ErrStoreFailure, len(objects), len(objectIDs)))
	}

	values := make([]buffer.DataValue, len(objects))
	for i, obj := range objects {
		values[i] = obj.Value().Clone(b.mem)
	}
	return values, nil
}

// Put copies a value into the store. The caller holds one local reference
// to the new object and must remove it when done.
//
// If the object was stored but the reference could not be added, its id is
// returned together with the error and the caller must add the reference
// itself before the object can be collected.
func (b *Bridge) Put(value buffer.DataValue) (ids.ObjectID, error) {
	b.puts.Add(1)

	id, err := b.core.Put(value, b.core.ContainedObjectIDs(value))
	if err != nil {
		return ids.ObjectID{}, utils.GrpcError(err)
	}

	if err := b.core.AddLocalReference(id); err != nil {
		log.Warnf("Object %s stored without a reference: %v", id.Hex(), err)
		return id, utils.GrpcError(err)
	}
	return id, nil
}

type submitOptions struct {
	options  task.Options
	strategy task.SchedulingStrategy
}

type SubmitOption func(*submitOptions)

func WithName(name string) SubmitOption {
	return func(o *submitOptions) {
		o.options.Name = name
	}
}

func WithMaxRetries(retries int) SubmitOption {
	return func(o *submitOptions) {
		o.options.MaxRetries = retries
	}
}

func WithConcurrencyGroup(group string) SubmitOption {
	return func(o *submitOptions) {
		o.options.ConcurrencyGroup = group
	}
}

// WithPlacementGroup places the task in a bundle of a placement group.
func WithPlacementGroup(id ids.PlacementGroupID, bundleIndex int, captureChildTasks bool) SubmitOption {
	return func(o *submitOptions) {
		o.strategy.PlacementGroup = &task.PlacementGroup{
			ID:                id,
			BundleIndex:       bundleIndex,
			CaptureChildTasks: captureChildTasks,
		}
	}
}

// Submit a normal task and return the ids of its numReturns return values
// in declaration order. The returned objects are not sealed until the task
// has run.
//
// The owner of every by-reference argument is looked up when the task is
// submitted, any owner already present in the argument is ignored.
func (b *Bridge) Submit(function string, args []task.Arg, numReturns int, resources task.Resources, opts ...SubmitOption) ([]ids.ObjectID, error) {
	b.submits.Add(1)

	o := submitOptions{
		options: task.Options{
			NumReturns: numReturns,
			Resources:  resources,
			MaxRetries: 1,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	resolved := make([]task.Arg, len(args))
	for i, arg := range args {
		id, _, ok := arg.Reference()
		if !ok {
			resolved[i] = arg
			continue
		}

		owner, err := b.core.GetOwnerAddress(id)
		if err != nil {
			return nil, utils.GrpcError(fmt.Errorf("argument %d: %w", i, err))
		}
		resolved[i] = arg.WithOwner(owner)
	}

	returnIDs, err := b.core.SubmitTask(task.FunctionDescriptor{Name: function}, resolved, o.options, o.strategy)
	if err != nil {
		return nil, utils.GrpcError(err)
	}

	if len(returnIDs) != numReturns {
		violation("submit", "runtime returned %d ids for %d returns", len(returnIDs), numReturns)
	}
	return returnIDs, nil
}
