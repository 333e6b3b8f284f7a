package bridge

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

type State int

const (
	Idle State = iota
	Marshaling
	ForeignExecuting
	Sealing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Marshaling:
		return "Marshaling"
	case ForeignExecuting:
		return "ForeignExecuting"
	case Sealing:
		return "Sealing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateUpdate is posted to observers when an invocation changes state.
type StateUpdate struct {
	TaskID ids.TaskID
	State  State
}

// Invocation is a task dispatched to this worker.
type Invocation struct {
	TaskID   ids.TaskID
	Type     task.Type
	Function task.FunctionDescriptor

	// Not interpreted, placement is already decided.
	Resources task.Resources

	// Resolved arguments in declaration order.
	Args []*core.Object

	// One id per return value, in declaration order.
	ReturnIDs []ids.ObjectID

	// Carried through, not interpreted.
	ConcurrencyGroup string
}

func (b *Bridge) handle(ctx context.Context, spec *task.Spec, args []*core.Object) error {
	return b.Execute(ctx, &Invocation{
		TaskID:           spec.ID,
		Type:             spec.Type,
		Function:         spec.Function,
		Resources:        spec.Resources,
		Args:             args,
		ReturnIDs:        spec.ReturnIDs,
		ConcurrencyGroup: spec.ConcurrencyGroup,
	})
}

type execution struct {
	bridge *Bridge
	inv    *Invocation
	state  State
}

func (x *execution) transition(next State) {
	log.Tracef("Task %s: %s -> %s", x.inv.TaskID.Hex(), x.state, next)
	x.state = next
	if x.bridge.updates.HasConsumer() {
		x.bridge.updates.Send(&StateUpdate{TaskID: x.inv.TaskID, State: next})
	}
}

// Execute runs a task with the registered executor and seals one return
// object per return id.
//
// Arguments are passed to the executor as borrowed views which end when
// Execute returns. Return objects are allocated and sealed one at a time in
// return id order. If allocating or sealing fails, the remaining returns are
// skipped and the failure is returned as a status error. Returns that were
// already sealed stay visible.
//
// Execute panics with a *ProtocolError if no executor is registered or if the
// executor leaves an output slot empty.
func (b *Bridge) Execute(ctx context.Context, inv *Invocation) error {
	executor := b.executor.Load()
	if executor == nil {
		violation("execute", "task %s dispatched before an executor was registered", inv.Function)
	}

	x := &execution{bridge: b, inv: inv, state: Idle}
	defer x.transition(Idle)

	x.transition(Marshaling)
	names := inv.Function.Names()
	args := marshalArgs(inv.Args)
	outputs := buffer.NewSlice[buffer.DataValue](len(inv.ReturnIDs))
	defer release(args)
	defer release(outputs)

	x.transition(ForeignExecuting)
	if err := (*executor).Execute(ctx, inv.Type, names, args, outputs); err != nil {
		b.failed.Add(1)
		return utils.GrpcError(fmt.Errorf("%w: %s: %v", utils.ErrTaskFailed, inv.Function, err))
	}

	for i := 0; i < outputs.Len(); i++ {
		if outputs.At(i).Data == nil {
			violation("execute", "%s left output %d of %d empty", inv.Function, i, outputs.Len())
		}
	}

	x.transition(Sealing)
	if err := b.seal(inv.ReturnIDs, outputs); err != nil {
		b.failed.Add(1)
		log.Warnf("Task %s: %v", inv.TaskID.Hex(), err)
		return utils.GrpcError(err)
	}

	b.executed.Add(1)
	return nil
}

func marshalArgs(objects []*core.Object) buffer.Slice[buffer.DataValue] {
	args := buffer.NewSlice[buffer.DataValue](len(objects))
	for i, obj := range objects {
		value := buffer.DataValue{Data: buffer.Borrow(obj.Data.Bytes())}
		if obj.Meta.Len() > 0 {
			value.Meta = buffer.Borrow(obj.Meta.Bytes())
		}
		args.Set(i, value)
	}
	return args
}

// Releases every value. Values shared between slots are released once.
func release(values buffer.Slice[buffer.DataValue]) {
	for _, value := range values.Elems() {
		if !value.Data.Released() {
			value.Data.Release()
		}
		if !value.Meta.Released() {
			value.Meta.Release()
		}
	}
}

// Allocates and seals return objects in return id order. The inlined byte
// counter starts at zero and is shared by all returns of the task.
func (b *Bridge) seal(returnIDs []ids.ObjectID, outputs buffer.Slice[buffer.DataValue]) error {
	var inlined int64

	for i, id := range returnIDs {
		if err := b.sealOne(id, outputs.At(i), &inlined); err != nil {
			return fmt.Errorf("return %d (%s): %w", i, id.Hex(), err)
		}
		b.sealed.Add(1)
	}
	return nil
}

func (b *Bridge) sealOne(id ids.ObjectID, value buffer.DataValue, inlined *int64) error {
	refs, err := b.core.GetObjectRefs(b.core.ContainedObjectIDs(value))
	if err != nil {
		return err
	}

	var meta *buffer.Buffer
	if value.HasMeta() {
		meta = value.Meta
	}

	obj, err := b.core.AllocateReturnObject(id, value.Data.Len(), meta, refs, inlined)
	if err != nil {
		return err
	}

	if obj.Data.Len() != value.Data.Len() {
		return fmt.Errorf("%w: allocated %d bytes for a %d byte value", utils.ErrStoreFailure, obj.Data.Len(), value.Data.Len())
	}
	copy(obj.Data.Bytes(), value.Data.Bytes())

	return b.core.SealReturnObject(obj)
}
