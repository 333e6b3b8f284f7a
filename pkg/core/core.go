// Package core declares the runtime operations the bridge relies on.
//
// A CoreWorker is the runtime side of a worker process. It owns the object
// store, the reference table and the scheduler connection. The bridge never
// implements any of these operations itself, it only calls them in the right
// order.
package core

import (
	"context"
	"time"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/task"
)

// Metadata of objects that hold the error of a failed task instead of a value.
const ErrorMeta = "ERROR"

// Object is a sealed object read from the store.
// Data and Meta are borrowed and stay valid until the object is deleted.
type Object struct {
	ID        ids.ObjectID
	Data      *buffer.Buffer
	Meta      *buffer.Buffer
	Contained []ids.ObjectID
}

func (o *Object) Value() buffer.DataValue {
	return buffer.DataValue{Data: o.Data, Meta: o.Meta}
}

// True if the object holds a task error.
func (o *Object) IsError() bool {
	return string(o.Meta.Bytes()) == ErrorMeta
}

// ReturnObject is store space reserved for a task return value.
// Data is writable and exactly as large as requested.
type ReturnObject struct {
	ID        ids.ObjectID
	Data      *buffer.Buffer
	Meta      *buffer.Buffer
	Contained []ObjectReference

	// True if the value travels with the task reply instead of the store.
	Inlined bool
}

// ObjectReference is an object id together with the address of its owner.
type ObjectReference struct {
	ID    ids.ObjectID
	Owner task.Address
}

// ReferenceIDs returns the object ids of references.
func ReferenceIDs(refs []ObjectReference) []ids.ObjectID {
	if len(refs) == 0 {
		return nil
	}
	out := make([]ids.ObjectID, len(refs))
	for i, ref := range refs {
		out[i] = ref.ID
	}
	return out
}

// TaskHandler executes a task dispatched to this worker.
// Args are already resolved to concrete bytes.
type TaskHandler func(ctx context.Context, spec *task.Spec, args []*Object) error

type CoreWorker interface {
	// Reserves store space for a return value. The inlined counter accumulates
	// the bytes of all returns of the same task that were inlined so far.
	AllocateReturnObject(id ids.ObjectID, size int, meta *buffer.Buffer, contained []ObjectReference, inlined *int64) (*ReturnObject, error)

	// Makes a return object visible to readers.
	SealReturnObject(obj *ReturnObject) error

	// Converts contained object ids to references with owner addresses.
	GetObjectRefs(contained []ids.ObjectID) ([]ObjectReference, error)

	// Finds object ids embedded in a value.
	ContainedObjectIDs(value buffer.DataValue) []ids.ObjectID

	GetOwnerAddress(id ids.ObjectID) (task.Address, error)

	// Waits for objects. A negative timeout waits until ctx is done, zero
	// checks once.
	Get(ctx context.Context, ids []ids.ObjectID, timeout time.Duration) ([]*Object, error)

	// Copies a value into the store and returns the new object's id.
	Put(value buffer.DataValue, contained []ids.ObjectID) (ids.ObjectID, error)

	// Schedules a task and returns its return ids.
	SubmitTask(fn task.FunctionDescriptor, args []task.Arg, opts task.Options, strategy task.SchedulingStrategy) ([]ids.ObjectID, error)

	AddLocalReference(id ids.ObjectID) error
	RemoveLocalReference(id ids.ObjectID) error
}
