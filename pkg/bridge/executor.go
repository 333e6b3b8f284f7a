package bridge

import (
	"context"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/task"
)

// Executor runs task functions.
//
// Execute is called once per task with the function's name list, the task's
// arguments and one empty output slot per return value. The executor fills
// every output slot in place before returning. Argument buffers are borrowed
// and must not be used after Execute returns; values that need to outlive
// the call must be copied.
//
// ctx is cancelled when the worker shuts down. Executors should check it at
// convenient points, the bridge never interrupts a running executor.
type Executor interface {
	Execute(ctx context.Context, typ task.Type, names buffer.Slice[string], args buffer.Slice[buffer.DataValue], outputs buffer.Slice[buffer.DataValue]) error
}

// ExecutorFunc is an adapter to allow the use of ordinary functions as
// executors.
type ExecutorFunc func(ctx context.Context, typ task.Type, names buffer.Slice[string], args buffer.Slice[buffer.DataValue], outputs buffer.Slice[buffer.DataValue]) error

func (f ExecutorFunc) Execute(ctx context.Context, typ task.Type, names buffer.Slice[string], args buffer.Slice[buffer.DataValue], outputs buffer.Slice[buffer.DataValue]) error {
	return f(ctx, typ, names, args, outputs)
}
