package executor

import (
	"bytes"
	"context"

	"github.com/srand/jolt/bridge/pkg/buffer"
)

// Identity returns its arguments unchanged.
func Identity(ctx context.Context, args []buffer.DataValue) ([]buffer.DataValue, error) {
	return args, nil
}

// Concat joins the data of all arguments into a single value without
// metadata.
func Concat(ctx context.Context, args []buffer.DataValue) ([]buffer.DataValue, error) {
	var data bytes.Buffer
	for _, arg := range args {
		data.Write(arg.Data.Bytes())
	}
	return []buffer.DataValue{buffer.BorrowValue(data.Bytes(), nil)}, nil
}
