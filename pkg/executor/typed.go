package executor

import (
	"context"
	"fmt"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/codec"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// Typed adapts a function on decoded values to a Func.
//
// Each argument is decoded with the codec named by its metadata, arguments
// without metadata use the codec for contentType. The result is encoded with
// the codec for contentType, which is also stored as the metadata of the
// result.
func Typed[A, R any](codecs *codec.Registry, contentType string, fn func(ctx context.Context, args []A) (R, error)) Func {
	return func(ctx context.Context, args []buffer.DataValue) ([]buffer.DataValue, error) {
		out, err := codecs.Get(contentType)
		if err != nil {
			return nil, err
		}

		decoded := make([]A, len(args))
		for i, arg := range args {
			c := out
			if arg.HasMeta() {
				if c, err = codecs.Get(string(arg.Meta.Bytes())); err != nil {
					return nil, fmt.Errorf("argument %d: %w", i, err)
				}
			}
			if err := c.Unmarshal(arg.Data.Bytes(), &decoded[i]); err != nil {
				return nil, fmt.Errorf("%w: argument %d: %v", utils.ErrParse, i, err)
			}
		}

		result, err := fn(ctx, decoded)
		if err != nil {
			return nil, err
		}

		data, err := out.Marshal(result)
		if err != nil {
			return nil, err
		}
		return []buffer.DataValue{buffer.BorrowValue(data, []byte(contentType))}, nil
	}
}
