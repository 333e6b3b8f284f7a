package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/srand/jolt/bridge/pkg/utils"
)

const ContentTypeProto = "application/x-protobuf"

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a codec for protobuf messages with deterministic marshaling.
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
	}
}

func (protoCodec) ContentType() string { return ContentTypeProto }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a protobuf message", utils.ErrBadRequest, v)
	}
	return p.mo.Marshal(msg)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T is not a protobuf message", utils.ErrBadRequest, v)
	}
	return p.uo.Unmarshal(data, msg)
}
