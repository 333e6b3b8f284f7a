package task

import (
	"fmt"
	"net"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// Field numbers of the address message.
const (
	addressNodeField   protowire.Number = 1
	addressIPField     protowire.Number = 2
	addressPortField   protowire.Number = 3
	addressWorkerField protowire.Number = 4
)

// Address is the network location of the worker owning an object.
type Address struct {
	NodeID   ids.NodeID
	IP       string
	Port     int32
	WorkerID ids.WorkerID
}

func (a Address) IsNil() bool {
	return a == Address{}
}

func (a Address) HostPort() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

func (a Address) String() string {
	if a.IsNil() {
		return "<nil>"
	}
	return fmt.Sprintf("%s@%s", a.WorkerID.Hex()[:8], a.HostPort())
}

// Marshal encodes the address in protobuf wire format.
func (a Address) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, addressNodeField, protowire.BytesType)
	b = protowire.AppendBytes(b, a.NodeID[:])
	if a.IP != "" {
		b = protowire.AppendTag(b, addressIPField, protowire.BytesType)
		b = protowire.AppendString(b, a.IP)
	}
	if a.Port != 0 {
		b = protowire.AppendTag(b, addressPortField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Port))
	}
	b = protowire.AppendTag(b, addressWorkerField, protowire.BytesType)
	b = protowire.AppendBytes(b, a.WorkerID[:])
	return b
}

// Unmarshal decodes an address in protobuf wire format.
// Unknown fields are skipped.
func (a *Address) Unmarshal(b []byte) error {
	var out Address

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: address: %v", utils.ErrParse, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == addressNodeField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: address node id: %v", utils.ErrParse, protowire.ParseError(n))
			}
			id, err := ids.NodeIDFromBinary(v)
			if err != nil {
				return err
			}
			out.NodeID = id
			b = b[n:]

		case num == addressIPField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("%w: address ip: %v", utils.ErrParse, protowire.ParseError(n))
			}
			out.IP = v
			b = b[n:]

		case num == addressPortField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: address port: %v", utils.ErrParse, protowire.ParseError(n))
			}
			out.Port = int32(v)
			b = b[n:]

		case num == addressWorkerField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: address worker id: %v", utils.ErrParse, protowire.ParseError(n))
			}
			id, err := ids.WorkerIDFromBinary(v)
			if err != nil {
				return err
			}
			out.WorkerID = id
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: address: %v", utils.ErrParse, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	*a = out
	return nil
}
