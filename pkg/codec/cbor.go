package codec

import (
	cbor "github.com/fxamacker/cbor/v2"
)

const ContentTypeCBOR = "application/cbor"

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

type cborCodec struct{}

// CBOR returns a codec producing canonical CBOR, so equal values always
// encode to equal bytes.
func CBOR() Codec { return cborCodec{} }

func (cborCodec) ContentType() string                { return ContentTypeCBOR }
func (cborCodec) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cborDec.Unmarshal(data, v) }
