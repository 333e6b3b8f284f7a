// Package codec encodes Go values to the bytes stored in objects.
//
// The content type of a codec is written to the metadata of every value it
// encodes, so readers can pick the matching codec.
package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/srand/jolt/bridge/pkg/utils"
)

type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct {
	sync.RWMutex
	byType map[string]Codec
}

// NewRegistry returns a registry with the JSON, CBOR and protobuf codecs.
func NewRegistry() *Registry {
	r := &Registry{byType: map[string]Codec{}}
	r.Register(JSON())
	r.Register(CBOR())
	r.Register(Proto())
	return r
}

// Register a codec, replacing any codec with the same content type.
func (r *Registry) Register(c Codec) {
	r.Lock()
	defer r.Unlock()
	r.byType[c.ContentType()] = c
}

// Get returns the codec for a content type.
func (r *Registry) Get(contentType string) (Codec, error) {
	r.RLock()
	defer r.RUnlock()

	c, ok := r.byType[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: no codec for content type %q", utils.ErrNotFound, contentType)
	}
	return c, nil
}

// ContentTypes returns the registered content types in sorted order.
func (r *Registry) ContentTypes() []string {
	r.RLock()
	defer r.RUnlock()

	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
