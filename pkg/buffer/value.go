package buffer

import (
	"errors"
	"fmt"
)

// DataValue is a payload together with optional type metadata.
// A nil or empty Meta means there is no metadata.
type DataValue struct {
	Data *Buffer
	Meta *Buffer
}

// BorrowValue creates a value viewing caller owned memory.
// A nil meta results in a value without metadata.
func BorrowValue(data, meta []byte) DataValue {
	v := DataValue{Data: Borrow(data)}
	if meta != nil {
		v.Meta = Borrow(meta)
	}
	return v
}

// CopyValue creates a value owning copies of data and meta.
func CopyValue(mem Allocator, data, meta []byte) DataValue {
	v := DataValue{Data: Copy(mem, data)}
	if meta != nil {
		v.Meta = Copy(mem, meta)
	}
	return v
}

func (v DataValue) HasMeta() bool {
	return v.Meta.Len() > 0
}

// Clone returns a value owning copies of the payload and metadata.
func (v DataValue) Clone(mem Allocator) DataValue {
	c := DataValue{Data: Copy(mem, v.Data.Bytes())}
	if v.HasMeta() {
		c.Meta = Copy(mem, v.Meta.Bytes())
	}
	return c
}

// Release both buffers.
func (v DataValue) Release() error {
	return errors.Join(v.Data.Release(), v.Meta.Release())
}

func (v DataValue) String() string {
	return fmt.Sprintf("DataValue(data=%d bytes, meta=%d bytes)", v.Data.Len(), v.Meta.Len())
}

// Slice is a fixed length view over a collection of elements.
// Elements can be replaced in place but the slice never grows, so nothing is
// ever written beyond its capacity.
type Slice[T any] struct {
	elems []T
}

// NewSlice returns a slice of n zero valued, writable slots.
func NewSlice[T any](n int) Slice[T] {
	return Slice[T]{elems: make([]T, n)}
}

// SliceOf wraps elems without copying.
func SliceOf[T any](elems ...T) Slice[T] {
	return Slice[T]{elems: elems[:len(elems):len(elems)]}
}

func (s Slice[T]) Len() int {
	return len(s.elems)
}

func (s Slice[T]) Cap() int {
	return cap(s.elems)
}

func (s Slice[T]) At(i int) T {
	s.check(i)
	return s.elems[i]
}

// Set replaces the i:th element.
func (s Slice[T]) Set(i int, v T) {
	s.check(i)
	s.elems[i] = v
}

// Elems returns the elements. Appending to the result never writes into the
// slice's storage.
func (s Slice[T]) Elems() []T {
	return s.elems[:len(s.elems):len(s.elems)]
}

func (s Slice[T]) check(i int) {
	if i < 0 || i >= len(s.elems) {
		panic(fmt.Sprintf("buffer: slice index %d out of range [0:%d]", i, len(s.elems)))
	}
}
