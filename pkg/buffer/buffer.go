// Package buffer holds the memory views exchanged between the runtime and a
// task executor.
//
// Every Buffer records whether it owns its memory. Borrowed buffers are views
// over memory that somebody else manages and are only valid for the call that
// handed them out. Owned buffers are backed by an arrow allocator and must be
// released exactly once.
package buffer

import (
	"sync/atomic"

	"github.com/apache/arrow/go/v11/arrow/memory"

	"github.com/srand/jolt/bridge/pkg/utils"
)

type Allocator = memory.Allocator

// Allocator used when callers pass nil.
var DefaultAllocator Allocator = memory.DefaultAllocator

type Buffer struct {
	buf      *memory.Buffer
	owned    bool
	released atomic.Bool
}

// Borrow wraps memory owned by the caller. Releasing the buffer drops the
// view but never frees the memory.
func Borrow(data []byte) *Buffer {
	return &Buffer{buf: memory.NewBufferBytes(data)}
}

// Allocate returns an owned, zero filled buffer of n bytes.
func Allocate(mem Allocator, n int) *Buffer {
	if mem == nil {
		mem = DefaultAllocator
	}
	buf := memory.NewResizableBuffer(mem)
	buf.Resize(n)
	return &Buffer{buf: buf, owned: true}
}

// Copy returns an owned copy of data.
func Copy(mem Allocator, data []byte) *Buffer {
	b := Allocate(mem, len(data))
	copy(b.buf.Bytes(), data)
	return b
}

// Length of the buffer in bytes. A nil buffer is empty.
func (b *Buffer) Len() int {
	if b == nil || b.released.Load() {
		return 0
	}
	return b.buf.Len()
}

// Bytes returns exactly Len() bytes.
// Accessing a released buffer panics.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	if b.released.Load() {
		panic(utils.ErrReleased)
	}
	return b.buf.Bytes()
}

// True if the buffer owns its memory and frees it on release.
func (b *Buffer) Owned() bool {
	return b != nil && b.owned
}

// True once Release has been called.
func (b *Buffer) Released() bool {
	return b != nil && b.released.Load()
}

// Release the buffer. Owned memory is returned to its allocator.
// Only the first call has an effect, later calls return ErrReleased.
func (b *Buffer) Release() error {
	if b == nil {
		return nil
	}
	if !b.released.CompareAndSwap(false, true) {
		return utils.ErrReleased
	}
	if b.owned {
		b.buf.Release()
	}
	return nil
}
