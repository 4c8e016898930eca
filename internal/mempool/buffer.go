// Package mempool pools the byte buffers that hold uploaded rasters while
// they are analyzed and staged.
package mempool

import (
	"bytes"
	"io"
	"sync"
)

// MaxPooledSize is the largest buffer capacity kept for reuse. Bigger
// buffers are left to the garbage collector.
const MaxPooledSize = 32 << 20

var buffers = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// GetBuffer returns an empty buffer from the pool.
// The caller must return it via PutBuffer when done.
func GetBuffer() *bytes.Buffer {
	buf, ok := buffers.Get().(*bytes.Buffer)
	if !ok {
		return new(bytes.Buffer)
	}
	return buf
}

// PutBuffer returns buf to the pool. It is safe to pass nil.
// Slices obtained from buf.Bytes() must not be used afterwards.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > MaxPooledSize {
		return
	}
	buf.Reset()
	buffers.Put(buf)
}

// ReadAll reads r into a pooled buffer. On error the buffer has already
// been returned to the pool and nil is returned.
func ReadAll(r io.Reader) (*bytes.Buffer, error) {
	buf := GetBuffer()
	if _, err := buf.ReadFrom(r); err != nil {
		PutBuffer(buf)
		return nil, err
	}
	return buf, nil
}
