package tui

import (
	"bytes"
	"sync"
)

// Buffers that grew past this are dropped instead of pooled
const maxBufferCapacity = 256 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func acquireBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func releaseBuffer(b *bytes.Buffer) {
	if recycle(b) {
		bufferPool.Put(b)
	}
}

// recycle empties b for reuse, keeping its capacity, and reports whether it
// is small enough to pool
func recycle(b *bytes.Buffer) bool {
	if b == nil || b.Cap() > maxBufferCapacity {
		return false
	}
	b.Reset()
	return true
}

// bufferString returns the contents of b and releases it
func bufferString(b *bytes.Buffer) string {
	if b == nil {
		return ""
	}
	s := b.String()
	releaseBuffer(b)
	return s
}
