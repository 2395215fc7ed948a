// Package pool provides sync.Pool-backed buffer and gzip.Writer reuse for the
// ingestion pipeline's compression path, bounding per-batch allocation under
// sustained load.
package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// MaxBufferCap is the largest buffer capacity that is returned to BufferPool.
// A buffer grown past this (an unusually large batch) is left for the
// garbage collector instead of pinning that memory in the pool forever.
const MaxBufferCap = 1 << 20 // 1 MiB

var (
	// BufferPool holds byte buffers used to accumulate gzip output.
	BufferPool = sync.Pool{
		New: func() any { return bytes.NewBuffer(make([]byte, 0, 64*1024)) },
	}

	// GzipPool holds gzip.Writer values at BestSpeed, reset onto a fresh
	// buffer before each use.
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// GetBuffer returns a reset buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns buf to the pool unless it has grown unreasonably large.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// GetGzipWriter returns a gzip.Writer reset to write to w.
func GetGzipWriter(w *bytes.Buffer) *gzip.Writer {
	gz := GzipPool.Get().(*gzip.Writer)
	gz.Reset(w)
	return gz
}

// PutGzipWriter returns gz to the pool. Callers must Close gz first.
func PutGzipWriter(gz *gzip.Writer) {
	GzipPool.Put(gz)
}
