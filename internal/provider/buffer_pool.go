package provider

import (
	"bytes"
	"sync"
)

// maxPooledBuffer caps the buffers kept for reuse. Prediction payloads are a
// prompt plus a handful of numbers, so anything larger is an outlier.
const maxPooledBuffer = 16 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// getBuffer returns an empty buffer; release it with putBuffer
func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= maxPooledBuffer {
		bufferPool.Put(buf)
	}
}
