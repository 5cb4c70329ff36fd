package mqtt5

import "sync"

// maxPooledBuffer caps the capacity of encode buffers returned to the pool.
const maxPooledBuffer = 64 << 10

var (
	readerPool = sync.Pool{New: func() any { return new(bytesReader) }}
	bufferPool = sync.Pool{New: func() any { return new(bytesBuffer) }}
)

func getBytesReader(data []byte) *bytesReader {
	r := readerPool.Get().(*bytesReader)
	r.data, r.pos = data, 0
	return r
}

func putBytesReader(r *bytesReader) {
	r.data, r.pos = nil, 0
	readerPool.Put(r)
}

func getBytesBuffer() *bytesBuffer {
	b := bufferPool.Get().(*bytesBuffer)
	b.data = b.data[:0]
	return b
}

func putBytesBuffer(b *bytesBuffer) {
	if cap(b.data) > maxPooledBuffer {
		return
	}
	bufferPool.Put(b)
}
