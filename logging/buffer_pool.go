package logging

import (
	"bytes"
	"sync"
)

// maxPooledBuffer 超过该容量的 buffer 不再放回池中
const maxPooledBuffer = 64 << 10

// BufferPool 字节缓冲池，格式化器复用 buffer 以减少分配
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool 创建缓冲池
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Get 获取一个空 buffer
func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put 归还 buffer；过大的 buffer 直接丢弃
func (p *BufferPool) Put(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		return
	}
	b.Reset()
	p.pool.Put(b)
}

// Detach 复制 buffer 内容并归还 buffer
func (p *BufferPool) Detach(b *bytes.Buffer) []byte {
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	p.Put(b)
	return out
}

var formatBuffers = NewBufferPool()
