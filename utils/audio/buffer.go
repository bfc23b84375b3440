package audio

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when the buffer exceeds its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// Buffer accumulates audio chunks until flushed. A zero maxSize means
// unbounded.
type Buffer struct {
	mu        sync.Mutex
	chunks    [][]byte
	totalSize int
	maxSize   int
}

func NewBuffer(maxSize int) *Buffer {
	return &Buffer{maxSize: maxSize}
}

// Append adds an audio chunk to the buffer. Returns ErrBufferFull if adding
// the chunk would exceed maxSize.
func (b *Buffer) Append(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	newSize := b.totalSize + len(chunk)
	if b.maxSize > 0 && newSize > b.maxSize {
		return ErrBufferFull
	}
	b.chunks = append(b.chunks, chunk)
	b.totalSize = newSize
	return nil
}

// Flush concatenates all chunks in order and clears the buffer.
func (b *Buffer) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return nil
	}
	result := make([]byte, 0, b.totalSize)
	for _, chunk := range b.chunks {
		result = append(result, chunk...)
	}
	b.chunks = nil
	b.totalSize = 0
	return result
}

// Clear empties the buffer without returning data
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.totalSize = 0
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

func (b *Buffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
