package recorder

import "sync"

// ChunkBuffer accumulates encoded fragments of one recording in arrival
// order. It implements io.Writer so an encoder can write into it directly.
type ChunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

// Write appends a copy of p as one fragment. Empty writes are ignored.
func (b *ChunkBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c := make([]byte, len(p))
	copy(c, p)
	b.mu.Lock()
	b.chunks = append(b.chunks, c)
	b.size += len(c)
	b.mu.Unlock()
	return len(p), nil
}

// Len returns the number of fragments held.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size returns the total byte count across fragments.
func (b *ChunkBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Assemble concatenates every fragment in arrival order.
func (b *ChunkBuffer) Assemble() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.size = 0
	b.mu.Unlock()
}
