// Package scrollback holds the most recent output of a terminal session so
// it can be replayed when a client reattaches after a detach or a network
// outage.
package scrollback

import "sync"

// DefaultCap is the per-session scrollback budget in bytes.
const DefaultCap = 100 * 1024

// Buffer retains output chunks in arrival order up to a byte cap. When the
// total exceeds the cap the oldest whole chunks are evicted; chunks are
// never split, so the buffer may exceed the cap by at most the size of the
// most recent chunk. The newest chunk is always retained, even when it is
// larger than the cap on its own.
type Buffer struct {
	mu     sync.Mutex
	cap    int
	chunks [][]byte
	total  int
}

// New returns a buffer bounded by capBytes. A non-positive cap selects
// DefaultCap.
func New(capBytes int) *Buffer {
	if capBytes <= 0 {
		capBytes = DefaultCap
	}
	return &Buffer{cap: capBytes}
}

// Write appends a copy of chunk and evicts from the oldest end until the
// total fits the cap or only the new chunk remains. Empty chunks are ignored.
func (b *Buffer) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, c)
	b.total += len(c)
	for b.total > b.cap && len(b.chunks) > 1 {
		b.total -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
}

// Contents returns the concatenation of all retained chunks in arrival order.
func (b *Buffer) Contents() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Len returns the total number of retained bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Clear drops all retained chunks.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.total = 0
}
