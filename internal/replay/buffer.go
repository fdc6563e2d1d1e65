package replay

import (
	"math/rand"
	"sync"
	"time"

	"alats/internal/model/enum"
)

// Entry is one (state, action, reward, next-state) experience tuple.
type Entry struct {
	Asset     string      `json:"asset"`
	Timestamp time.Time   `json:"timestamp"`
	State     []float64   `json:"state"`
	Action    enum.Action `json:"action"`
	Reward    float64     `json:"reward"`
	NextState []float64   `json:"nextState"`
}

// Buffer is a fixed-capacity ring; inserting into a full buffer evicts the
// oldest entry.
type Buffer struct {
	mu    sync.RWMutex
	buf   []Entry
	start int
	size  int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewBuffer allocates a buffer holding at most capacity entries.
func NewBuffer(capacity int, seed int64) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return &Buffer{
		buf: make([]Entry, capacity),
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Add appends e, evicting the oldest entry when full. It reports whether an
// entry was evicted.
func (b *Buffer) Add(e Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size < len(b.buf) {
		b.buf[(b.start+b.size)%len(b.buf)] = e
		b.size++
		return false
	}
	b.buf[b.start] = e
	b.start = (b.start + 1) % len(b.buf)
	return true
}

// Snapshot returns a copy of the entries, oldest first, as of the call.
func (b *Buffer) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.buf[(b.start+i)%len(b.buf)]
	}
	return out
}

// Sample returns up to n entries drawn uniformly without replacement from a
// consistent snapshot.
func (b *Buffer) Sample(n int) []Entry {
	entries := b.Snapshot()
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	if n >= len(entries) {
		return entries
	}
	b.rngMu.Lock()
	b.rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	b.rngMu.Unlock()
	return entries[:n]
}
