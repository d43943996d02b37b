package logstream

import (
	"sync"

	"botdash/internal/model"
)

// DefaultCapacity is the number of entries a Buffer keeps.
const DefaultCapacity = 100

// Buffer is a fixed-capacity ring of log entries. Once full, adding an entry
// evicts the oldest one.
type Buffer struct {
	mu      sync.Mutex
	entries []model.LogEntry
	next    int
	size    int
}

// NewBuffer creates a Buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]model.LogEntry, capacity)}
}

// Add stores e as the newest entry.
func (b *Buffer) Add(e model.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.size < len(b.entries) {
		b.size++
	}
}

// Entries returns a copy of the stored entries, newest first.
func (b *Buffer) Entries() []model.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.LogEntry, 0, b.size)
	for i := 1; i <= b.size; i++ {
		idx := (b.next - i + len(b.entries)) % len(b.entries)
		out = append(out, b.entries[idx])
	}
	return out
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.entries)
}

// Clear drops all entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
	b.next = 0
	b.size = 0
}
