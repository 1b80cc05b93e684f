package display

import (
	"sync"
	"time"
)

// Snapshot is what the operator screen currently shows.
type Snapshot struct {
	Text      string    `json:"text"`
	Flashes   uint64    `json:"flashes"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Buffer holds the terminal display line. The controller writes it and the
// HTTP API polls it, so every method is safe for concurrent use.
type Buffer struct {
	mu      sync.RWMutex
	snap    Snapshot
	now     func() time.Time
	watcher chan struct{}
}

// NewBuffer returns an empty display.
func NewBuffer() *Buffer {
	return &Buffer{now: time.Now, watcher: make(chan struct{})}
}

// SetText replaces the display line.
func (b *Buffer) SetText(text string) {
	b.mu.Lock()
	b.snap.Text = text
	b.snap.UpdatedAt = b.now()
	b.notifyLocked()
	b.mu.Unlock()
}

// Flash raises the attention signal. Clients compare the flash counter to
// detect new flashes.
func (b *Buffer) Flash() {
	b.mu.Lock()
	b.snap.Flashes++
	b.snap.UpdatedAt = b.now()
	b.notifyLocked()
	b.mu.Unlock()
}

// Snapshot returns the current display state.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// Changed returns a channel closed on the next SetText or Flash.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.watcher
}

func (b *Buffer) notifyLocked() {
	close(b.watcher)
	b.watcher = make(chan struct{})
}
