package chat

import (
	"sync"

	"github.com/kinber/kinber/internal/models"
)

// Entry is one visible message.
type Entry struct {
	Role        string                 `json:"role"`
	Content     string                 `json:"content"`
	Attachments []models.AttachmentRef `json:"attachments,omitempty"`
	Fallback    bool                   `json:"fallback,omitempty"`
}

// Transcript is the visible conversation. Once closed it ignores appends.
type Transcript struct {
	mu       sync.Mutex
	entries  []Entry
	closed   bool
	onUpdate func([]Entry)
}

// NewTranscript returns an empty transcript. onUpdate, when set, receives a
// snapshot after every change.
func NewTranscript(onUpdate func([]Entry)) *Transcript {
	return &Transcript{onUpdate: onUpdate}
}

// Append adds e and reports whether it was kept.
func (t *Transcript) Append(e Entry) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.entries = append(t.entries, e)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.emit(snapshot)
	return true
}

// Replace swaps the whole conversation.
func (t *Transcript) Replace(entries []Entry) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.entries = append([]Entry(nil), entries...)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.emit(snapshot)
}

// Entries returns a copy of the conversation.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Close stops accepting changes.
func (t *Transcript) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *Transcript) snapshotLocked() []Entry {
	return append([]Entry(nil), t.entries...)
}

func (t *Transcript) emit(snapshot []Entry) {
	if t.onUpdate != nil {
		t.onUpdate(snapshot)
	}
}
