// Package thread owns the lifecycle of conversation threads: minting ids on
// first use, listing, renaming, searching and deleting them.
package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/models"
	"github.com/kinber/kinber/internal/notify"
)

// ErrInvalidID rejects thread ids that are not UUIDs before any remote call.
var ErrInvalidID = errors.New("thread: invalid thread id")

// ErrEmptyTitle rejects blank renames.
var ErrEmptyTitle = errors.New("thread: title must not be empty")

// ErrNoStore is returned by history operations of a Manager built without a
// store.
var ErrNoStore = errors.New("thread: no local store configured")

// Remote is the part of the agent backend that owns thread ids and history.
type Remote interface {
	CreateThread(ctx context.Context, auth backend.Auth, title string) (string, error)
	ThreadMessages(ctx context.Context, auth backend.Auth, threadID string) ([]backend.Message, error)
}

// PartialDeleteError reports a delete that removed a thread's messages but not
// the thread row. Calling Delete again finishes the job.
type PartialDeleteError struct {
	ThreadID  string
	Remaining string
	Err       error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("thread: delete %s incomplete, %s still pending: %v", e.ThreadID, e.Remaining, e.Err)
}

func (e *PartialDeleteError) Unwrap() error { return e.Err }

// Manager is the thread lifecycle for one chat screen. The thread id it mints
// is created at most once.
type Manager struct {
	remote Remote
	store  Store
	bus    *notify.Bus

	deleteAttempts int
	retryDelay     time.Duration

	mu      sync.Mutex // held across the create call
	current string
}

// NewManager returns a manager. store and bus may be nil; without a store
// Record is a no-op and the history operations return ErrNoStore.
func NewManager(remote Remote, store Store, bus *notify.Bus) *Manager {
	return &Manager{
		remote:         remote,
		store:          store,
		bus:            bus,
		deleteAttempts: 3,
		retryDelay:     250 * time.Millisecond,
	}
}

// Current returns the thread id in use, if any.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reset forgets the current thread so the next Ensure mints a new one.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.current = ""
	m.mu.Unlock()
}

// Ensure returns the thread to post into. A supplied id is reused and becomes
// current. Otherwise the current id is returned, or a new thread is created.
// Concurrent callers wait on one create call and share its id.
func (m *Manager) Ensure(ctx context.Context, existingID string, auth backend.Auth) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID != "" {
		m.current = existingID
		return existingID, nil
	}
	if m.current != "" {
		return m.current, nil
	}

	id, err := m.remote.CreateThread(ctx, auth, models.DefaultThreadTitle)
	if err != nil {
		return "", fmt.Errorf("thread: create: %w", err)
	}
	m.current = id

	if m.store != nil {
		t := &models.Thread{ThreadID: id, Title: models.DefaultThreadTitle}
		if auth.UserID != "" {
			uid := auth.UserID
			t.AccountID = &uid
		}
		if err := m.store.Upsert(ctx, t); err != nil {
			log := logging.For("thread")
			log.Warn().Err(err).Str("thread", id).Msg("local thread record not saved")
		}
	}
	m.bus.Publish(notify.TopicThreadCreated, id)
	return id, nil
}

// Record stores a message of thread id locally. Failures are logged; the
// conversation itself lives in the backend.
func (m *Manager) Record(ctx context.Context, msg models.Message) {
	if m.store == nil {
		return
	}
	if err := m.store.AddMessage(ctx, &msg); err != nil {
		log := logging.For("thread")
		log.Warn().Err(err).Str("thread", msg.ThreadID).Msg("message not recorded")
	}
}

// ListRecent returns up to limit threads, most recently updated first, with
// their message counts.
func (m *Manager) ListRecent(ctx context.Context, limit int) ([]Summary, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	return m.store.ListRecent(ctx, limit)
}

// Search finds threads whose title or messages contain term.
func (m *Manager) Search(ctx context.Context, term string, limit int) ([]Summary, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	return m.store.Search(ctx, term, limit)
}

// Get returns the stored thread.
func (m *Manager) Get(ctx context.Context, id string) (*models.Thread, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	return m.store.Get(ctx, id)
}

// Rename retitles a thread. The title is trimmed and must not be empty.
func (m *Manager) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if m.store == nil {
		return ErrNoStore
	}
	return m.store.Rename(ctx, id, title)
}

// Delete removes a thread's messages and then the thread itself. A failing
// thread step is retried; if it keeps failing a *PartialDeleteError names the
// remaining step.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if m.store == nil {
		return ErrNoStore
	}
	if err := m.store.DeleteMessages(ctx, id); err != nil {
		return err
	}

	log := logging.For("thread")
	var err error
	for attempt := 1; attempt <= m.deleteAttempts; attempt++ {
		if err = m.store.DeleteThread(ctx, id); err == nil {
			break
		}
		log.Warn().Err(err).Str("thread", id).Int("attempt", attempt).Msg("thread delete failed")
		if attempt < m.deleteAttempts {
			select {
			case <-ctx.Done():
				return &PartialDeleteError{ThreadID: id, Remaining: "thread", Err: ctx.Err()}
			case <-time.After(m.retryDelay):
			}
		}
	}
	if err != nil {
		return &PartialDeleteError{ThreadID: id, Remaining: "thread", Err: err}
	}

	m.mu.Lock()
	if m.current == id {
		m.current = ""
	}
	m.mu.Unlock()
	return nil
}

// Messages loads a thread's history from the backend. Ids that are not UUIDs
// are rejected without a call.
func (m *Manager) Messages(ctx context.Context, id string, auth backend.Auth) ([]backend.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	msgs, err := m.remote.ThreadMessages(ctx, auth, id)
	if err != nil {
		return nil, fmt.Errorf("thread: load messages %s: %w", id, err)
	}
	return msgs, nil
}
