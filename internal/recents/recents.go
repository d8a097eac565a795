// Package recents is the presentation model behind the recent-threads
// sidebar. It keeps the list current from a realtime feed and applies renames
// and deletes optimistically.
package recents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/notify"
	"github.com/kinber/kinber/internal/realtime"
	"github.com/kinber/kinber/internal/thread"
)

// DefaultLimit is how many threads the sidebar shows.
const DefaultLimit = 20

// Source is the thread store behind the sidebar.
type Source interface {
	ListRecent(ctx context.Context, limit int) ([]thread.Summary, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
}

// Options configures a Sidebar.
type Options struct {
	Limit    int
	Notifier notify.Notifier
	// OnChange receives every new list. It is called without locks held.
	OnChange func([]thread.Summary)
}

// Sidebar holds the recents list.
type Sidebar struct {
	src      Source
	feed     realtime.Feed
	limit    int
	notifier notify.Notifier
	onChange func([]thread.Summary)

	mu         sync.Mutex
	items      []thread.Summary
	closed     bool
	refreshing bool
	again      bool
	ctx        context.Context
	cancel     context.CancelFunc
	unsub      func()
}

// New returns a sidebar. feed may be nil for a list that only refreshes on
// demand.
func New(src Source, feed realtime.Feed, opts Options) *Sidebar {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	return &Sidebar{
		src:      src,
		feed:     feed,
		limit:    opts.Limit,
		notifier: opts.Notifier,
		onChange: opts.OnChange,
	}
}

// Start loads the list and subscribes to thread changes. A failed subscription
// is logged and leaves a list that refreshes only on demand.
func (s *Sidebar) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.ctx != nil {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.refresh(runCtx)

	if s.feed == nil {
		return
	}
	unsub, err := s.feed.Subscribe("threads", s.Refresh)
	if err != nil {
		log := logging.For("recents")
		log.Warn().Err(err).Msg("realtime subscription failed, list will not auto-refresh")
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return
	}
	s.unsub = unsub
	s.mu.Unlock()
}

// Refresh re-runs the recency query in the background. Calls that arrive
// while a query is running collapse into a single follow-up query.
func (s *Sidebar) Refresh() {
	s.mu.Lock()
	if s.closed || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	if s.refreshing {
		s.again = true
		s.mu.Unlock()
		return
	}
	s.refreshing = true
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		for {
			s.refresh(ctx)
			s.mu.Lock()
			if s.again && !s.closed {
				s.again = false
				s.mu.Unlock()
				continue
			}
			s.again = false
			s.refreshing = false
			s.mu.Unlock()
			return
		}
	}()
}

func (s *Sidebar) refresh(ctx context.Context) {
	items, err := s.src.ListRecent(ctx, s.limit)
	if err != nil {
		if ctx.Err() == nil {
			log := logging.For("recents")
			log.Warn().Err(err).Msg("recents query failed, keeping last list")
		}
		return
	}
	s.set(items)
}

func (s *Sidebar) set(items []thread.Summary) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.items = items
	snapshot := append([]thread.Summary(nil), items...)
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(snapshot)
	}
}

// Items returns the current list.
func (s *Sidebar) Items() []thread.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]thread.Summary(nil), s.items...)
}

// Rename shows the new title at once, then renames the thread. On failure the
// old title is restored and an error notice is shown.
func (s *Sidebar) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return thread.ErrEmptyTitle
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	var old string
	if idx >= 0 {
		old = s.items[idx].Title
		s.items[idx].Title = title
	}
	s.mu.Unlock()
	if idx >= 0 {
		s.publish()
	}

	if err := s.src.Rename(ctx, id, title); err != nil {
		if idx >= 0 {
			s.mu.Lock()
			if i := s.indexLocked(id); i >= 0 && s.items[i].Title == title {
				s.items[i].Title = old
			}
			s.mu.Unlock()
			s.publish()
		}
		s.notifier.Notify(notify.Errorf("Rename failed", "%v", err))
		return fmt.Errorf("recents: rename %s: %w", id, err)
	}
	s.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, Title: "Conversation renamed", Text: title})
	return nil
}

// Delete removes the thread from the list at once, then deletes it. On
// failure the entry is put back and an error notice is shown.
func (s *Sidebar) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	var removed thread.Summary
	if idx >= 0 {
		removed = s.items[idx]
		s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	}
	s.mu.Unlock()
	if idx >= 0 {
		s.publish()
	}

	if err := s.src.Delete(ctx, id); err != nil {
		if idx >= 0 {
			s.mu.Lock()
			if s.indexLocked(id) < 0 {
				at := idx
				if at > len(s.items) {
					at = len(s.items)
				}
				s.items = append(s.items[:at:at], append([]thread.Summary{removed}, s.items[at:]...)...)
			}
			s.mu.Unlock()
			s.publish()
		}
		var pde *thread.PartialDeleteError
		if errors.As(err, &pde) {
			s.notifier.Notify(notify.Errorf("Delete incomplete", "the conversation's messages were removed; delete it again to finish"))
		} else {
			s.notifier.Notify(notify.Errorf("Delete failed", "%v", err))
		}
		return fmt.Errorf("recents: delete %s: %w", id, err)
	}
	s.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, Title: "Conversation deleted"})
	return nil
}

func (s *Sidebar) indexLocked(id string) int {
	for i, it := range s.items {
		if it.ThreadID == id {
			return i
		}
	}
	return -1
}

func (s *Sidebar) publish() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snapshot := append([]thread.Summary(nil), s.items...)
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(snapshot)
	}
}

// Close unsubscribes from the feed. Later updates are dropped.
func (s *Sidebar) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub, cancel := s.unsub, s.cancel
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}
