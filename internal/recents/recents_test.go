package recents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kinber/kinber/internal/notify"
	"github.com/kinber/kinber/internal/realtime"
	"github.com/kinber/kinber/internal/thread"
)

type fakeSource struct {
	mu        sync.Mutex
	items     []thread.Summary
	lists     int
	gate      chan struct{} // when set, ListRecent blocks until it receives
	listErr   error
	renameErr error
	deleteErr error
}

func (f *fakeSource) ListRecent(ctx context.Context, limit int) ([]thread.Summary, error) {
	f.mu.Lock()
	f.lists++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]thread.Summary(nil), f.items...), nil
}

func (f *fakeSource) Rename(ctx context.Context, id, title string) error { return f.renameErr }
func (f *fakeSource) Delete(ctx context.Context, id string) error       { return f.deleteErr }

func (f *fakeSource) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func threeThreads() []thread.Summary {
	return []thread.Summary{
		{ThreadID: "a", Title: "Alpha"},
		{ThreadID: "b", Title: "Beta"},
		{ThreadID: "c", Title: "Gamma"},
	}
}

func TestStart_LoadsAndFollowsFeed(t *testing.T) {
	src := &fakeSource{items: threeThreads()}
	var feed realtime.Local
	s := New(src, &feed, Options{})
	s.Start(context.Background())
	defer s.Close()

	if got := s.Items(); len(got) != 3 {
		t.Fatalf("initial items = %d", len(got))
	}
	src.mu.Lock()
	src.items = src.items[:1]
	src.mu.Unlock()

	feed.Notify("threads")
	waitFor(t, func() bool { return len(s.Items()) == 1 })
}

func TestRefresh_CoalescesBursts(t *testing.T) {
	src := &fakeSource{items: threeThreads()}
	var feed realtime.Local
	s := New(src, &feed, Options{})
	s.Start(context.Background())
	defer s.Close()

	gate := make(chan struct{})
	src.mu.Lock()
	src.gate = gate
	src.mu.Unlock()

	feed.Notify("threads")
	waitFor(t, func() bool { return src.listCount() == 2 })
	for i := 0; i < 10; i++ {
		feed.Notify("threads")
	}
	gate <- struct{}{}
	gate <- struct{}{}
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.refreshing
	})
	if n := src.listCount(); n != 3 {
		t.Errorf("queries = %d, want 3 (initial, in-flight, one follow-up)", n)
	}
}

func TestQueryFailureKeepsLastList(t *testing.T) {
	src := &fakeSource{items: threeThreads()}
	var feed realtime.Local
	s := New(src, &feed, Options{})
	s.Start(context.Background())
	defer s.Close()

	src.mu.Lock()
	src.listErr = errors.New("timeout")
	src.mu.Unlock()
	feed.Notify("threads")
	waitFor(t, func() bool { return src.listCount() == 2 })
	time.Sleep(10 * time.Millisecond)
	if len(s.Items()) != 3 {
		t.Errorf("items = %d, want last known 3", len(s.Items()))
	}
}

func TestClose_DropsLaterUpdates(t *testing.T) {
	src := &fakeSource{items: threeThreads()}
	var feed realtime.Local
	var updates int
	var mu sync.Mutex
	s := New(src, &feed, Options{OnChange: func([]thread.Summary) {
		mu.Lock()
		updates++
		mu.Unlock()
	}})
	s.Start(context.Background())
	s.Close()
	s.Close()

	if feed.Subscribers("threads") != 0 {
		t.Errorf("subscription not released")
	}
	s.Refresh()
	s.set(nil)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if updates != 1 {
		t.Errorf("updates = %d, want only the initial load", updates)
	}
	if len(s.Items()) != 3 {
		t.Errorf("items changed after Close")
	}
}

func TestRename_Optimistic(t *testing.T) {
	src := &fakeSource{items: threeThreads()}
	var rec notify.Recorder
	var seen []string
	s := New(src, nil, Options{Notifier: &rec, OnChange: func(items []thread.Summary) {
		for _, it := range items {
			if it.ThreadID == "b" {
				seen = append(seen, it.Title)
			}
		}
	}})
	s.Start(context.Background())
	defer s.Close()
	seen = nil

	if err := s.Rename(context.Background(), "b", " Budget "); err != nil {
		t.Fatal(err)
	}
	if s.Items()[1].Title != "Budget" {
		t.Errorf("title = %q", s.Items()[1].Title)
	}
	if len(seen) != 1 || seen[0] != "Budget" {
		t.Errorf("published titles = %v", seen)
	}
}

func TestRename_RollsBackOnFailure(t *testing.T) {
	src := &fakeSource{items: threeThreads(), renameErr: errors.New("permission denied")}
	var rec notify.Recorder
	var seen []string
	s := New(src, nil, Options{Notifier: &rec, OnChange: func(items []thread.Summary) {
		seen = append(seen, items[1].Title)
	}})
	s.Start(context.Background())
	defer s.Close()
	seen = nil

	if err := s.Rename(context.Background(), "b", "Budget"); err == nil {
		t.Fatal("expected error")
	}
	if got := s.Items()[1].Title; got != "Beta" {
		t.Errorf("title after rollback = %q", got)
	}
	if len(seen) != 2 || seen[0] != "Budget" || seen[1] != "Beta" {
		t.Errorf("published titles = %v, want optimistic then rollback", seen)
	}
	notices := rec.Notices()
	if len(notices) != 1 || notices[0].Level != notify.LevelError {
		t.Errorf("notices = %+v", notices)
	}
}

func TestRename_EmptyTitle(t *testing.T) {
	s := New(&fakeSource{items: threeThreads()}, nil, Options{})
	if err := s.Rename(context.Background(), "a", "  "); !errors.Is(err, thread.ErrEmptyTitle) {
		t.Errorf("err = %v", err)
	}
}

func TestDelete_Optimistic(t *testing.T) {
	src := &fakeSource{items: threeThreads()}
	s := New(src, nil, Options{})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Delete(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	items := s.Items()
	if len(items) != 2 || items[0].ThreadID != "a" || items[1].ThreadID != "c" {
		t.Errorf("items = %+v", items)
	}
}

func TestDelete_RestoresOnFailure(t *testing.T) {
	src := &fakeSource{items: threeThreads(), deleteErr: &thread.PartialDeleteError{ThreadID: "b", Remaining: "thread", Err: errors.New("lock")}}
	var rec notify.Recorder
	s := New(src, nil, Options{Notifier: &rec})
	s.Start(context.Background())
	defer s.Close()

	err := s.Delete(context.Background(), "b")
	var pde *thread.PartialDeleteError
	if !errors.As(err, &pde) {
		t.Fatalf("err = %v, want *PartialDeleteError", err)
	}
	items := s.Items()
	if len(items) != 3 || items[1].ThreadID != "b" {
		t.Errorf("items after restore = %+v", items)
	}
	if n := rec.Notices(); len(n) != 1 || n[0].Title != "Delete incomplete" {
		t.Errorf("notices = %+v", n)
	}
}
