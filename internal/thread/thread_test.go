package thread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/models"
	"github.com/kinber/kinber/internal/notify"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&models.Thread{}, &models.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

type fakeRemote struct {
	creates  atomic.Int32
	delay    time.Duration
	err      error
	loads    atomic.Int32
	messages []backend.Message
}

func (f *fakeRemote) CreateThread(_ context.Context, auth backend.Auth, title string) (string, error) {
	n := f.creates.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return "", f.err
	}
	if n == 1 {
		return "0b6e4a8e-6f2c-4b7e-9d51-2f6c3a1d9e01", nil
	}
	return "0b6e4a8e-6f2c-4b7e-9d51-2f6c3a1d9e02", nil
}

func (f *fakeRemote) ThreadMessages(context.Context, backend.Auth, string) ([]backend.Message, error) {
	f.loads.Add(1)
	return f.messages, nil
}

var auth = backend.Auth{Token: "tok", UserID: "u-1"}

func TestEnsure_ReusesExistingID(t *testing.T) {
	remote := &fakeRemote{}
	m := NewManager(remote, &GormStore{DB: testDB(t)}, nil)
	id, err := m.Ensure(context.Background(), "existing", auth)
	if err != nil || id != "existing" {
		t.Fatalf("Ensure = %q, %v", id, err)
	}
	if remote.creates.Load() != 0 {
		t.Errorf("create calls = %d, want 0", remote.creates.Load())
	}
	if m.Current() != "existing" {
		t.Errorf("Current = %q", m.Current())
	}
}

func TestEnsure_ConcurrentCallersShareOneCreate(t *testing.T) {
	remote := &fakeRemote{delay: 20 * time.Millisecond}
	db := testDB(t)
	var bus notify.Bus
	var created atomic.Int32
	bus.Subscribe(notify.TopicThreadCreated, func(notify.Event) { created.Add(1) })
	m := NewManager(remote, &GormStore{DB: db}, &bus)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.Ensure(context.Background(), "", auth)
			if err != nil {
				t.Errorf("Ensure: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	if remote.creates.Load() != 1 {
		t.Fatalf("create calls = %d, want 1", remote.creates.Load())
	}
	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("caller %d got %q, want %q", i, id, ids[0])
		}
	}
	if created.Load() != 1 {
		t.Errorf("thread:created events = %d", created.Load())
	}

	stored, err := m.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Title != models.DefaultThreadTitle || stored.AccountID == nil || *stored.AccountID != "u-1" {
		t.Errorf("stored thread = %+v", stored)
	}
}

func TestEnsure_CreateFailure(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	m := NewManager(remote, nil, nil)
	if _, err := m.Ensure(context.Background(), "", auth); err == nil {
		t.Fatal("expected error")
	}
	if m.Current() != "" {
		t.Errorf("Current = %q after failure", m.Current())
	}
}

func TestManager_WithoutStore(t *testing.T) {
	m := NewManager(&fakeRemote{}, nil, nil)
	ctx := context.Background()

	if _, err := m.ListRecent(ctx, 10); !errors.Is(err, ErrNoStore) {
		t.Errorf("ListRecent err = %v", err)
	}
	if _, err := m.Search(ctx, "go", 10); !errors.Is(err, ErrNoStore) {
		t.Errorf("Search err = %v", err)
	}
	if _, err := m.Get(ctx, "t-1"); !errors.Is(err, ErrNoStore) {
		t.Errorf("Get err = %v", err)
	}
	if err := m.Rename(ctx, "t-1", "Trip"); !errors.Is(err, ErrNoStore) {
		t.Errorf("Rename err = %v", err)
	}
	if err := m.Delete(ctx, "t-1"); !errors.Is(err, ErrNoStore) {
		t.Errorf("Delete err = %v", err)
	}
	m.Record(ctx, models.Message{ThreadID: "t-1", Role: models.RoleUser, Content: "hi"})
}

func TestEnsure_ResetMintsNew(t *testing.T) {
	remote := &fakeRemote{}
	m := NewManager(remote, nil, nil)
	first, _ := m.Ensure(context.Background(), "", auth)
	m.Reset()
	second, _ := m.Ensure(context.Background(), "", auth)
	if first == second || remote.creates.Load() != 2 {
		t.Errorf("first=%q second=%q creates=%d", first, second, remote.creates.Load())
	}
}

func seedThread(t *testing.T, store *GormStore, id, title string, updated time.Time, messages ...string) {
	t.Helper()
	th := models.Thread{ThreadID: id, Title: title, CreatedAt: updated, UpdatedAt: updated}
	if err := store.DB.Create(&th).Error; err != nil {
		t.Fatal(err)
	}
	for i, content := range messages {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := models.Message{ThreadID: id, Role: role, Content: content, CreatedAt: updated}
		if err := store.DB.Create(&msg).Error; err != nil {
			t.Fatal(err)
		}
	}
}

func TestListRecent_OrderAndCounts(t *testing.T) {
	store := &GormStore{DB: testDB(t)}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedThread(t, store, "old", "Old", base, "a")
	seedThread(t, store, "new", "New", base.Add(2*time.Hour), "a", "b", "c")
	seedThread(t, store, "mid", "Mid", base.Add(time.Hour))

	m := NewManager(&fakeRemote{}, store, nil)
	got, err := m.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		id    string
		count int64
	}{{"new", 3}, {"mid", 0}, {"old", 1}}
	if len(got) != len(want) {
		t.Fatalf("got %d threads", len(got))
	}
	for i, w := range want {
		if got[i].ThreadID != w.id || got[i].MessageCount != w.count {
			t.Errorf("[%d] = %s/%d, want %s/%d", i, got[i].ThreadID, got[i].MessageCount, w.id, w.count)
		}
	}

	limited, _ := m.ListRecent(context.Background(), 1)
	if len(limited) != 1 || limited[0].ThreadID != "new" {
		t.Errorf("limit 1 = %+v", limited)
	}
}

func TestSearch(t *testing.T) {
	store := &GormStore{DB: testDB(t)}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedThread(t, store, "t1", "Trip to Lisbon", base, "hotels?")
	seedThread(t, store, "t2", "Taxes", base.Add(time.Hour), "what about 100% deductions in LISBON")
	seedThread(t, store, "t3", "Recipes", base.Add(2*time.Hour), "pasta")

	m := NewManager(&fakeRemote{}, store, nil)
	got, err := m.Search(context.Background(), "lisbon", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ThreadID != "t2" || got[1].ThreadID != "t1" {
		t.Errorf("Search(lisbon) = %+v", got)
	}
	pct, _ := m.Search(context.Background(), "100%", 10)
	if len(pct) != 1 || pct[0].ThreadID != "t2" {
		t.Errorf("Search(100%%) = %+v", pct)
	}
	all, _ := m.Search(context.Background(), "  ", 10)
	if len(all) != 3 {
		t.Errorf("blank search returned %d", len(all))
	}
}

func TestRename(t *testing.T) {
	store := &GormStore{DB: testDB(t)}
	seedThread(t, store, "t1", "Old title", time.Now())
	m := NewManager(&fakeRemote{}, store, nil)

	if err := m.Rename(context.Background(), "t1", "   "); !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("blank rename = %v", err)
	}
	if err := m.Rename(context.Background(), "t1", "  Budget 2025 "); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(context.Background(), "t1")
	if got.Title != "Budget 2025" {
		t.Errorf("Title = %q", got.Title)
	}
	if err := m.Rename(context.Background(), "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rename missing = %v", err)
	}
}

func TestDelete_ThreadWithThreeMessages(t *testing.T) {
	store := &GormStore{DB: testDB(t)}
	seedThread(t, store, "doomed", "Doomed", time.Now(), "one", "two", "three")
	seedThread(t, store, "kept", "Kept", time.Now().Add(-time.Hour), "x")
	m := NewManager(&fakeRemote{}, store, nil)

	if err := m.Delete(context.Background(), "doomed"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var orphans int64
	store.DB.Model(&models.Message{}).Where("thread_id = ?", "doomed").Count(&orphans)
	if orphans != 0 {
		t.Errorf("orphaned messages = %d", orphans)
	}
	recent, _ := m.ListRecent(context.Background(), 10)
	if len(recent) != 1 || recent[0].ThreadID != "kept" {
		t.Errorf("recents after delete = %+v", recent)
	}
	if err := m.Delete(context.Background(), "doomed"); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
}

type flakyStore struct {
	*GormStore
	failThread int
	calls      int
}

func (f *flakyStore) DeleteThread(ctx context.Context, id string) error {
	f.calls++
	if f.failThread > 0 {
		f.failThread--
		return errors.New("lock timeout")
	}
	return f.GormStore.DeleteThread(ctx, id)
}

func TestDelete_RetriesThreadStep(t *testing.T) {
	store := &flakyStore{GormStore: &GormStore{DB: testDB(t)}, failThread: 2}
	seedThread(t, store.GormStore, "t1", "T", time.Now(), "a")
	m := NewManager(&fakeRemote{}, store, nil)
	m.retryDelay = 0

	if err := m.Delete(context.Background(), "t1"); err != nil {
		t.Fatalf("Delete = %v, want success on third attempt", err)
	}
	if store.calls != 3 {
		t.Errorf("thread delete attempts = %d", store.calls)
	}
}

func TestDelete_PartialFailureThenResume(t *testing.T) {
	store := &flakyStore{GormStore: &GormStore{DB: testDB(t)}, failThread: 5}
	seedThread(t, store.GormStore, "t1", "T", time.Now(), "a", "b")
	m := NewManager(&fakeRemote{}, store, nil)
	m.retryDelay = 0

	err := m.Delete(context.Background(), "t1")
	var pde *PartialDeleteError
	if !errors.As(err, &pde) {
		t.Fatalf("Delete = %v, want *PartialDeleteError", err)
	}
	if pde.Remaining != "thread" || pde.ThreadID != "t1" {
		t.Errorf("PartialDeleteError = %+v", pde)
	}
	var msgs int64
	store.DB.Model(&models.Message{}).Where("thread_id = ?", "t1").Count(&msgs)
	if msgs != 0 {
		t.Errorf("messages left = %d, want 0", msgs)
	}

	store.failThread = 0
	if err := m.Delete(context.Background(), "t1"); err != nil {
		t.Fatalf("resumed Delete = %v", err)
	}
	if _, err := m.Get(context.Background(), "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestMessages_RejectsNonUUID(t *testing.T) {
	remote := &fakeRemote{messages: []backend.Message{{Role: "user", Content: "hi"}}}
	m := NewManager(remote, nil, nil)

	if _, err := m.Messages(context.Background(), "not-a-uuid", auth); !errors.Is(err, ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
	if remote.loads.Load() != 0 {
		t.Error("remote should not be called for invalid ids")
	}
	msgs, err := m.Messages(context.Background(), "0b6e4a8e-6f2c-4b7e-9d51-2f6c3a1d9e01", auth)
	if err != nil || len(msgs) != 1 {
		t.Errorf("Messages = %v, %v", msgs, err)
	}
}

func TestRecord(t *testing.T) {
	store := &GormStore{DB: testDB(t)}
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedThread(t, store, "t1", "T", old)
	m := NewManager(&fakeRemote{}, store, nil)

	m.Record(context.Background(), models.Message{ThreadID: "t1", Role: models.RoleUser, Content: "hello"})
	msgs, err := store.Messages(context.Background(), "t1")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Messages = %v, %v", msgs, err)
	}
	got, _ := m.Get(context.Background(), "t1")
	if !got.UpdatedAt.After(old) {
		t.Errorf("UpdatedAt not bumped: %v", got.UpdatedAt)
	}
}
