package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/config"
	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/models"
	"github.com/kinber/kinber/internal/notify"
	"github.com/kinber/kinber/internal/thread"
)

const testThreadID = "9d2f7c1a-4b3e-4f6a-8c2d-1e5b7a9c0d33"

// fakeBackend records calls to the agent backend.
type fakeBackend struct {
	mu         sync.Mutex
	calls      []string
	starts     []backend.StartRequest
	creates    atomic.Int32
	startCalls atomic.Int32
	startCode  int
	replies    []string // served in order by agent/start
	release    chan struct{}
}

func (f *fakeBackend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer at" || r.Header.Get("X-User-ID") != "u-1" {
			t.Errorf("%s missing auth headers", r.URL.Path)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/threads/":
			f.creates.Add(1)
			io.WriteString(w, `{"thread_id":"`+testThreadID+`"}`)
		case strings.HasSuffix(r.URL.Path, "/agent/start"):
			n := f.startCalls.Add(1)
			var req backend.StartRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			f.starts = append(f.starts, req)
			f.mu.Unlock()
			if f.release != nil {
				<-f.release
			}
			if f.startCode != 0 {
				w.WriteHeader(f.startCode)
				return
			}
			reply := "Hi! How can I help?"
			if int(n) <= len(f.replies) {
				reply = f.replies[n-1]
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"assistant_reply": reply}})
		case r.URL.Path == "/api/actions/search":
			io.WriteString(w, `{"data":[{"title":"Go 1.24 released"}]}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/threads/"+testThreadID:
			io.WriteString(w, `{"messages":[{"role":"user","content":"earlier"},{"role":"assistant","content":"reply","attachments":[{"name":"a.png","url":"https://cdn/a.png","type":"image/png","size":3}]}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type harness struct {
	composer *Composer
	backend  *fakeBackend
	staged   *attachment.Pipeline
	bus      *notify.Bus
	notices  *notify.Recorder
}

func newHarness(t *testing.T, f *fakeBackend, sessions identity.SessionSource) *harness {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	client := backend.New(config.BackendConfig{URL: srv.URL}, srv.Client())
	bus := &notify.Bus{}
	pipeline := attachment.NewPipeline(attachment.Config{Bus: bus})
	if sessions == nil {
		sessions = identity.Static{Session: &identity.Session{AccessToken: "at", User: identity.User{ID: "u-1"}}}
	}
	rec := &notify.Recorder{}
	c := NewComposer(Config{
		Sessions:    sessions,
		Notifier:    rec,
		Threads:     thread.NewManager(client, nil, bus),
		Agent:       client,
		Attachments: pipeline,
		ModelName:   "gemini-2.0-flash-exp",
	})
	return &harness{composer: c, backend: f, staged: pipeline, bus: bus, notices: rec}
}

func TestSubmit_Hello(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)

	res, err := h.composer.Submit(context.Background(), Request{Text: "  Hello "})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != Completed || res.ThreadID != testThreadID {
		t.Errorf("result = %+v", res)
	}

	wantCalls := []string{"POST /api/threads/", "POST /api/threads/" + testThreadID + "/agent/start"}
	if strings.Join(h.backend.calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("calls = %v, want %v", h.backend.calls, wantCalls)
	}
	entries := h.composer.Transcript().Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Role != models.RoleUser || entries[0].Content != "Hello" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Role != models.RoleAssistant || entries[1].Content != "Hi! How can I help?" {
		t.Errorf("second entry = %+v", entries[1])
	}
	req := h.backend.starts[0]
	if req.Message != "Hello" || req.Agent != "default" || req.ModelName != "gemini-2.0-flash-exp" {
		t.Errorf("start request = %+v", req)
	}
	if h.composer.State() != Idle {
		t.Errorf("state = %v after submit", h.composer.State())
	}

	if _, err := h.composer.Submit(context.Background(), Request{Text: "again"}); err != nil {
		t.Fatal(err)
	}
	if h.backend.creates.Load() != 1 {
		t.Errorf("creates = %d, want thread reused", h.backend.creates.Load())
	}
}

func TestSubmit_RapidSubmitsStartOnce(t *testing.T) {
	f := &fakeBackend{release: make(chan struct{})}
	h := newHarness(t, f, nil)

	first := make(chan error, 1)
	go func() {
		_, err := h.composer.Submit(context.Background(), Request{Text: "one"})
		first <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for f.startCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.composer.State() != InFlight {
		t.Fatalf("state = %v, want in_flight", h.composer.State())
	}

	var wg sync.WaitGroup
	var busy atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.composer.Submit(context.Background(), Request{Text: "dup"}); err == ErrBusy {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	close(f.release)
	if err := <-first; err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	if busy.Load() != 5 {
		t.Errorf("busy rejections = %d, want 5", busy.Load())
	}
	if f.startCalls.Load() != 1 {
		t.Errorf("agent start calls = %d, want 1", f.startCalls.Load())
	}
}

func TestSubmit_Status500Fallback(t *testing.T) {
	h := newHarness(t, &fakeBackend{startCode: http.StatusInternalServerError}, nil)

	res, err := h.composer.Submit(context.Background(), Request{Text: "Hello"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if res.Outcome != Failed || res.Err == nil {
		t.Errorf("result = %+v", res)
	}
	var fallbacks int
	for _, e := range h.composer.Transcript().Entries() {
		if e.Fallback {
			fallbacks++
			if e.Content != FallbackReply || e.Role != models.RoleAssistant {
				t.Errorf("fallback entry = %+v", e)
			}
		}
	}
	if fallbacks != 1 {
		t.Errorf("fallback messages = %d, want 1", fallbacks)
	}
	if h.composer.State() != Idle {
		t.Error("guard not released")
	}
}

func TestSubmit_Unauthenticated(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, identity.Static{})
	h.staged.Add(context.Background(), "", attachment.FromBytes("a.txt", "text/plain", []byte("a")))

	_, err := h.composer.Submit(context.Background(), Request{Text: "Hello"})
	if err != ErrUnauthenticated {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if len(h.backend.calls) != 0 {
		t.Errorf("backend calls = %v", h.backend.calls)
	}
	if len(h.composer.Transcript().Entries()) != 0 {
		t.Error("transcript should be untouched")
	}
	if len(h.staged.All()) != 1 {
		t.Error("staged attachments should survive a blocked submission")
	}
}

func TestSubmit_Empty(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)
	if _, err := h.composer.Submit(context.Background(), Request{Text: "   "}); err != ErrEmpty {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestSubmit_AttachmentsForwardedAndCleared(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)
	var cleared int
	h.bus.Subscribe(notify.TopicAttachmentsCleared, func(notify.Event) { cleared++ })

	ctx := context.Background()
	h.staged.Add(ctx, "",
		attachment.FromBytes("notes.txt", "text/plain", []byte("hello")),
		attachment.FromBytes("empty.txt", "text/plain", nil),
	)

	if _, err := h.composer.Submit(ctx, Request{}); err != nil {
		t.Fatalf("attachment-only Submit: %v", err)
	}
	got := h.backend.starts[0].Attachments
	if len(got) != 2 {
		t.Fatalf("attachments = %+v", got)
	}
	if got[0].Base64 != "data:text/plain;base64,aGVsbG8=" {
		t.Errorf("inline payload = %q", got[0].Base64)
	}
	if got[1].Base64 != "" || !strings.HasPrefix(got[1].URL, "blob:kinber/") {
		t.Errorf("failed inline should be forwarded without payload: %+v", got[1])
	}
	if len(h.staged.All()) != 0 || h.staged.Registry().Len() != 0 {
		t.Error("attachments not cleared after submit")
	}
	if cleared != 1 {
		t.Errorf("attachments:cleared events = %d", cleared)
	}
	entries := h.composer.Transcript().Entries()
	if len(entries[0].Attachments) != 2 {
		t.Errorf("echoed attachments = %+v", entries[0].Attachments)
	}
}

func TestSubmit_ToolCall(t *testing.T) {
	f := &fakeBackend{replies: []string{`{"tool":"websearch","query":"go release"}`, "Go 1.24 is out."}}
	h := newHarness(t, f, nil)

	res, err := h.composer.Submit(context.Background(), Request{Text: "what's new in go?"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Go 1.24 is out." {
		t.Errorf("reply = %q", res.Reply)
	}
	if f.startCalls.Load() != 2 {
		t.Errorf("start calls = %d, want 2", f.startCalls.Load())
	}
	var msg map[string]json.RawMessage
	json.Unmarshal([]byte(f.starts[1].Message), &msg)
	if string(msg["tool"]) != `"websearch"` || !strings.Contains(string(msg["tool_result"]), "Go 1.24 released") {
		t.Errorf("tool result message = %s", f.starts[1].Message)
	}
	entries := h.composer.Transcript().Entries()
	if len(entries) != 2 || entries[1].Content != "Go 1.24 is out." {
		t.Errorf("entries = %+v", entries)
	}
}

func TestSubmit_EmptyReply(t *testing.T) {
	h := newHarness(t, &fakeBackend{replies: []string{""}}, nil)
	res, _ := h.composer.Submit(context.Background(), Request{Text: "hi"})
	if res.Reply != EmptyReply {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestResume_EchoesOnce(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)
	if _, err := h.composer.Resume(context.Background(), FirstMessage{Text: "Plan a trip"}); err != nil {
		t.Fatal(err)
	}
	entries := h.composer.Transcript().Entries()
	if len(entries) != 2 || entries[0].Content != "Plan a trip" || entries[1].Role != models.RoleAssistant {
		t.Errorf("entries = %+v", entries)
	}
}

func oversizedPair() []attachment.Attachment {
	return []attachment.Attachment{
		{Name: "photo.jpg", Type: "image/jpeg", Size: 10 << 20, URL: "https://cdn.test/t-1/photo.jpg", Inline: "data:image/jpeg;base64,AAAA"},
		{Name: "clip.mp4", Type: "video/mp4", Size: 60 << 20, URL: "https://cdn.test/t-1/clip.mp4"},
	}
}

func tooLargeNotices(h *harness) []notify.Notice {
	var out []notify.Notice
	for _, n := range h.notices.Notices() {
		if n.Level == notify.LevelError && n.Title == "File too large" {
			out = append(out, n)
		}
	}
	return out
}

func TestSubmit_DropsOversizedAttachments(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)

	if _, err := h.composer.Submit(context.Background(), Request{Text: "look at these", Attachments: oversizedPair()}); err != nil {
		t.Fatal(err)
	}
	got := h.backend.starts[0].Attachments
	if len(got) != 1 || got[0].Name != "photo.jpg" || got[0].Size != 10<<20 {
		t.Fatalf("forwarded attachments = %+v, want only photo.jpg", got)
	}
	notices := tooLargeNotices(h)
	if len(notices) != 1 || !strings.Contains(notices[0].Text, "clip.mp4") {
		t.Errorf("notices = %+v", h.notices.Notices())
	}
	entries := h.composer.Transcript().Entries()
	if len(entries[0].Attachments) != 1 || entries[0].Attachments[0].Name != "photo.jpg" {
		t.Errorf("echoed attachments = %+v", entries[0].Attachments)
	}
}

func TestSubmit_OnlyOversizedIsEmpty(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)
	atts := oversizedPair()[1:]
	if _, err := h.composer.Submit(context.Background(), Request{Attachments: atts}); err != ErrEmpty {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	if len(h.backend.calls) != 0 {
		t.Errorf("backend calls = %v", h.backend.calls)
	}
	if len(tooLargeNotices(h)) != 1 {
		t.Errorf("notices = %+v", h.notices.Notices())
	}
}

func TestResume_DropsOversizedAttachments(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)

	_, err := h.composer.Resume(context.Background(), FirstMessage{Text: "what's in these?", Attachments: oversizedPair()})
	if err != nil {
		t.Fatal(err)
	}
	got := h.backend.starts[0].Attachments
	if len(got) != 1 || got[0].Name != "photo.jpg" {
		t.Fatalf("forwarded attachments = %+v, want only photo.jpg", got)
	}
	if len(tooLargeNotices(h)) != 1 {
		t.Errorf("notices = %+v", h.notices.Notices())
	}
	entries := h.composer.Transcript().Entries()
	if len(entries) != 2 || len(entries[0].Attachments) != 1 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestResume_BusyDoesNotEcho(t *testing.T) {
	f := &fakeBackend{release: make(chan struct{})}
	h := newHarness(t, f, nil)

	first := make(chan error, 1)
	go func() {
		_, err := h.composer.Submit(context.Background(), Request{Text: "one"})
		first <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for f.startCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := h.composer.Resume(context.Background(), FirstMessage{Text: "second"}); err != ErrBusy {
		t.Errorf("Resume err = %v, want ErrBusy", err)
	}
	for _, e := range h.composer.Transcript().Entries() {
		if e.Content == "second" {
			t.Error("busy Resume echoed its message")
		}
	}
	close(f.release)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)
	if err := h.composer.Load(context.Background(), testThreadID); err != nil {
		t.Fatal(err)
	}
	entries := h.composer.Transcript().Entries()
	if len(entries) != 2 || entries[1].Attachments[0].Name != "a.png" {
		t.Errorf("entries = %+v", entries)
	}
	if h.composer.ThreadID() != testThreadID {
		t.Errorf("ThreadID = %q", h.composer.ThreadID())
	}

	h.composer.Submit(context.Background(), Request{Text: "continue"})
	if h.backend.creates.Load() != 0 {
		t.Error("loaded thread should be reused")
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)
	h.composer.Submit(context.Background(), Request{Text: "one"})
	if err := h.composer.Reset(); err != nil {
		t.Fatal(err)
	}
	if h.composer.ThreadID() != "" || len(h.composer.Transcript().Entries()) != 0 {
		t.Error("Reset did not clear state")
	}
	h.composer.Submit(context.Background(), Request{Text: "two"})
	if h.backend.creates.Load() != 2 {
		t.Errorf("creates = %d, want a new thread after Reset", h.backend.creates.Load())
	}
}

func TestTranscript_ClosedIgnoresAppends(t *testing.T) {
	var updates int
	tr := NewTranscript(func([]Entry) { updates++ })
	tr.Append(Entry{Role: "user", Content: "a"})
	tr.Close()
	if tr.Append(Entry{Role: "assistant", Content: "late"}) {
		t.Error("Append after Close reported success")
	}
	tr.Replace(nil)
	if len(tr.Entries()) != 1 || updates != 1 {
		t.Errorf("entries=%d updates=%d", len(tr.Entries()), updates)
	}
}
