package main

import (
	"strings"
	"testing"

	"github.com/kinber/kinber/internal/models"
)

func TestChat_OneShot(t *testing.T) {
	fb := &fakeBackend{reply: "Hello Ada!"}
	srv := fb.server(t)
	path := writeConfig(t, srv.URL)
	gormDB := openDB(t, path)
	signIn(t, gormDB)

	out, err := run(t, "chat", "hi", "there", "-c", path)
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Hello Ada!") {
		t.Errorf("output = %q, want the reply", out)
	}
	if fb.created != 1 || len(fb.started) != 1 {
		t.Fatalf("created=%d started=%d, want 1 and 1", fb.created, len(fb.started))
	}
	if got := fb.started[0]["message"]; got != "hi there" {
		t.Errorf("message sent = %v", got)
	}

	var th models.Thread
	if err := gormDB.First(&th, "thread_id = ?", testThreadID).Error; err != nil {
		t.Fatalf("thread not recorded: %v", err)
	}
	var msgs []models.Message
	gormDB.Order("id").Find(&msgs, "thread_id = ?", testThreadID)
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Content != "Hello Ada!" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestChat_NotSignedIn(t *testing.T) {
	fb := &fakeBackend{reply: "unused"}
	srv := fb.server(t)
	path := writeConfig(t, srv.URL)

	_, err := run(t, "chat", "hello", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Fatalf("expected sign-in error, got %v", err)
	}
	if fb.created != 0 || len(fb.started) != 0 {
		t.Errorf("backend called without a session: created=%d started=%d", fb.created, len(fb.started))
	}
}

func TestChat_BackendFailureShowsFallback(t *testing.T) {
	fb := &fakeBackend{fail: true}
	srv := fb.server(t)
	path := writeConfig(t, srv.URL)
	signIn(t, openDB(t, path))

	out, err := run(t, "chat", "hello", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "message failed") {
		t.Fatalf("expected failure, got %v", err)
	}
	if !strings.Contains(out, "Sorry, I couldn't process that request.") {
		t.Errorf("output = %q, want fallback reply", out)
	}
}

func TestChat_AttachMissingFile(t *testing.T) {
	fb := &fakeBackend{reply: "ok"}
	srv := fb.server(t)
	path := writeConfig(t, srv.URL)
	signIn(t, openDB(t, path))

	if _, err := run(t, "chat", "see file", "-f", "/nonexistent/report.pdf", "-c", path); err == nil {
		t.Fatal("expected error for a missing attachment")
	}
	if len(fb.started) != 0 {
		t.Error("message sent despite failed attachment")
	}
}

func TestChat_PipedSession(t *testing.T) {
	fb := &fakeBackend{reply: "noted"}
	srv := fb.server(t)
	path := writeConfig(t, srv.URL)
	signIn(t, openDB(t, path))

	out, err := runWithInput(t, "first\n\nsecond\n/new\nthird\n/quit\nnever sent\n", "chat", "-c", path)
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	for _, want := range []string{"you> first", "you> second", "you> third", "kinber> noted"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "never sent") {
		t.Errorf("input after /quit was sent:\n%s", out)
	}
	if len(fb.started) != 3 {
		t.Errorf("agent started %d times, want 3", len(fb.started))
	}
	if fb.created != 2 {
		t.Errorf("threads created = %d, want 2 (one before and one after /new)", fb.created)
	}
}
