package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemory_SetGetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "recents"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get on empty cache = %v, want ErrMiss", err)
	}
	if err := m.Set(ctx, "recents", "[]", 0); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "recents")
	if err != nil || got != "[]" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	n, err := m.Del(ctx, "recents", "missing")
	if err != nil || n != 1 {
		t.Fatalf("Del = %d, %v; want 1", n, err)
	}
	if _, err := m.Get(ctx, "recents"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after Del = %v, want ErrMiss", err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	m.Set(ctx, "files:abc", "x", time.Minute)
	now = now.Add(59 * time.Second)
	if _, err := m.Get(ctx, "files:abc"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := m.Get(ctx, "files:abc"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get at expiry = %v, want ErrMiss", err)
	}
}

func TestMemory_Close(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set(ctx, "k", "v", 0)
	m.Close()
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after Close = %v, want ErrMiss", err)
	}
}

func TestNew_DefaultsToMemory(t *testing.T) {
	c, err := New(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Errorf("New(\"\") = %T, want *Memory", c)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-url")
	if err == nil || !strings.Contains(err.Error(), "cache: parse redis url") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
