package config_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bdobrica/Kokoro/internal/kokoro/config"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

func newSettings(t *testing.T) config.Settings {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "kokoro.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return config.New(s)
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newSettings(t)
	ctx := context.Background()

	if err := s.Set(ctx, "room/!abc/challenge", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "room/!abc/challenge")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "true" {
		t.Errorf("got %q", got)
	}

	// Overwrite wins.
	if err := s.Set(ctx, "room/!abc/challenge", "false"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if got, _ = s.Get(ctx, "room/!abc/challenge"); got != "false" {
		t.Errorf("after overwrite got %q", got)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newSettings(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newSettings(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete again: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("key survived delete: %v", err)
	}
}

func TestList(t *testing.T) {
	s := newSettings(t)
	ctx := context.Background()

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Fatalf("empty store list = %v", all)
	}

	s.Set(ctx, "a", "1")
	s.Set(ctx, "b", "2")
	all, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all["a"] != "1" || all["b"] != "2" {
		t.Errorf("list = %v", all)
	}
}

func TestBoolHelpers(t *testing.T) {
	s := newSettings(t)
	ctx := context.Background()

	v, err := config.GetBool(ctx, s, "challenge", false)
	if err != nil || v {
		t.Fatalf("absent key: v=%v err=%v", v, err)
	}

	if err := config.SetBool(ctx, s, "challenge", true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	v, err = config.GetBool(ctx, s, "challenge", false)
	if err != nil || !v {
		t.Fatalf("set key: v=%v err=%v", v, err)
	}

	s.Set(ctx, "challenge", "banana")
	if _, err := config.GetBool(ctx, s, "challenge", false); err == nil {
		t.Fatal("malformed bool accepted")
	}
}
