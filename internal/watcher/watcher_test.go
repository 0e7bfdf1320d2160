package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRequiresPaths(t *testing.T) {
	if _, err := New(nil, time.Second); err == nil {
		t.Fatal("expected error for empty path list")
	}
}

func TestWatcherCreation(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "handy.db")

	w, err := New([]string{target, target + "-wal"}, 0)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	if len(w.WatchedPaths()) != 2 {
		t.Errorf("expected 2 watched paths, got %d", len(w.WatchedPaths()))
	}
	if len(w.dirs) != 1 {
		t.Errorf("expected one watched directory, got %d", len(w.dirs))
	}
	if w.debounce != DefaultDebounce {
		t.Errorf("expected default debounce, got %v", w.debounce)
	}
	if w.Pending() != 0 {
		t.Errorf("expected 0 pending files before start, got %d", w.Pending())
	}
}

func TestWatcherStartMissingDirectory(t *testing.T) {
	w, err := New([]string{filepath.Join(t.TempDir(), "missing", "handy.db")}, 0)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	w, err := New([]string{filepath.Join(t.TempDir(), "handy.db")}, 0)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop watcher: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("events channel should be closed")
	}
}

func TestWatcherEvents(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "handy.db")

	w, err := New([]string{target}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	// Unwatched files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(tmpDir, "other.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if err := os.WriteFile(target, []byte("test content"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	select {
	case event := <-w.Events():
		abs, _ := filepath.Abs(target)
		if event.Path != abs {
			t.Errorf("expected path %s, got %s", abs, event.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case event := <-w.Events():
		t.Errorf("unexpected event for %s", event.Path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherDebounce(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "debounce.db")

	w, err := New([]string{target}, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	// Write multiple times quickly
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte("v"+string(rune('0'+i))), 0600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	eventCount := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case <-w.Events():
			eventCount++
			if eventCount > 1 {
				t.Fatal("expected only one event due to debouncing")
			}
		case <-timeout:
			if eventCount != 1 {
				t.Errorf("expected 1 event, got %d", eventCount)
			}
			return
		}
	}
}
