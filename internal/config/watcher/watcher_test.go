package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcher_DebouncedChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rum.toml")
	if err := os.WriteFile(path, []byte("autorun = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var calls []string
	changed := make(chan struct{}, 10)
	w, err := New(func(p string) {
		mu.Lock()
		calls = append(calls, p)
		mu.Unlock()
		changed <- struct{}{}
	}, WithDebounce(200*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	// Unwatched files in the same directory are ignored.
	_ = os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0o644)
	for i := 0; i < 3; i++ {
		_ = os.WriteFile(path, []byte("autorun = false\n"), 0o644)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	abs, _ := filepath.Abs(path)
	if len(calls) != 1 || calls[0] != abs {
		t.Errorf("calls = %v, want one call for %s", calls, abs)
	}
}

func TestWatcher_Closed(t *testing.T) {
	w, err := New(func(string) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(t.TempDir()); err != ErrClosed {
		t.Errorf("Watch after Close = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
