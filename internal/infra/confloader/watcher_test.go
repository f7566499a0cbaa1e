package confloader

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_NotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollmesh.yaml")
	other := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(WithDebounce(20 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	changed := make(chan string, 8)
	w.OnChange(func(p string) {
		calls.Add(1)
		changed <- p
	})
	w.StartAsync()

	// Unwatched files in the same directory are ignored.
	if err := os.WriteFile(other, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case p := <-changed:
		if filepath.Base(p) != "rollmesh.yaml" {
			t.Errorf("changed path = %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}

	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("callbacks = %d, want the burst coalesced into 1", n)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	w.StartAsync()
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestWatcher_WatchMissingDir(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Watch("/nonexistent/dir/rollmesh.yaml"); err == nil {
		t.Error("expected error watching a missing directory")
	}
}
