package files

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatchHubRefcountAddsAndRemovesWatch(t *testing.T) {
	dir := t.TempDir()

	events := make(chan string, 16)
	hub, err := NewWatchHub(func(path string, ev fsnotify.Event) {
		events <- path
	})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer hub.Close()

	if err := hub.Subscribe(dir); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := hub.Subscribe(dir); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "x.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-events:
		if p != dir {
			t.Fatalf("unexpected event path: %s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fs event")
	}

	if err := hub.Unsubscribe(dir); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if hub.refs[dir] != 1 {
		t.Fatalf("expected 1 remaining ref, got %d", hub.refs[dir])
	}
	if err := hub.Unsubscribe(dir); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
	if _, ok := hub.refs[dir]; ok {
		t.Fatalf("expected watch entry removed once refcount hits zero")
	}
}
