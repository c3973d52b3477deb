package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestFileWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	events := make(chan fsnotify.Event, 16)
	fw, err := New(path, fsnotify.Write, func(e fsnotify.Event) { events <- e })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fw.Stop()

	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-events:
		if e.Op&fsnotify.Write == 0 {
			t.Errorf("unexpected op %v", e.Op)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event for write")
	}
}

func TestFileWatcher_IgnoresSiblingsAndMaskedOps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	events := make(chan fsnotify.Event, 16)
	fw, err := New(path, fsnotify.Write, func(e fsnotify.Event) { events <- e })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fw.Stop()

	// a sibling write and a chmod of the watched file must both be dropped
	os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0644)
	os.Chmod(path, 0600)

	select {
	case e := <-events:
		t.Fatalf("unexpected event %v", e)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Logging.json")
	fw, err := New(path, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("expected running")
	}
	fw.Stop()
	fw.Stop()
	if fw.IsRunning() {
		t.Error("expected stopped")
	}
}
