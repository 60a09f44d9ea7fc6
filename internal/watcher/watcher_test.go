package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// collectChanges returns a started watcher over dir and a function that
// reports the changed paths seen so far.
func collectChanges(t *testing.T, dir string, extensions []string) func() []string {
	t.Helper()
	var mu sync.Mutex
	var changed []string
	w := New(dir, extensions, func(path string) {
		mu.Lock()
		changed = append(changed, path)
		mu.Unlock()
	}, WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(w.Stop)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), changed...)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_ModelFileWrite(t *testing.T) {
	dir := t.TempDir()
	changes := collectChanges(t, dir, []string{".onnx"})

	path := filepath.Join(dir, "text_model.onnx")
	if err := os.WriteFile(path, []byte("weights"), 0644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return len(changes()) >= 1 }) {
		t.Fatal("no change event for model file write")
	}
	if got := changes()[0]; got != path {
		t.Errorf("changed path: got %q, want %q", got, path)
	}
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	changes := collectChanges(t, dir, []string{".onnx"})

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := changes(); len(got) != 0 {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	changes := collectChanges(t, dir, []string{".onnx"})

	path := filepath.Join(dir, "vision_model.onnx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := f.Write([]byte("chunk")); err != nil {
			t.Fatal(err)
		}
		_ = f.Sync()
		time.Sleep(5 * time.Millisecond)
	}
	_ = f.Close()

	if !waitFor(t, 3*time.Second, func() bool { return len(changes()) >= 1 }) {
		t.Fatal("no change event after burst")
	}
	// The burst must collapse into far fewer callbacks than writes.
	time.Sleep(200 * time.Millisecond)
	if got := len(changes()); got > 2 {
		t.Errorf("debounce: got %d events for one burst", got)
	}
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	w := New(t.TempDir(), nil, func(string) {})
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Errorf("second Start: %v", err)
	}
	w.Stop()
	w.Stop()
}
