package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
audio:
  input_gain: 1.0
stt:
  model_path: models/ggml-base.bin
`

const watcherUpdatedYAML = `
server:
  log_level: debug
audio:
  input_gain: 2.0
stt:
  model_path: models/ggml-base.bin
`

const watcherCommentedYAML = `
# louder microphone next week
server:
  log_level: info
audio:
  input_gain: 1.0
stt:
  model_path: models/ggml-base.bin
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// reloadRecorder collects watcher callbacks.
type reloadRecorder struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
	fired chan struct{}
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{fired: make(chan struct{}, 8)}
}

func (r *reloadRecorder) onChange(old, updated *config.Config) {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]*config.Config{old, updated})
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// startWatcher writes content to a temp file and watches it with a fast
// poll interval.
func startWatcher(t *testing.T, content string, rec *reloadRecorder) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	writeFile(t, path, content)
	var cb func(old, new *config.Config)
	if rec != nil {
		cb = rec.onChange
	}
	w, err := config.NewWatcher(path, cb, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	// Let the first poll see the initial state.
	time.Sleep(100 * time.Millisecond)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Audio.InputGain != 1.0 {
		t.Errorf("initial config: log_level=%q input_gain=%g", cfg.Server.LogLevel, cfg.Audio.InputGain)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherValidYAML, rec)

	writeFile(t, path, watcherUpdatedYAML)
	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	rec.mu.Lock()
	old, updated := rec.pairs[0][0], rec.pairs[0][1]
	rec.mu.Unlock()
	if old.Server.LogLevel != config.LogInfo || updated.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: old %q, new %q", old.Server.LogLevel, updated.Server.LogLevel)
	}
	if updated.Audio.InputGain != 2.0 {
		t.Errorf("new input_gain: got %g, want 2", updated.Audio.InputGain)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() was not updated")
	}
	if w.Reloads() != 1 {
		t.Errorf("Reloads: got %d, want 1", w.Reloads())
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherValidYAML, rec)

	writeFile(t, path, watcherInvalidYAML)
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_CommentOnlyEditIsIgnored(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherValidYAML, rec)

	writeFile(t, path, watcherCommentedYAML)
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("comment-only edit fired %d callbacks", n)
	}
	if w.Reloads() != 0 {
		t.Errorf("Reloads: got %d, want 0", w.Reloads())
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	_, path := startWatcher(t, watcherValidYAML, rec)

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/earshot.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherValidYAML, nil)
	w.Stop()
	w.Stop()
}
