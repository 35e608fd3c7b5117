package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// fileState identifies one version of the config file on disk.
type fileState struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Watcher polls a config file and calls onChange with the previous and the
// new config whenever a valid edit changes at least one setting. Polling
// keeps working when editors replace the file instead of writing it.
//
// Invalid edits are logged and ignored; the last valid config stays current.
// Edits that only touch comments or formatting do not reach onChange.
type Watcher struct {
	path     string
	format   Format
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	state   fileState

	reloads  atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger used for reload reports.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once and starts polling it in the background. The
// file format is chosen by [FormatFromPath]. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		format:   FormatFromPath(path),
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.state = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads returns how many times onChange has been invoked.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.state
	w.mu.Unlock()
	if info.ModTime().Equal(prev.modTime) && info.Size() == prev.size {
		return
	}

	cfg, st, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: invalid config, keeping the previous one", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if st.sum == prev.sum {
		w.state = st
		w.mu.Unlock()
		return
	}
	old := w.current
	diff := Diff(old, cfg)
	w.state = st
	if !diff.Empty() {
		w.current = cfg
	}
	w.mu.Unlock()

	if diff.Empty() {
		w.log.Debug("config watcher: file changed without effective changes", "path", w.path)
		return
	}
	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", diff.LogLevelChanged,
		"gain_changed", diff.GainChanged,
		"restart_required", diff.RestartRequired,
	)

	w.reloads.Add(1)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read parses and validates the file. An invalid file is an error.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := Decode(bytes.NewReader(data), w.format)
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
