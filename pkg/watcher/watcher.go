// Package watcher implements the ingress file watcher (C5): it observes a
// directory for dropped event files, debounces rapid writes, and emits
// fully-written file contents onto a bounded channel. Files already present
// at startup are emitted in lexicographic order; files that arrive later are
// emitted each as its own quiet period elapses, with no batching or sorting.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/cctelegram/bridge/internal/retry"
)

// Ingested is one file the watcher has successfully read in full.
type Ingested struct {
	Path    string
	Content []byte
}

// Config tunes debounce timing, size limits, and channel capacity.
type Config struct {
	Dir             string
	QuarantineDir   string
	QuietPeriod     time.Duration
	MaxFileBytes    int64
	ChannelCapacity int
	ReadRetries     int
}

// Watcher watches Config.Dir for new or modified files and emits their
// content once writes have gone quiet for QuietPeriod (spec §4.4).
type Watcher struct {
	cfg     Config
	logger  *logrus.Logger
	retrier *retry.Retrier

	events chan Ingested
	errs   chan error

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New returns a Watcher ready to Run.
func New(cfg Config, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 1024
	}
	return &Watcher{
		cfg:     cfg,
		logger:  logger,
		retrier: retry.New(retry.DefaultConfig(), logger),
		events:  make(chan Ingested, cfg.ChannelCapacity),
		errs:    make(chan error, 16),
		timers:  make(map[string]*time.Timer),
	}
}

// Events returns the channel of successfully ingested files.
func (w *Watcher) Events() <-chan Ingested { return w.events }

// Errors returns the channel of non-fatal watch/read errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Run performs the startup recovery scan (pre-existing files, in
// lexicographic order — spec §4.4's at-least-once guarantee across
// restarts) and then watches for new activity until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}
	if err := os.MkdirAll(w.cfg.QuarantineDir, 0o755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch events dir: %w", err)
	}

	w.recoverExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.debounce(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.emitErr(err)
		}
	}
}

// recoverExisting ingests any files already present in the watch directory,
// sorted lexicographically, so no event dropped while the process was down
// is lost (spec §4.4).
func (w *Watcher) recoverExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.emitErr(fmt.Errorf("startup scan: %w", err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		w.ingest(ctx, filepath.Join(w.cfg.Dir, name))
	}
}

// debounce resets a per-file timer on every event; the file is only ingested
// once QuietPeriod has elapsed without a further write, avoiding reads of a
// partially-written file.
func (w *Watcher) debounce(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.QuietPeriod, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

// ingest reads path, retrying transient failures, and quarantines it if the
// file is unreadable or exceeds the size ceiling after retries are
// exhausted (spec §4.4).
func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return // removed before debounce fired; nothing to do
		}
		w.quarantine(path, err)
		return
	}
	if info.IsDir() {
		return
	}
	if info.Size() > w.cfg.MaxFileBytes {
		w.quarantine(path, fmt.Errorf("file exceeds %d byte ceiling", w.cfg.MaxFileBytes))
		return
	}

	var content []byte
	err = w.retrier.Do(ctx, "watcher.read", func(ctx context.Context) error {
		b, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		content = b
		return nil
	})
	if err != nil {
		w.quarantine(path, err)
		return
	}

	select {
	case w.events <- Ingested{Path: path, Content: content}:
	case <-ctx.Done():
	}
}

// quarantine moves an unreadable or oversized file out of the watch
// directory so it cannot be repeatedly (and fruitlessly) retried.
func (w *Watcher) quarantine(path string, cause error) {
	dest := filepath.Join(w.cfg.QuarantineDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil && !os.IsNotExist(err) {
		w.emitErr(fmt.Errorf("quarantine %s: %w (original cause: %v)", path, err, cause))
		return
	}
	w.emitErr(fmt.Errorf("quarantined %s: %w", path, cause))
}

func (w *Watcher) emitErr(err error) {
	select {
	case w.errs <- err:
	default:
		w.logger.WithError(err).Warn("watcher error channel full, dropping")
	}
}
