// Package queue implements the fallback queue (Tier-3): a durable on-disk
// sink for events every higher tier failed to deliver, drained in the
// background with exponential backoff (spec §4.6).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cctelegram/bridge/pkg/events"
)

// Status is the lifecycle state of one queued entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
)

// Entry is the on-disk representation of one fallback-queued event.
type Entry struct {
	Event         events.Event `json:"event"`
	Status        Status       `json:"status"`
	Attempts      int          `json:"attempts"`
	EnqueuedAt    time.Time    `json:"enqueued_at"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	LastError     string       `json:"last_error,omitempty"`
}

// RedeliverFunc attempts to deliver an event that previously exhausted
// every live tier. It is typically the orchestrator's webhook/internal path
// re-run outside the file tier, to avoid re-enqueuing what is already
// durably queued.
type RedeliverFunc func(ctx context.Context, e events.Event) error

// Config tunes the queue's directories and retry schedule.
type Config struct {
	PendingDir    string
	FailedDir     string
	MaxAttempts   int
	DrainInterval time.Duration
	InitialBackoff time.Duration
	MaxBackoff    time.Duration
}

// Queue is the durable Tier-3 fallback sink and its background drainer.
type Queue struct {
	cfg       Config
	redeliver RedeliverFunc
	logger    *logrus.Logger
}

// New returns a Queue ready to Enqueue and Drain.
func New(cfg Config, redeliver RedeliverFunc, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Queue{cfg: cfg, redeliver: redeliver, logger: logger}
}

// Dispatch implements tier.Dispatcher: the file tier's "dispatch" is simply
// a durable enqueue — the event is considered delivered to Tier-3 once the
// entry is safely on disk.
func (q *Queue) Dispatch(ctx context.Context, e events.Event) error {
	return q.Enqueue(e)
}

// Enqueue durably records e as a pending fallback-queue entry using an
// atomic temp-file-then-rename write so a crash mid-write never leaves a
// half-written entry (spec §4.6).
func (q *Queue) Enqueue(e events.Event) error {
	if err := os.MkdirAll(q.cfg.PendingDir, 0o755); err != nil {
		return fmt.Errorf("create pending dir: %w", err)
	}
	now := time.Now().UTC()
	entry := Entry{
		Event:         e,
		Status:        StatusPending,
		Attempts:      0,
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
	return q.writeEntry(q.cfg.PendingDir, e.EventID, entry)
}

func (q *Queue) writeEntry(dir, eventID string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	dest := filepath.Join(dir, eventID+".json")
	tmp, err := os.CreateTemp(dir, eventID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp queue file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename queue file into place: %w", err)
	}
	return nil
}

// Drain runs one pass over pending entries that are due for a retry,
// attempting redelivery and updating or relocating each entry according to
// the outcome. Call this periodically (e.g. from a ticker loop in the
// caller) at Config.DrainInterval.
func (q *Queue) Drain(ctx context.Context) error {
	entries, err := q.pendingEntries()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, pe := range entries {
		if pe.entry.NextAttemptAt.After(now) {
			continue
		}
		q.attempt(ctx, pe)
	}
	return nil
}

type pendingEntry struct {
	path  string
	entry Entry
}

func (q *Queue) pendingEntries() ([]pendingEntry, error) {
	dirEntries, err := os.ReadDir(q.cfg.PendingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pending dir: %w", err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() && filepath.Ext(de.Name()) == ".json" {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	out := make([]pendingEntry, 0, len(names))
	for _, name := range names {
		path := filepath.Join(q.cfg.PendingDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			q.logger.WithError(err).WithField("path", path).Warn("dropping malformed queue entry")
			os.Remove(path)
			continue
		}
		out = append(out, pendingEntry{path: path, entry: entry})
	}
	return out, nil
}

func (q *Queue) attempt(ctx context.Context, pe pendingEntry) {
	pe.entry.Status = StatusInFlight
	_ = q.writeEntry(q.cfg.PendingDir, pe.entry.Event.EventID, pe.entry)

	err := q.redeliver(ctx, pe.entry.Event)
	if err == nil {
		os.Remove(pe.path)
		return
	}

	pe.entry.Attempts++
	pe.entry.LastError = err.Error()
	pe.entry.Status = StatusPending

	if pe.entry.Attempts >= q.cfg.MaxAttempts {
		q.moveToFailed(pe)
		return
	}

	pe.entry.NextAttemptAt = time.Now().UTC().Add(q.backoff(pe.entry.Attempts))
	if werr := q.writeEntry(q.cfg.PendingDir, pe.entry.Event.EventID, pe.entry); werr != nil {
		q.logger.WithError(werr).Warn("failed to persist queue entry retry state")
	}
}

// backoff computes an exponential delay capped at MaxBackoff (no jitter:
// drains are already staggered by DrainInterval's tick granularity).
func (q *Queue) backoff(attempts int) time.Duration {
	d := time.Duration(float64(q.cfg.InitialBackoff) * math.Pow(2, float64(attempts-1)))
	if d > q.cfg.MaxBackoff {
		return q.cfg.MaxBackoff
	}
	return d
}

// moveToFailed relocates an entry that has exhausted its attempt ceiling to
// the failed directory for operator inspection (spec §4.6).
func (q *Queue) moveToFailed(pe pendingEntry) {
	if err := os.MkdirAll(q.cfg.FailedDir, 0o755); err != nil {
		q.logger.WithError(err).Warn("failed to create failed queue dir")
		return
	}
	data, err := json.Marshal(pe.entry)
	if err != nil {
		q.logger.WithError(err).Warn("failed to marshal entry for failed dir")
		return
	}
	dest := filepath.Join(q.cfg.FailedDir, pe.entry.Event.EventID+".json")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		q.logger.WithError(err).Warn("failed to write entry to failed dir")
		return
	}
	os.Remove(pe.path)
}

// Run drives Drain on a ticker until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := q.Drain(ctx); err != nil {
				q.logger.WithError(err).Warn("queue drain pass failed")
			}
		}
	}
}

// Depth reports the number of entries currently pending, for the queue-
// depth gauge (C11).
func (q *Queue) Depth() (int, error) {
	entries, err := q.pendingEntries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
