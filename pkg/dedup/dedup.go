// Package dedup implements the Deduplicator (C4): a fast in-memory LRU for
// the common case layered over a persistent SQLite index so dedup survives
// process restarts, with primary (event_id) and secondary (content_hash +
// time window) matching.
package dedup

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/cctelegram/bridge/pkg/events"
)

// Decision classifies the outcome of Observe.
type Decision string

const (
	DecisionFresh             Decision = "fresh"
	DecisionDuplicatePrimary  Decision = "duplicate_primary"
	DecisionDuplicateSecondary Decision = "duplicate_secondary"
)

// PersistentStore is the subset of store.Store the Deduplicator depends on.
type PersistentStore interface {
	SeenPrimary(ctx context.Context, eventID string) (bool, error)
	SeenSecondary(ctx context.Context, contentHash string, window time.Duration) (bool, error)
	Record(ctx context.Context, eventID, contentHash string, seenAt time.Time, ttl time.Duration) error
}

type entry struct {
	contentHash string
	seenAt      time.Time
}

// Deduplicator observes events and reports whether each is fresh or a
// duplicate of one already seen (spec §4.3).
type Deduplicator struct {
	cache           *lru.Cache
	store           PersistentStore
	secondaryWindow time.Duration
	persistentTTL   time.Duration
	group           singleflight.Group
}

// New builds a Deduplicator backed by an LRU of capacity lruCapacity and the
// given persistent store.
func New(lruCapacity int, secondaryWindow, persistentTTL time.Duration, store PersistentStore) (*Deduplicator, error) {
	cache, err := lru.New(lruCapacity)
	if err != nil {
		return nil, err
	}
	return &Deduplicator{
		cache:           cache,
		store:           store,
		secondaryWindow: secondaryWindow,
		persistentTTL:   persistentTTL,
	}, nil
}

// Observe records e if it has not been seen before and reports the
// resulting Decision. Concurrent calls for the same event_id are
// serialized so only one ever observes DecisionFresh (spec §9, first-writer-
// wins tie-break).
func (d *Deduplicator) Observe(ctx context.Context, e events.Event) (Decision, error) {
	ran := false
	v, err, _ := d.group.Do(e.EventID, func() (interface{}, error) {
		ran = true
		return d.observeLocked(ctx, e)
	})
	if err != nil {
		return "", err
	}
	decision := v.(Decision)
	if decision == DecisionFresh && !ran {
		// This caller joined another caller's in-flight observation of the
		// same event_id; only the caller that ran it observes DecisionFresh.
		return DecisionDuplicatePrimary, nil
	}
	return decision, nil
}

func (d *Deduplicator) observeLocked(ctx context.Context, e events.Event) (Decision, error) {
	now := time.Now().UTC()

	if cached, ok := d.cache.Get(e.EventID); ok {
		_ = cached.(entry)
		return DecisionDuplicatePrimary, nil
	}

	if d.store != nil {
		seen, err := d.store.SeenPrimary(ctx, e.EventID)
		if err != nil {
			return "", err
		}
		if seen {
			d.cache.Add(e.EventID, entry{contentHash: e.ContentHash, seenAt: now})
			return DecisionDuplicatePrimary, nil
		}
	}

	contentHash := e.ContentHash
	if contentHash == "" {
		if hash, _, err := e.ComputeContentHash(); err == nil {
			contentHash = hash
		}
	}

	if d.secondaryHit(contentHash, now) {
		return DecisionDuplicateSecondary, nil
	}
	if d.store != nil {
		seen, err := d.store.SeenSecondary(ctx, contentHash, d.secondaryWindow)
		if err != nil {
			return "", err
		}
		if seen {
			return DecisionDuplicateSecondary, nil
		}
	}

	d.cache.Add(e.EventID, entry{contentHash: contentHash, seenAt: now})
	if d.store != nil {
		if err := d.store.Record(ctx, e.EventID, contentHash, now, d.persistentTTL); err != nil {
			return "", err
		}
	}
	return DecisionFresh, nil
}

// secondaryHit scans the in-memory LRU's cached keys for a content hash
// match within the secondary window. The LRU is the fast path; the
// persistent store covers entries evicted from memory.
func (d *Deduplicator) secondaryHit(contentHash string, now time.Time) bool {
	for _, key := range d.cache.Keys() {
		v, ok := d.cache.Peek(key)
		if !ok {
			continue
		}
		en := v.(entry)
		if en.contentHash == contentHash && now.Sub(en.seenAt) <= d.secondaryWindow {
			return true
		}
	}
	return false
}
