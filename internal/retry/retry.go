// Package retry provides exponential-backoff retry helpers shared by the
// dedup store and the ingress file watcher.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Config tunes the backoff schedule of a Retrier.
type Config struct {
	MaxAttempts       uint64
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Jitter            bool
}

// DefaultConfig is a general-purpose schedule for in-process operations.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// DatabaseConfig is tuned for the SQLite-backed dedup store, which sees
// longer transient lock contention under WAL mode than an in-process op.
func DatabaseConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Jitter:       true,
	}
}

// retryableSubstrings are lower-cased fragments of transient error messages
// worth retrying: connection churn, lock contention, and timeouts.
var retryableSubstrings = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"too many connections",
	"deadlock",
	"lock timeout",
	"serialization failure",
	"could not serialize access",
	"connection lost",
	"closed the connection",
	"broken pipe",
	"i/o timeout",
	"network is unreachable",
	"no route to host",
	"database is locked",
	"sqlite_busy",
}

// IsRetryableError classifies err as transient (worth another attempt) based
// on standard sentinel errors and common message patterns.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled {
		return false
	}
	if err == context.DeadlineExceeded {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range retryableSubstrings {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// Retrier runs an operation under an exponential backoff schedule, retrying
// only errors IsRetryableError accepts (or that the operation itself marks
// retryable via retry.RetryableError).
type Retrier struct {
	cfg    Config
	logger *logrus.Logger
}

// New returns a Retrier bound to cfg, logging attempts through logger.
func New(cfg Config, logger *logrus.Logger) *Retrier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Retrier{cfg: cfg, logger: logger}
}

// Do runs op, retrying on transient failure per the Retrier's schedule. The
// final error, if any, wraps the last attempt's error.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	backoff, err := retry.NewExponential(r.cfg.InitialDelay)
	if err != nil {
		return err
	}
	backoff = retry.WithMaxRetries(r.cfg.MaxAttempts-1, backoff)
	backoff = retry.WithCappedDuration(r.cfg.MaxDelay, backoff)
	if r.cfg.Jitter {
		backoff = retry.WithJitterPercent(20, backoff)
	}

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			r.logger.WithFields(logrus.Fields{
				"operation": name,
				"attempt":   attempt,
			}).WithError(err).Warn("non-retryable error, giving up")
			return err
		}
		r.logger.WithFields(logrus.Fields{
			"operation": name,
			"attempt":   attempt,
		}).WithError(err).Debug("retryable error, backing off")
		return retry.RetryableError(err)
	})
}
