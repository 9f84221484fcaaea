// Package config loads the bridge's process configuration from environment
// variables. Configuration-file loading and hot-reload are explicit external
// collaborators (spec §1) — the bridge reads its environment once at
// startup and holds the result as an immutable snapshot (spec §9).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Server holds the local HTTP surface configuration (health/metrics/report
// endpoints and the internal Tier-2 processor).
type Server struct {
	HealthPort            int
	InternalProcessorPort int
	MetricsBearerToken    string
	ShutdownGrace         time.Duration
}

// Watcher configures the Tier-3 ingress file watcher (C5).
type Watcher struct {
	EventsDir       string
	QuarantineDir   string
	QuietPeriod     time.Duration
	MaxFileBytes    int64
	ChannelCapacity int
	ReadRetries     int
}

// Tiers configures per-tier deadlines and circuit-breaker thresholds (C6).
type Tiers struct {
	WebhookTimeout        time.Duration
	InternalTimeout       time.Duration
	FileEnqueueTimeout    time.Duration
	ConsecutiveFailures   uint32
	SuccessRateThreshold  float64
	CircuitCooldown       time.Duration
	HalfOpenProbes        uint32
	MaxConcurrentPerTier  int
	FallbackDrainInterval time.Duration
	FallbackMaxAttempts   int
}

// Dedup configures the Deduplicator (C4).
type Dedup struct {
	LRUCapacity       int
	SecondaryWindow   time.Duration
	PersistentTTL     time.Duration
	StorePath         string
}

// RateLimit configures the per-user token bucket and allowlist (C3).
type RateLimit struct {
	AllowedUserIDs []int64
	BurstPerWindow int
	WindowSeconds  int
}

// Logging configures the logrus logger level.
type Logging struct {
	Level string
}

// Config is the fully assembled, immutable process configuration.
type Config struct {
	ChatBotToken      string
	HMACSharedSecret  string
	ResponsesDir      string
	Server            Server
	Watcher           Watcher
	Tiers             Tiers
	Dedup             Dedup
	RateLimit         RateLimit
	Logging           Logging
}

// Default returns the baseline configuration used before environment
// overlay, mirroring the teacher's DefaultConfig() convention.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".cc_telegram")
	return &Config{
		ResponsesDir: filepath.Join(base, "responses"),
		Server: Server{
			HealthPort:            8080,
			InternalProcessorPort: 8081,
			ShutdownGrace:         10 * time.Second,
		},
		Watcher: Watcher{
			EventsDir:       filepath.Join(base, "events"),
			QuarantineDir:   filepath.Join(base, "events", "quarantine"),
			QuietPeriod:     500 * time.Millisecond,
			MaxFileBytes:    1024 * 1024,
			ChannelCapacity: 1024,
			ReadRetries:     3,
		},
		Tiers: Tiers{
			WebhookTimeout:        100 * time.Millisecond,
			InternalTimeout:       500 * time.Millisecond,
			FileEnqueueTimeout:    5 * time.Second,
			ConsecutiveFailures:   3,
			SuccessRateThreshold:  0.5,
			CircuitCooldown:       30 * time.Second,
			HalfOpenProbes:        1,
			MaxConcurrentPerTier:  32,
			FallbackDrainInterval: time.Second,
			FallbackMaxAttempts:   10,
		},
		Dedup: Dedup{
			LRUCapacity:     10000,
			SecondaryWindow: 5 * time.Second,
			PersistentTTL:   24 * time.Hour,
			StorePath:       filepath.Join(base, "dedup.db"),
		},
		RateLimit: RateLimit{
			BurstPerWindow: 30,
			WindowSeconds:  60,
		},
		Logging: Logging{Level: "info"},
	}
}

// LoadFromEnv overlays environment variables onto Default(), returning an
// error if a mandatory variable is missing or a present one is malformed.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	cfg.ChatBotToken = os.Getenv("CCTG_BOT_TOKEN")
	if cfg.ChatBotToken == "" {
		return nil, fmt.Errorf("CCTG_BOT_TOKEN is required")
	}

	allowlist := os.Getenv("CCTG_ALLOWED_USER_IDS")
	if allowlist == "" {
		return nil, fmt.Errorf("CCTG_ALLOWED_USER_IDS is required")
	}
	ids, err := parseInt64List(allowlist)
	if err != nil {
		return nil, fmt.Errorf("CCTG_ALLOWED_USER_IDS: %w", err)
	}
	cfg.RateLimit.AllowedUserIDs = ids

	cfg.HMACSharedSecret = os.Getenv("CCTG_HMAC_SECRET")
	if cfg.HMACSharedSecret != "" && len(cfg.HMACSharedSecret) < 32 {
		return nil, fmt.Errorf("CCTG_HMAC_SECRET must be at least 32 bytes")
	}

	if v := os.Getenv("CCTG_HEALTH_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("CCTG_HEALTH_PORT: %w", err)
		}
		cfg.Server.HealthPort = p
	}
	if v := os.Getenv("CCTG_METRICS_TOKEN"); v != "" {
		cfg.Server.MetricsBearerToken = v
	}
	if v := os.Getenv("CCTG_SHUTDOWN_GRACE_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("CCTG_SHUTDOWN_GRACE_SECONDS: %w", err)
		}
		cfg.Server.ShutdownGrace = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("CCTG_EVENTS_DIR"); v != "" {
		cfg.Watcher.EventsDir = v
		cfg.Watcher.QuarantineDir = filepath.Join(v, "quarantine")
	}
	if v := os.Getenv("CCTG_RESPONSES_DIR"); v != "" {
		cfg.ResponsesDir = v
	}
	if v := os.Getenv("CCTG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

func parseInt64List(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", p, err)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("allowlist must contain at least one id")
	}
	return out, nil
}
