// Command bridge is the cctelegram-bridge process entrypoint. It assembles
// C1-C11 into a running pipeline, then waits for SIGTERM/SIGINT to begin a
// graceful drain (spec §5/§6). Flag parsing and config-file hot-reload are
// explicit external collaborators (spec §1) — this binary reads its
// environment once via internal/config and otherwise takes no arguments.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cctelegram/bridge/internal/config"
	"github.com/cctelegram/bridge/pkg/bufferpool"
	"github.com/cctelegram/bridge/pkg/chat"
	"github.com/cctelegram/bridge/pkg/correlator"
	"github.com/cctelegram/bridge/pkg/dedup"
	"github.com/cctelegram/bridge/pkg/dedup/store"
	"github.com/cctelegram/bridge/pkg/events"
	"github.com/cctelegram/bridge/pkg/health"
	"github.com/cctelegram/bridge/pkg/integrity"
	"github.com/cctelegram/bridge/pkg/metrics"
	"github.com/cctelegram/bridge/pkg/orchestration/tier"
	"github.com/cctelegram/bridge/pkg/processor"
	"github.com/cctelegram/bridge/pkg/queue"
	"github.com/cctelegram/bridge/pkg/ratelimit"
	"github.com/cctelegram/bridge/pkg/validation"
	"github.com/cctelegram/bridge/pkg/watcher"
)

// exit codes per spec §6.
const (
	exitClean   = 0
	exitConfig  = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	logger := newLogger(cfg.Logging.Level)
	logger.Info("starting cctelegram-bridge")

	app, err := assemble(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to assemble pipeline")
		return exitRuntime
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		logger.WithError(err).Error("bridge exited with error")
		return exitRuntime
	}
	logger.Info("bridge shut down cleanly")
	return exitClean
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// bridge holds every assembled component and drives the pipeline glue the
// spec's §2 control-flow diagram describes: watcher -> validate -> dedup ->
// orchestrator, with the internal processor, health server, queue drainer,
// and correlator's expiry sweeper running alongside.
type bridge struct {
	cfg    *config.Config
	logger *logrus.Logger

	watcher      *watcher.Watcher
	validator    *validation.Validator
	integrity    *integrity.Validator
	deduplicator *dedup.Deduplicator
	orchestrator *tier.Orchestrator
	queue        *queue.Queue
	bufferPool   *bufferpool.Pool
	correlator   *correlator.Correlator
	processor    *processor.Processor
	health       *health.Server
	metrics      *metrics.Metrics

	dedupStore *store.Store

	internalServer *http.Server
}

func assemble(cfg *config.Config, logger *logrus.Logger) (*bridge, error) {
	m := metrics.New()

	dedupStore, err := store.Open(cfg.Dedup.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}

	dd, err := dedup.New(cfg.Dedup.LRUCapacity, cfg.Dedup.SecondaryWindow, cfg.Dedup.PersistentTTL, dedupStore)
	if err != nil {
		return nil, fmt.Errorf("build deduplicator: %w", err)
	}

	validator := validation.New()
	authorizer := ratelimit.NewAuthorizer(cfg.RateLimit.AllowedUserIDs)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.BurstPerWindow, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)

	pool := bufferpool.New(bufferpool.DefaultMaxBuffers)

	corr := correlator.New(cfg.ResponsesDir, authorizer, limiter, logger)

	chatClient := chat.NewWebhookClient(cfg.ChatBotToken)
	internalClient := processor.NewClient(
		fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.InternalProcessorPort),
		[]byte(cfg.HMACSharedSecret), nil)

	// The drainer's redeliver path retries only the live tiers (webhook,
	// then internal) — never re-enqueues into itself — so a queued entry
	// eventually either leaves the queue via a live tier or exhausts its
	// attempt ceiling into the failed/ directory (spec §4.6).
	redeliver := func(ctx context.Context, e events.Event) error {
		if err := chatClient.Send(ctx, chat.RenderEvent(e)); err == nil {
			return nil
		}
		return internalClient.Dispatch(ctx, e)
	}

	fallbackQueue := queue.New(queue.Config{
		PendingDir:     filepath.Join(cfg.Watcher.EventsDir, "fallback"),
		FailedDir:      filepath.Join(cfg.Watcher.EventsDir, "failed"),
		MaxAttempts:    cfg.Tiers.FallbackMaxAttempts,
		DrainInterval:  cfg.Tiers.FallbackDrainInterval,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
	}, redeliver, logger)

	orchestrator := tier.New(logger,
		tier.Config{
			Name:                tier.Webhook,
			Dispatcher:          webhookDispatcher{client: chatClient},
			Timeout:             cfg.Tiers.WebhookTimeout,
			MaxConcurrent:       cfg.Tiers.MaxConcurrentPerTier,
			ConsecutiveFailures: cfg.Tiers.ConsecutiveFailures,
			CircuitCooldown:     cfg.Tiers.CircuitCooldown,
			HalfOpenProbes:      cfg.Tiers.HalfOpenProbes,
			SuccessRateFloor:    cfg.Tiers.SuccessRateThreshold,
		},
		tier.Config{
			Name:                tier.Internal,
			Dispatcher:          internalClient,
			Timeout:             cfg.Tiers.InternalTimeout,
			MaxConcurrent:       cfg.Tiers.MaxConcurrentPerTier,
			ConsecutiveFailures: cfg.Tiers.ConsecutiveFailures,
			CircuitCooldown:     cfg.Tiers.CircuitCooldown,
			HalfOpenProbes:      cfg.Tiers.HalfOpenProbes,
			SuccessRateFloor:    cfg.Tiers.SuccessRateThreshold,
		},
		tier.Config{
			Name:                tier.File,
			Dispatcher:          fallbackQueue,
			Timeout:             cfg.Tiers.FileEnqueueTimeout,
			MaxConcurrent:       cfg.Tiers.MaxConcurrentPerTier,
			ConsecutiveFailures: cfg.Tiers.ConsecutiveFailures,
			CircuitCooldown:     cfg.Tiers.CircuitCooldown,
			HalfOpenProbes:      cfg.Tiers.HalfOpenProbes,
			// A near-zero (not exactly zero, which New() would treat as
			// "use the 0.5 default") floor keeps the terminal file tier
			// eligible even after a string of enqueue failures.
			SuccessRateFloor: 0.0001,
		},
	)
	orchestrator.OnAttempt(m.ObserveAttempt)

	// The internal HTTP processor (Tier-2) is a distinct delivery path from
	// the orchestrator's own Tier-1 attempt: it re-validates and dispatches
	// straight to the chat client, independent of the orchestrator's
	// circuit/concurrency bookkeeping for Tier-1 (spec §4.7 — "never trust
	// in-memory caller").
	proc := processor.New([]byte(cfg.HMACSharedSecret), processor.DispatcherFunc(func(e events.Event) error {
		return chatClient.Send(context.Background(), chat.RenderEvent(e))
	}), logger)

	w := watcher.New(watcher.Config{
		Dir:             cfg.Watcher.EventsDir,
		QuarantineDir:   cfg.Watcher.QuarantineDir,
		QuietPeriod:     cfg.Watcher.QuietPeriod,
		MaxFileBytes:    cfg.Watcher.MaxFileBytes,
		ChannelCapacity: cfg.Watcher.ChannelCapacity,
		ReadRetries:     cfg.Watcher.ReadRetries,
	}, logger)

	healthServer := health.NewServer(
		fmt.Sprintf(":%d", cfg.Server.HealthPort),
		m.Registry(),
		cfg.Server.MetricsBearerToken,
		func() (map[string]interface{}, error) {
			depth, _ := fallbackQueue.Depth()
			stats := pool.Stats()
			return map[string]interface{}{
				"queue_depth":          depth,
				"buffer_pool_hit_rate": pool.HitRate(),
				"buffer_pool_active":   stats.ActiveCount,
			}, nil
		},
		logger,
	)

	return &bridge{
		cfg:            cfg,
		logger:         logger,
		watcher:        w,
		validator:      validator,
		integrity:      integrity.New(),
		deduplicator:   dd,
		orchestrator:   orchestrator,
		queue:          fallbackQueue,
		bufferPool:     pool,
		correlator:     corr,
		processor:      proc,
		health:         healthServer,
		metrics:        m,
		dedupStore:     dedupStore,
		internalServer: &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.InternalProcessorPort), Handler: proc},
	}, nil
}

// webhookDispatcher adapts a chat.Client to tier.Dispatcher.
type webhookDispatcher struct {
	client chat.Client
}

func (d webhookDispatcher) Dispatch(ctx context.Context, e events.Event) error {
	return d.client.Send(ctx, chat.RenderEvent(e))
}

// Run drives the pipeline until ctx is cancelled, then drains for
// Config.Server.ShutdownGrace before returning (spec §5).
func (b *bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	b.health.StartAsync()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.health.Stop(stopCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.internalServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("internal processor server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.watcher.Run(ctx); err != nil {
			errCh <- fmt.Errorf("watcher: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.queue.Run(ctx); err != nil {
			errCh <- fmt.Errorf("fallback queue drainer: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.drainWatcherErrors(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.pumpPipeline(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.sweepExpiredApprovals(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		b.logger.WithError(err).Error("component failed, beginning shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), b.cfg.Server.ShutdownGrace)
	defer cancel()
	_ = b.internalServer.Shutdown(shutdownCtx)

	wg.Wait()
	return b.dedupStore.Close()
}

// pumpPipeline is the C5->C2->C4->C6 path: every file the watcher
// releases is validated, deduplicated, and handed to the orchestrator; no
// per-user authorization step runs on this path. On terminal success the
// original file is removed (spec §4.5's deletion rule).
func (b *bridge) pumpPipeline(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ing, ok := <-b.watcher.Events():
			if !ok {
				return
			}
			b.processIngested(ctx, ing)
		}
	}
}

func (b *bridge) processIngested(ctx context.Context, ing watcher.Ingested) {
	b.metrics.RecordReceived()

	var e events.Event
	if err := decodeEvent(ing.Content, &e); err != nil {
		b.logger.WithError(err).WithField("path", ing.Path).Warn("malformed event file, quarantining")
		b.quarantine(ing.Path)
		return
	}

	ingressMeta, err := b.integrity.Validate(ing.Content, integrity.CheckpointIngress, e.EventID)
	if err != nil {
		b.logger.WithError(err).WithField("event_id", e.EventID).Error("ingress hashing failed")
		b.quarantine(ing.Path)
		return
	}
	b.logger.WithFields(logrus.Fields{
		"event_id":   e.EventID,
		"short_hash": integrity.ShortHash(ingressMeta.ContentHash),
	}).Debug("event stamped at ingress")

	if err := b.validator.Validate(e); err != nil {
		b.metrics.RecordValidation(err)
		b.logger.WithError(err).WithField("event_id", e.EventID).Info("event failed validation")
		b.quarantine(ing.Path)
		return
	}
	b.metrics.RecordValidation(nil)

	decision, err := b.deduplicator.Observe(ctx, e)
	if err != nil {
		b.logger.WithError(err).WithField("event_id", e.EventID).Warn("dedup observe failed")
		return
	}
	b.metrics.RecordDedup(decision)
	if decision != dedup.DecisionFresh {
		_ = os.Remove(ing.Path)
		return
	}

	if e.Type == events.TypeApprovalRequest && e.TaskID != "" {
		b.correlator.RegisterApproval(e.TaskID, time.Now().Add(24*time.Hour))
	}

	attempts, dispatchErr := b.orchestrator.Dispatch(ctx, e)
	if dispatchErr != nil {
		// Even the durable file-tier enqueue failed: leave the original
		// file in place for restart re-ingestion (spec §4.5/§8 invariant —
		// no event is ever both deleted and undelivered).
		b.logger.WithField("event_id", e.EventID).Error("all tiers including fallback enqueue failed")
		return
	}
	if landedInFileTier(attempts) {
		// Durably enqueued but not yet actually delivered (spec scenario
		// 3): the original file stays on disk. A later successful drain
		// of the queue entry does not remove it (queue entries carry no
		// original path); on restart it is re-ingested, classified as a
		// duplicate since this event_id is already recorded as seen by
		// the deduplicator, and removed then.
		return
	}
	_ = os.Remove(ing.Path)
}

// landedInFileTier reports whether the last (successful) attempt was the
// file tier, meaning the event was durably queued rather than delivered.
func landedInFileTier(attempts []tier.Attempt) bool {
	if len(attempts) == 0 {
		return false
	}
	return attempts[len(attempts)-1].Tier == tier.File
}

// decodeEvent parses raw file content into e and stamps its derived
// content_hash/content_size_bytes fields (spec §3's "derived" invariant —
// never trusted from the wire).
func decodeEvent(content []byte, e *events.Event) error {
	if err := json.Unmarshal(content, e); err != nil {
		return fmt.Errorf("decode event json: %w", err)
	}
	return e.Stamp()
}

func (b *bridge) quarantine(path string) {
	dest := filepath.Join(b.cfg.Watcher.QuarantineDir, filepath.Base(path))
	_ = os.Rename(path, dest)
}

func (b *bridge) drainWatcherErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-b.watcher.Errors():
			if !ok {
				return
			}
			b.logger.WithError(err).Warn("watcher reported a non-fatal error")
		}
	}
}

func (b *bridge) sweepExpiredApprovals(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.correlator.SweepExpired(now)
		}
	}
}
