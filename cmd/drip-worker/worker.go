package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/leadwell/drip/pkg/cache"
	"github.com/leadwell/drip/pkg/cmd"
	"github.com/leadwell/drip/pkg/entity"
	"github.com/leadwell/drip/pkg/eventbus"
	"github.com/leadwell/drip/pkg/events"
	"github.com/leadwell/drip/pkg/otelhelper"
	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/rules"
	"github.com/leadwell/drip/pkg/segment"
	schedulesource "github.com/leadwell/drip/pkg/sources/schedule"
	"github.com/leadwell/drip/pkg/timer"
	"github.com/leadwell/drip/pkg/workflow"
)

type workerConfig struct {
	DatabaseURL      string
	EventBus         string
	EntityAPIURL     string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SnapshotCacheTTL time.Duration
	StuckAfter       time.Duration
	PluginsPath      string
	Tracing          bool
}

const stuckCheckInterval = 5 * time.Minute

// Worker hosts the full engine runtime: the trigger matcher fed from the
// event bus, the timer service waking parked executions, and the schedule
// source firing recurring triggers.
type Worker struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	snapshots   rules.SnapshotProvider
	cache       cache.Cache
	timers      timer.TimerService
	engine      *workflow.Engine
	matcher     *workflow.TriggerMatcher
	schedules   *schedulesource.Source
	definitions *workflow.Definitions
	stuckAfter  time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewWorker(ctx context.Context, id string, logger *slog.Logger, cfg workerConfig) (*Worker, error) {
	store := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	eventBus := cmd.NewEventBus(cfg.EventBus, "worker", logger)

	entityClient, err := entity.NewHTTPClient(ctx, cfg.EntityAPIURL, logger)
	if err != nil {
		return nil, err
	}

	var snapshots rules.SnapshotProvider = entityClient

	var snapshotCache cache.Cache

	if cfg.SnapshotCacheTTL > 0 {
		snapshotCache, err = newCache(ctx, cfg)
		if err != nil {
			return nil, err
		}

		snapshots = rules.NewCachedSnapshotProvider(entityClient, snapshotCache, cfg.SnapshotCacheTTL, logger)
	}

	evaluator := rules.NewEvaluator(logger)
	segments := segment.NewEvaluator(store, evaluator, snapshots, entityClient, eventBus, logger)

	registry := cmd.NewRegistry(ctx, logger, cfg.PluginsPath, cmd.Collaborators{
		Memberships: segments,
	})

	dispatcher := workflow.NewDispatcher(registry, logger)

	if cfg.Tracing {
		tracer, err := otelhelper.NewTracer(ctx, "drip-worker")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}

		dispatcher = dispatcher.WithTracer(tracer)
	}

	timers := cmd.NewTimerService(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	engine := workflow.NewEngine(store, dispatcher, evaluator, snapshots, timers, eventBus, id, logger)
	matcher := workflow.NewTriggerMatcher(store, evaluator, snapshots, engine, eventBus, logger)
	schedules := schedulesource.NewSource(store, matcher, logger)
	definitions := workflow.NewDefinitions(store, registry, snapshots, logger)

	return &Worker{
		id:          id,
		logger:      logger,
		persistence: store,
		eventBus:    eventBus,
		snapshots:   snapshots,
		cache:       snapshotCache,
		timers:      timers,
		engine:      engine,
		matcher:     matcher,
		schedules:   schedules,
		definitions: definitions,
		stuckAfter:  cfg.StuckAfter,
		stopCh:      make(chan struct{}),
	}, nil
}

func newCache(ctx context.Context, cfg workerConfig) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(), nil
	}

	return cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (w *Worker) Run(ctx context.Context) error {
	// Definitions stored before an entity schema or registry change may no
	// longer pass the gate. Entry rule evaluation fails closed, so they are
	// reported here rather than silently misfiring.
	failures, err := w.definitions.ValidateStored(ctx)
	if err != nil {
		return err
	}

	if len(failures) > 0 {
		w.logger.WarnContext(ctx, "Some stored workflow definitions failed validation",
			"invalid_count", len(failures))
	}

	err = w.eventBus.Handle(events.TriggerReceivedEvent, w.handleTriggerReceived)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	err = w.timers.Start(ctx, w.engine)
	if err != nil {
		return err
	}

	err = w.schedules.Start(ctx)
	if err != nil {
		return err
	}

	if w.stuckAfter > 0 {
		w.wg.Add(1)
		go w.watchStuck(ctx)
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return w.shutdown(ctx)
}

func (w *Worker) handleTriggerReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.TriggerReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

		return nil
	}

	logger := w.logger.With(
		"trigger_kind", received.TriggerKind,
		"entity_id", received.EntityID,
		"event_id", received.ID,
	)
	logger.InfoContext(ctx, "Processing trigger")

	started, err := w.matcher.OnTrigger(ctx, received.TriggerKind, received.EntityID, received.Payload)
	if err != nil {
		logger.ErrorContext(ctx, "Trigger matching failed", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Trigger processed", "executions_started", len(started))

	return nil
}

// watchStuck periodically reports executions with overdue wakes or stale
// progress. Reporting only: a stuck execution needs operator attention, not
// an automatic retry.
func (w *Worker) watchStuck(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(stuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			stuck, err := w.engine.Stuck(ctx, w.stuckAfter)
			if err != nil {
				w.logger.ErrorContext(ctx, "Failed to check for stuck executions", "error", err)

				continue
			}

			for _, exec := range stuck {
				w.logger.WarnContext(ctx, "Execution appears stuck",
					"execution_id", exec.ID,
					"workflow_id", exec.WorkflowID,
					"entity_id", exec.EntityID,
					"status", exec.Status,
					"next_wake_at", exec.NextWakeAt,
					"updated_at", exec.UpdatedAt,
				)
			}
		}
	}
}

func (w *Worker) shutdown(ctx context.Context) error {
	close(w.stopCh)
	w.wg.Wait()

	if err := w.schedules.Stop(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to stop schedule source", "error", err)
	}

	if err := w.timers.Stop(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to stop timer service", "error", err)
	}

	if err := w.eventBus.Close(); err != nil {
		w.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if w.cache != nil {
		if err := w.cache.Close(); err != nil {
			w.logger.ErrorContext(ctx, "Failed to close snapshot cache", "error", err)
		}
	}

	if err := w.persistence.Close(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)

		return err
	}

	return nil
}
