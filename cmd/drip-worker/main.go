package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/leadwell/drip/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "drip-worker",
		EnableShellCompletion: true,
		Usage:                 "Run a workflow engine worker: trigger matching, step dispatch, timer wakes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (postgres://... or memory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus transport (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "entity-api-url",
				Usage:    "Base URL of the entity service",
				Required: true,
				Sources:  cli.EnvVars("ENTITY_API_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for durable timers and the snapshot cache",
				Value:   "",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				Value:   "",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				Value:   0,
				Sources: cli.EnvVars("REDIS_DB"),
			},
			&cli.DurationFlag{
				Name:    "snapshot-cache-ttl",
				Usage:   "How long entity snapshots may be served from cache",
				Value:   0,
				Sources: cli.EnvVars("SNAPSHOT_CACHE_TTL"),
			},
			&cli.DurationFlag{
				Name:    "stuck-after",
				Usage:   "Report executions whose wake or progress is overdue by this much (0 disables)",
				Value:   time.Hour,
				Sources: cli.EnvVars("STUCK_AFTER"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing action plugins",
				Value:    "",
				Required: false,
				Sources:  cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing of step dispatch",
				Value:   false,
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("drip-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing drip worker")

			worker, err := NewWorker(ctx, workerID, logger, workerConfig{
				DatabaseURL:      command.String("database-url"),
				EventBus:         command.String("event-bus"),
				EntityAPIURL:     command.String("entity-api-url"),
				RedisAddr:        command.String("redis-addr"),
				RedisPassword:    command.String("redis-password"),
				RedisDB:          int(command.Int("redis-db")),
				SnapshotCacheTTL: command.Duration("snapshot-cache-ttl"),
				StuckAfter:       command.Duration("stuck-after"),
				PluginsPath:      command.String("plugins-path"),
				Tracing:          command.Bool("tracing"),
			})
			if err != nil {
				return err
			}

			return worker.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
