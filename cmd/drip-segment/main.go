// drip-segment runs a segment recalculation pass and exits. It is meant to
// run on a schedule (cron, k8s CronJob) rather than as a resident service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/leadwell/drip/pkg/cmd"
	"github.com/leadwell/drip/pkg/entity"
	"github.com/leadwell/drip/pkg/log"
	"github.com/leadwell/drip/pkg/rules"
	"github.com/leadwell/drip/pkg/segment"
)

func main() {
	command := &cli.Command{
		Name:                  "drip-segment",
		EnableShellCompletion: true,
		Usage:                 "Recalculate dynamic segment membership",
		Flags: []cli.Flag{
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
				Name:    "segment",
				Aliases: []string{"s"},
				Usage:   "Recalculate only this segment id (default: every dynamic segment)",
				Value:   "",
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
			logger := log.WithModule("drip-segment")

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "segment", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			entityClient, err := entity.NewHTTPClient(ctx, command.String("entity-api-url"), logger)
			if err != nil {
				return err
			}

			evaluator := segment.NewEvaluator(store, rules.NewEvaluator(logger), entityClient, entityClient, eventBus, logger)

			if segmentID := command.String("segment"); segmentID != "" {
				return recalculate(ctx, logger, evaluator, segmentID)
			}

			defs, err := store.Segments().All(ctx)
			if err != nil {
				return fmt.Errorf("failed to list segments: %w", err)
			}

			for _, def := range defs {
				if !def.IsDynamic {
					continue
				}

				if err := recalculate(ctx, logger, evaluator, def.ID); err != nil {
					// One broken segment must not block the rest of the pass.
					logger.ErrorContext(ctx, "Segment recalculation failed", "segment_id", def.ID, "error", err)
				}
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func recalculate(ctx context.Context, logger *slog.Logger, evaluator *segment.Evaluator, segmentID string) error {
	result, err := evaluator.Recalculate(ctx, segmentID)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Segment recalculated",
		"segment_id", segmentID,
		"added", len(result.Added),
		"removed", len(result.Removed),
		"failed", len(result.Failed))

	return nil
}
