// drip-trigger injects a trigger event onto the event bus, the same path
// webhooks and integrations use. Mostly an ops and testing tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/leadwell/drip/pkg/cmd"
	"github.com/leadwell/drip/pkg/events"
	"github.com/leadwell/drip/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "drip-trigger",
		EnableShellCompletion: true,
		Usage:                 "Publish a trigger event for workers to match",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus transport (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "kind",
				Aliases:  []string{"k"},
				Usage:    "Trigger kind, e.g. score_changed, form_submitted",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "entity",
				Aliases:  []string{"e"},
				Usage:    "Entity id the trigger concerns",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "payload",
				Aliases: []string{"p"},
				Usage:   "Trigger payload as a JSON object",
				Value:   "{}",
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
			logger := log.WithModule("drip-trigger")

			var payload map[string]any

			err := json.Unmarshal([]byte(command.String("payload")), &payload)
			if err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), "trigger", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			event := events.TriggerReceived{
				BaseEvent:   events.NewBaseEvent(events.TriggerReceivedEvent, ""),
				TriggerKind: command.String("kind"),
				EntityID:    command.String("entity"),
				Payload:     payload,
			}

			err = eventBus.Publish(ctx, event.EntityID, event)
			if err != nil {
				return fmt.Errorf("failed to publish trigger: %w", err)
			}

			logger.InfoContext(ctx, "Trigger published",
				"event_id", event.ID,
				"trigger_kind", event.TriggerKind,
				"entity_id", event.EntityID)

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
