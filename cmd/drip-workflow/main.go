// drip-workflow saves and publishes workflow definitions. Definitions enter
// the store only through this tool, so every one of them has passed the
// definition-time gate: structural validation, rule sets against the entity
// field schema, and step parameters against each action kind's schema.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/leadwell/drip/pkg/cmd"
	"github.com/leadwell/drip/pkg/entity"
	"github.com/leadwell/drip/pkg/log"
	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "drip-workflow",
		EnableShellCompletion: true,
		Usage:                 "Validate, save, and publish workflow definitions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (postgres://... or memory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "entity-api-url",
				Usage:    "Base URL of the entity service",
				Required: true,
				Sources:  cli.EnvVars("ENTITY_API_URL"),
			},
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to a workflow definition JSON file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish the definition after saving, sealing it against further changes",
				Value: false,
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing action plugins",
				Value:   "",
				Sources: cli.EnvVars("PLUGINS_PATH"),
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
			logger := log.WithModule("drip-workflow")

			data, err := os.ReadFile(command.String("file"))
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			var def models.WorkflowDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("failed to parse definition file: %w", err)
			}

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			entityClient, err := entity.NewHTTPClient(ctx, command.String("entity-api-url"), logger)
			if err != nil {
				return err
			}

			registry := cmd.NewSchemaRegistry(ctx, logger, command.String("plugins-path"))
			definitions := workflow.NewDefinitions(store, registry, entityClient, logger)

			if err := definitions.Save(ctx, &def); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Workflow definition saved",
				"workflow_id", def.ID, "steps", len(def.Steps))

			if command.Bool("publish") {
				if err := definitions.Publish(ctx, def.ID); err != nil {
					return err
				}

				logger.InfoContext(ctx, "Workflow definition published", "workflow_id", def.ID)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
