package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dripflow/dripflow/pkg/cmd"
	"github.com/dripflow/dripflow/pkg/log"
)

const defaultPort = 9092

func main() {
	logger := log.WithModule("dripflow-tracker")

	command := &cli.Command{
		Name:                  "dripflow-tracker",
		Usage:                 "Serve the click-tracking redirect endpoint",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the tracking server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "attribution-secret",
				Usage:    "HMAC secret for signed attribution tokens",
				Required: true,
				Sources:  cli.EnvVars("ATTRIBUTION_SECRET"),
			},
			&cli.DurationFlag{
				Name:    "attribution-window",
				Usage:   "Attribution cookie validity window",
				Value:   7 * 24 * time.Hour,
				Sources: cli.EnvVars("ATTRIBUTION_WINDOW"),
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

			logger.InfoContext(ctx, "Initializing dripflow tracker")

			persistence := cmd.NewPersistence(command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			tracker := NewTracker(
				logger,
				persistence,
				[]byte(command.String("attribution-secret")),
				command.Duration("attribution-window"),
			)

			if err := tracker.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start tracking server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
