package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dripflow/dripflow/pkg/cmd"
	"github.com/dripflow/dripflow/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "dripflow-engine",
		EnableShellCompletion: true,
		Usage:                 "Start the flow engine: trigger dispatch, step execution, wait/resume scheduling and revenue attribution",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, memory)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the durable delay queue (in-process timers only when unset)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "flows-dir",
				Usage:   "Directory of flow definition documents to import at startup",
				Value:   "",
				Sources: cli.EnvVars("FLOWS_DIR"),
			},
			&cli.StringFlag{
				Name:     "attribution-secret",
				Usage:    "HMAC secret for signed attribution tokens",
				Required: true,
				Sources:  cli.EnvVars("ATTRIBUTION_SECRET"),
			},
			&cli.DurationFlag{
				Name:    "attribution-window",
				Usage:   "Attribution cookie validity and click-log lookback window",
				Value:   7 * 24 * time.Hour,
				Sources: cli.EnvVars("ATTRIBUTION_WINDOW"),
			},
			&cli.StringFlag{
				Name:    "sweep-spec",
				Usage:   "Cron spec for the waiting-execution recovery sweep",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SWEEP_SPEC"),
			},
			&cli.DurationFlag{
				Name:    "queue-poll-interval",
				Usage:   "How often the durable delay queue is drained",
				Value:   2 * time.Second,
				Sources: cli.EnvVars("QUEUE_POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "soft-bounce-threshold",
				Usage:   "Soft bounces per address before escalation to suppression",
				Value:   3,
				Sources: cli.EnvVars("SOFT_BOUNCE_THRESHOLD"),
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

			logger := log.WithModule("dripflow-engine")

			logger.InfoContext(ctx, "Initializing dripflow engine")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			manager, err := NewEngineManager(ctx, EngineConfig{
				RedisURL:            command.String("redis-url"),
				FlowsDir:            command.String("flows-dir"),
				AttributionSecret:   command.String("attribution-secret"),
				AttributionWindow:   command.Duration("attribution-window"),
				SweepSpec:           command.String("sweep-spec"),
				QueuePollInterval:   command.Duration("queue-poll-interval"),
				SoftBounceThreshold: command.Int("soft-bounce-threshold"),
			}, persistence, eventBus, logger)
			if err != nil {
				return err
			}

			return manager.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
