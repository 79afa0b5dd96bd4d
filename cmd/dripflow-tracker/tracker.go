// Package main provides the dripflow click-tracking server.
package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dripflow/dripflow/pkg/attribution"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/tracking"
)

type Tracker struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	signer      *attribution.TokenSigner
}

func NewTracker(logger *slog.Logger, persistence persistence.Persistence, secret []byte, window time.Duration) *Tracker {
	return &Tracker{
		logger:      logger,
		persistence: persistence,
		signer:      attribution.NewTokenSigner(secret, window),
	}
}

func (t *Tracker) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("dripflow tracker")
	})

	handlers := tracking.NewHandlers(t.persistence, t.signer, t.logger)
	handlers.Register(app)

	return app
}

func (t *Tracker) Start(port int) error {
	app := t.App()

	return app.Listen(":" + strconv.Itoa(port))
}
