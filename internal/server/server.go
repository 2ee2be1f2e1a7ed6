package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/minerush/economy/internal/config"
	"github.com/minerush/economy/internal/routes"
	"github.com/minerush/economy/internal/sweeper"
)

// Server wraps the Fiber application and the background expiry sweeper.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	sweeper *sweeper.Sweeper
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          routes.ErrorHandler,
		DisableStartupMessage: !cfg.IsDev(),
	})

	svcs, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	sw := sweeper.New(cfg.Economy.ExpirySweepInterval, map[string]sweeper.Expirer{
		"market_order": svcs.Market,
		"trade_offer":  svcs.Trade,
	}, logger)

	return &Server{app: app, cfg: cfg, sweeper: sw}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// RunSweeper closes expired listings until ctx is canceled.
func (s *Server) RunSweeper(ctx context.Context) {
	s.sweeper.Run(ctx)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
