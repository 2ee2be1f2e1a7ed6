// Package sweeper closes expired market orders and trade offers on a timer,
// returning their escrowed items to the owners.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Expirer closes every listing due at now and reports how many it closed.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs named expirers at a fixed interval.
type Sweeper struct {
	interval time.Duration
	expirers map[string]Expirer
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a sweeper. expirers is keyed by listing kind for logging.
func New(interval time.Duration, expirers map[string]Expirer, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{interval: interval, expirers: expirers, logger: logger, now: time.Now}
}

// Run sweeps once immediately, then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs every expirer once. A failing expirer does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.now().UTC()
	total := 0
	for name, e := range s.expirers {
		n, err := e.ExpireDue(ctx, now)
		total += n
		if err != nil {
			s.logger.Error("expiry sweep failed", slog.String("listing", name), slog.Int("closed", n), slog.Any("error", err))
			continue
		}
		if n > 0 {
			s.logger.Info("expiry sweep", slog.String("listing", name), slog.Int("closed", n))
		}
	}
	return total
}
