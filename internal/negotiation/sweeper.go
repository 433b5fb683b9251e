package negotiation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires overdue sessions.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is done. A non-positive interval disables the sweep.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("expiry sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.engine.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err, "expired", n)
		return
	}
	if n > 0 {
		s.logger.Info("expired negotiations closed", "count", n)
	}
}
