package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSweepSchedule = "@every 1h"

// Sweeper periodically prunes artifacts older than the retention window.
type Sweeper struct {
	pruner    Pruner
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
}

func NewSweeper(pruner Pruner, retention time.Duration, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		pruner:    pruner,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Sweep runs one pass and returns the number of removed artifacts.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	n, err := s.pruner.Prune(ctx, s.now().Add(-s.retention))
	if err != nil {
		return n, fmt.Errorf("prune artifacts: %w", err)
	}
	if n > 0 {
		s.logger.Info("swept expired artifacts", "count", n, "retention", s.retention)
	}
	return n, nil
}

// Start schedules Sweep. A zero retention disables sweeping.
func (s *Sweeper) Start() error {
	if s.retention <= 0 {
		return nil
	}
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("artifact sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
