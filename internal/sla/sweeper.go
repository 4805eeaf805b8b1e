package sla

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frahmantamala/asset-loan/internal/calendar"
)

// Evaluator runs the time-driven part of the workflow for one application.
type Evaluator interface {
	Evaluate(ctx context.Context, applicationID string) error
}

// SnapshotReader lists the applications a sweep has to visit, read from
// committed state.
type SnapshotReader interface {
	DueApplicationIDs(ctx context.Context, now time.Time) ([]string, error)
}

type SweepReport struct {
	Visited int
	Failed  int
}

// Sweeper is the periodic background evaluation of active timers. A failure
// for one application is logged and never stops the others.
type Sweeper struct {
	reader      SnapshotReader
	evaluator   Evaluator
	clock       calendar.Clock
	concurrency int
	logger      *slog.Logger
}

func NewSweeper(reader SnapshotReader, evaluator Evaluator, clock calendar.Clock, concurrency int, logger *slog.Logger) *Sweeper {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{
		reader:      reader,
		evaluator:   evaluator,
		clock:       clock,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	now := s.clock.Now()
	ids, err := s.reader.DueApplicationIDs(ctx, now)
	if err != nil {
		s.logger.Error("sla sweep could not list applications", "error", err)
		return SweepReport{}, err
	}

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.evaluator.Evaluate(ctx, id); err != nil {
				failed.Add(1)
				s.logger.Error("sla evaluation failed", "application_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := SweepReport{Visited: len(ids), Failed: int(failed.Load())}
	s.logger.Info("sla sweep finished", "visited", report.Visited, "failed", report.Failed)
	return report, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sla sweeper started", "interval", interval.String(), "concurrency", s.concurrency)
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("sla sweep will retry next tick", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("sla sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
