package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/asset-loan/internal/calendar"
	"github.com/frahmantamala/asset-loan/internal/core/events"
)

// OutboxMessage is one stored event awaiting dispatch.
type OutboxMessage struct {
	Sequence int64
	Event    *events.BaseEvent
	Attempts int
}

// Publisher delivers an event to every subscriber before returning.
type Publisher interface {
	PublishSync(ctx context.Context, event events.Event) error
}

type RelayReport struct {
	Dispatched int
	Failed     int
}

// Relay moves committed outbox events to the event bus in sequence order.
// When an event of an application fails, later events of the same
// application wait for the next pass so subscribers see them in order.
type Relay struct {
	store       OutboxStore
	publisher   Publisher
	clock       calendar.Clock
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
}

func NewRelay(store OutboxStore, publisher Publisher, clock calendar.Clock, batchSize, maxAttempts int, logger *slog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Relay{
		store:       store,
		publisher:   publisher,
		clock:       clock,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (r *Relay) DispatchOnce(ctx context.Context) (RelayReport, error) {
	var report RelayReport

	pending, err := r.store.Pending(ctx, r.batchSize, r.maxAttempts)
	if err != nil {
		return report, err
	}

	blocked := make(map[string]bool)
	for _, msg := range pending {
		aggregate := msg.Event.AggregateID()
		if blocked[aggregate] {
			continue
		}

		if err := r.publisher.PublishSync(ctx, msg.Event); err != nil {
			blocked[aggregate] = true
			report.Failed++
			r.logger.Warn("outbox dispatch failed",
				"sequence", msg.Sequence,
				"event_type", msg.Event.EventType(),
				"aggregate_id", aggregate,
				"attempts", msg.Attempts+1,
				"error", err)
			if markErr := r.store.MarkFailed(ctx, msg.Sequence, err); markErr != nil {
				return report, markErr
			}
			continue
		}

		if err := r.store.MarkDispatched(ctx, msg.Sequence, r.clock.Now()); err != nil {
			return report, err
		}
		report.Dispatched++
	}
	return report, nil
}

// Run dispatches until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := r.DispatchOnce(ctx)
		if err != nil {
			r.logger.Error("outbox pass failed", "error", err)
		} else if report.Dispatched > 0 || report.Failed > 0 {
			r.logger.Info("outbox pass finished", "dispatched", report.Dispatched, "failed", report.Failed)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
