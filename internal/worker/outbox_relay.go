package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// OutboxRelay publishes committed ticket events to the dispatcher. Delivery
// is at least once; subscribers must tolerate duplicates.
type OutboxRelay struct {
	outbox     repository.OutboxRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        config.OutboxConfig
}

// NewOutboxRelay creates the relay.
func NewOutboxRelay(outbox repository.OutboxRepository, dispatcher events.Dispatcher, metrics *observability.Metrics, logger *zap.Logger, cfg config.OutboxConfig) *OutboxRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = 30
	}
	if cfg.PollIntervalMillis <= 0 {
		cfg.PollIntervalMillis = 1000
	}
	return &OutboxRelay{outbox: outbox, dispatcher: dispatcher, metrics: metrics, logger: logger, cfg: cfg}
}

// Run drains the outbox every poll interval until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval())
	defer ticker.Stop()
	r.logger.Info("outbox relay started", zap.Duration("interval", r.cfg.PollInterval()))
	for {
		for {
			n, err := r.Drain(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("outbox drain failed", zap.Error(err))
			}
			if err != nil || n < r.cfg.BatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// Drain claims one batch and publishes it. It returns the number of events
// claimed.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	records, err := r.outbox.ClaimPending(ctx, r.cfg.BatchSize, r.cfg.Lease())
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		event := record.Event
		fields := []zap.Field{
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
		}
		if pubErr := r.dispatcher.Publish(ctx, event); pubErr != nil {
			r.metrics.RecordOutbox(string(event.Type), false)
			r.logger.Warn("outbox publish failed", append(fields, zap.Int("attempt", record.Attempts+1), zap.Error(pubErr))...)
			if err := r.outbox.MarkFailed(ctx, event.ID, pubErr.Error(), r.cfg.MaxAttempts); err != nil {
				return len(records), err
			}
			if record.Attempts+1 >= r.cfg.MaxAttempts {
				r.logger.Error("outbox event abandoned", fields...)
			}
			continue
		}
		if err := r.outbox.MarkDispatched(ctx, event.ID); err != nil {
			return len(records), err
		}
		r.metrics.RecordOutbox(string(event.Type), true)
		r.logger.Debug("outbox event dispatched", fields...)
	}
	return len(records), nil
}
