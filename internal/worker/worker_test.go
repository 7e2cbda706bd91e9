package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
)

func seedTicket(t *testing.T, store *memory.Store, id string) events.Event {
	t.Helper()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ticket := &domain.Ticket{
		ID: id, Number: "TKT-" + id, Title: "Printer", Description: "jam",
		Type: domain.TicketTypeHardware, Priority: domain.TicketPriorityMedium,
		Status: domain.TicketStatusOpen, CreatorID: "u1", Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	event := events.Event{ID: "ev-" + id, Type: events.EventTicketCreated, TicketID: id, ActorID: "u1", Timestamp: now}
	require.NoError(t, store.Repositories().Tickets.Create(context.Background(), ticket, event, nil))
	return event
}

func TestRelayDispatchesPendingEvents(t *testing.T) {
	store := memory.New()
	seedTicket(t, store, "t1")
	seedTicket(t, store, "t2")

	dispatcher := events.NewInMemoryDispatcher()
	var seen []string
	dispatcher.Subscribe(events.EventTicketCreated, func(ctx context.Context, e events.Event) error {
		seen = append(seen, e.TicketID)
		return nil
	})

	relay := NewOutboxRelay(store.Repositories().Outbox, dispatcher, nil, nil, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3, LeaseSeconds: 30, PollIntervalMillis: 10})
	n, err := relay.Drain(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"t1", "t2"}, seen)
	assert.Equal(t, 0, store.PendingCount())

	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayGivesUpAfterMaxAttempts(t *testing.T) {
	store := memory.New()
	seedTicket(t, store, "t1")

	dispatcher := events.NewInMemoryDispatcher()
	var calls int
	dispatcher.Subscribe(events.EventTicketCreated, func(ctx context.Context, e events.Event) error {
		calls++
		return errors.New("smtp down")
	})

	relay := NewOutboxRelay(store.Repositories().Outbox, dispatcher, nil, nil, config.OutboxConfig{BatchSize: 10, MaxAttempts: 2, LeaseSeconds: 30, PollIntervalMillis: 10})
	for i := 0; i < 4; i++ {
		_, err := relay.Drain(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, store.PendingCount())
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	store := memory.New()
	seedTicket(t, store, "t1")
	dispatcher := events.NewInMemoryDispatcher()
	var delivered atomic.Int32
	dispatcher.Subscribe(events.EventTicketCreated, func(ctx context.Context, e events.Event) error {
		delivered.Add(1)
		return nil
	})
	relay := NewOutboxRelay(store.Repositories().Outbox, dispatcher, nil, nil, config.OutboxConfig{PollIntervalMillis: 5})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return delivered.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

type closerFunc func(ctx context.Context) (int, error)

func (f closerFunc) AutoCloseResolved(ctx context.Context) (int, error) { return f(ctx) }

func TestAutoCloseSchedulerRunOnce(t *testing.T) {
	s, err := NewAutoCloseScheduler(closerFunc(func(ctx context.Context) (int, error) { return 3, nil }), "0 * * * *", nil)
	require.NoError(t, err)

	closed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, closed)

	s.Start()
	s.Stop()
}

func TestAutoCloseSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewAutoCloseScheduler(closerFunc(func(ctx context.Context) (int, error) { return 0, nil }), "every hour", nil)
	assert.Error(t, err)
}

func TestAutoCloseSchedulerLogsPanicsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s, err := NewAutoCloseScheduler(closerFunc(func(ctx context.Context) (int, error) {
		panic("sweep exploded")
	}), "0 * * * *", zap.New(core))
	require.NoError(t, err)

	entries := s.cron.Entries()
	require.Len(t, entries, 1)
	assert.NotPanics(t, entries[0].WrappedJob.Run)

	panics := logs.FilterLoggerName("cron").FilterMessage("panic").All()
	require.Len(t, panics, 1)
	assert.Equal(t, zapcore.ErrorLevel, panics[0].Level)
	assert.Contains(t, panics[0].ContextMap()["error"], "sweep exploded")
}
