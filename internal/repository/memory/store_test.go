package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func seedTicket(t *testing.T, repos repository.Repositories, id string, status domain.TicketStatus, updated time.Time) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		ID:        id,
		Number:    "TKT-" + id,
		Title:     "Ticket " + id,
		Type:      domain.TicketTypeSoftware,
		Priority:  domain.TicketPriorityMedium,
		Status:    status,
		CreatorID: "u1",
		Version:   1,
		CreatedAt: base,
		UpdatedAt: updated,
	}
	require.NoError(t, repos.Tickets.Create(context.Background(), ticket, events.Event{ID: "ev-" + id, Type: events.EventTicketCreated, TicketID: id, Timestamp: updated}, nil))
	return ticket
}

func TestApplyTransitionChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := New()
	repos := store.Repositories()
	ticket := seedTicket(t, repos, "a", domain.TicketStatusOpen, base)

	next := ticket.Clone()
	next.Status = domain.TicketStatusAssigned
	next.AssigneeID = domain.StringPtr("t1")
	next.Version = 2
	change := repository.Transition{
		Ticket:          next,
		ExpectedVersion: 1,
		Mutated:         true,
		Event:           &events.Event{ID: "ev-2", Type: events.EventTicketAssigned, TicketID: "a"},
		History:         &domain.TicketHistory{ID: "h1", TicketID: "a", Action: "assign"},
	}
	require.NoError(t, repos.Tickets.ApplyTransition(ctx, change))

	err := repos.Tickets.ApplyTransition(ctx, change)
	assert.Equal(t, apperrors.CodeStaleState, apperrors.CodeOf(err))

	stored, err := repos.Tickets.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, "t1", domain.Deref(stored.AssigneeID))

	history, err := repos.History.ListByTicket(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, store.OutboxEvents(), 2)
}

func TestGetByIDReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	seedTicket(t, repos, "a", domain.TicketStatusOpen, base)

	got, err := repos.Tickets.GetByID(ctx, "a")
	require.NoError(t, err)
	got.Title = "mutated"

	again, err := repos.Tickets.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Ticket a", again.Title)

	_, err = repos.Tickets.GetByID(ctx, "missing")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	seedTicket(t, repos, "a", domain.TicketStatusOpen, base)
	seedTicket(t, repos, "b", domain.TicketStatusResolved, base.Add(time.Hour))
	seedTicket(t, repos, "c", domain.TicketStatusResolved, base.Add(2*time.Hour))

	tickets, total, err := repos.Tickets.List(ctx, repository.TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusResolved}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, tickets, 2)
	assert.Equal(t, "c", tickets[0].ID)

	tickets, total, err = repos.Tickets.List(ctx, repository.TicketFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, tickets, 1)
	assert.Equal(t, "b", tickets[0].ID)

	term := "TKT-A"
	tickets, _, err = repos.Tickets.List(ctx, repository.TicketFilter{SearchTerm: &term})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "a", tickets[0].ID)

	resolved, err := repos.Tickets.ListResolvedBefore(ctx, base.Add(90*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "b", resolved[0].ID)
}

func TestDeleteChecksVersion(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	seedTicket(t, repos, "a", domain.TicketStatusOpen, base)

	err := repos.Tickets.Delete(ctx, "a", 5, events.Event{ID: "ev-del"})
	assert.Equal(t, apperrors.CodeStaleState, apperrors.CodeOf(err))

	require.NoError(t, repos.Tickets.Delete(ctx, "a", 1, events.Event{ID: "ev-del"}))
	_, err = repos.Tickets.GetByID(ctx, "a")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestNotificationsAreUniquePerEventAndUser(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	n := &domain.Notification{ID: "n1", UserID: "u1", EventID: "ev1", Title: "hello", CreatedAt: base}

	inserted, err := repos.Notifications.Create(ctx, n)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *n
	dup.ID = "n2"
	inserted, err = repos.Notifications.Create(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := repos.Notifications.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = repos.Notifications.MarkRead(ctx, "n1", "someone-else")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	require.NoError(t, repos.Notifications.MarkRead(ctx, "n1", "u1"))
	count, err = repos.Notifications.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOutboxLeaseAndFailure(t *testing.T) {
	ctx := context.Background()
	now := base
	store := New(WithClock(func() time.Time { return now }))
	repos := store.Repositories()
	seedTicket(t, repos, "a", domain.TicketStatusOpen, base)

	claimed, err := repos.Outbox.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := repos.Outbox.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repos.Outbox.MarkFailed(ctx, "ev-a", "smtp down", 2))
	claimed, err = repos.Outbox.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)

	require.NoError(t, repos.Outbox.MarkFailed(ctx, "ev-a", "smtp down", 2))
	assert.Zero(t, store.PendingCount())
}
