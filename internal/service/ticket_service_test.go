package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

func eventTypes(evts []events.Event) []events.EventType {
	out := make([]events.EventType, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}

func TestTicketLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketTypeHardware)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, 1, ticket.Version)

	ticket, err := f.tickets.AssignTicket(ctx, f.actor("dina"), ticket.ID, "tom", TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, ticket.Status)

	ticket, err = f.tickets.TakeCharge(ctx, f.actor("tom"), ticket.ID, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)

	ticket, err = f.tickets.ResolveTicket(ctx, f.actor("tom"), ticket.ID, "Cleared the tray", TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, ticket.Status)

	ticket, err = f.tickets.ValidateResolution(ctx, f.actor("alice"), ticket.ID, true, "", TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, ticket.Status)
	assert.Equal(t, 5, ticket.Version)
	require.NotNil(t, ticket.ClosedAt)

	assert.Equal(t, []events.EventType{
		events.EventTicketCreated,
		events.EventTicketAssigned,
		events.EventTicketTakenInCharge,
		events.EventTicketResolved,
		events.EventTicketClosed,
	}, eventTypes(f.store.OutboxEvents()))

	history, err := f.tickets.ListHistory(ctx, f.actor("alice"), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestConcurrentAssignsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, domain.TicketTypeHardware)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tech := range []string{"tom", "tess"} {
		wg.Add(1)
		go func(i int, tech string) {
			defer wg.Done()
			_, errs[i] = f.tickets.AssignTicket(context.Background(), f.actor("dina"), ticket.ID, tech, TransitionOptions{})
		}(i, tech)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.Equal(t, apperrors.CodeStaleState, apperrors.CodeOf(err))
		}
	}
	assert.Equal(t, 1, failures)

	stored, err := f.store.Repositories().Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Len(t, f.store.OutboxEvents(), 2)
}

func TestExpectedVersionMismatchLeavesTicketUntouched(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, domain.TicketTypeHardware)

	_, err := f.tickets.EscalatePriority(context.Background(), f.actor("dina"), ticket.ID, TransitionOptions{ExpectedVersion: intPtr(7)})
	assert.Equal(t, apperrors.CodeStaleState, apperrors.CodeOf(err))

	stored, err := f.store.Repositories().Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityMedium, stored.Priority)
	assert.Equal(t, 1, stored.Version)
	assert.Len(t, f.store.OutboxEvents(), 1)
}

func TestAssignTargetErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketTypeHardware)

	_, err := f.tickets.AssignTicket(ctx, f.actor("dina"), ticket.ID, "nobody", TransitionOptions{})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	_, err = f.tickets.AssignTicket(ctx, f.actor("dina"), ticket.ID, "adam", TransitionOptions{})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.tickets.AssignTicket(ctx, f.actor("dina"), ticket.ID, "olga", TransitionOptions{})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.tickets.AssignTicket(ctx, f.actor("alice"), ticket.ID, "tom", TransitionOptions{})
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	_, err = f.tickets.AssignTicket(ctx, f.actor("dina"), "missing", "tom", TransitionOptions{})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestEscalateCriticalIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketTypeHardware)

	for i := 0; i < 2; i++ {
		var err error
		ticket, err = f.tickets.EscalatePriority(ctx, f.actor("dina"), ticket.ID, TransitionOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, domain.TicketPriorityCritical, ticket.Priority)
	assert.Equal(t, 3, ticket.Version)
	before := len(f.store.OutboxEvents())

	again, err := f.tickets.EscalatePriority(ctx, f.actor("adam"), ticket.ID, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityCritical, again.Priority)
	assert.Equal(t, 3, again.Version)
	assert.Len(t, f.store.OutboxEvents(), before)
}

func TestRejectReopensAndReassignsFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketTypeHardware)
	_, err := f.tickets.AssignTicket(ctx, f.actor("dina"), ticket.ID, "tom", TransitionOptions{})
	require.NoError(t, err)
	_, err = f.tickets.ResolveTicket(ctx, f.actor("tom"), ticket.ID, "done", TransitionOptions{})
	require.NoError(t, err)

	_, err = f.tickets.ValidateResolution(ctx, f.actor("alice"), ticket.ID, false, "", TransitionOptions{})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	reopened, err := f.tickets.ValidateResolution(ctx, f.actor("alice"), ticket.ID, false, "still jammed", TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReopened, reopened.Status)
	assert.Nil(t, reopened.AssigneeID)
	assert.Equal(t, "tom", domain.Deref(reopened.PreviousAssigneeID))

	assigned, err := f.tickets.AssignTicket(ctx, f.actor("adam"), ticket.ID, "tess", TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "tess", domain.Deref(assigned.AssigneeID))
}

func TestReopenWindowAndStaffReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketTypeHardware)
	_, err := f.tickets.AssignTicket(ctx, f.actor("dina"), ticket.ID, "tom", TransitionOptions{})
	require.NoError(t, err)
	_, err = f.tickets.ResolveTicket(ctx, f.actor("tom"), ticket.ID, "done", TransitionOptions{})
	require.NoError(t, err)
	_, err = f.tickets.ValidateResolution(ctx, f.actor("alice"), ticket.ID, true, "", TransitionOptions{})
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.tickets.ReopenTicket(ctx, f.actor("alice"), ticket.ID, "broken again", TransitionOptions{})
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	assigned, err := f.tickets.ReopenAndAssign(ctx, f.actor("dina"), ticket.ID, "tess", TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, assigned.Status)
	assert.Equal(t, "tess", domain.Deref(assigned.AssigneeID))
}

func TestEditAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketTypeHardware)

	title := "Printer jam on floor 2"
	edited, err := f.tickets.EditTicket(ctx, f.actor("alice"), ticket.ID, workflow.EditFields{Title: &title}, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, title, edited.Title)
	assert.Equal(t, 2, edited.Version)

	err = f.tickets.DeleteTicket(ctx, f.actor("bob"), ticket.ID, TransitionOptions{})
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	require.NoError(t, f.tickets.DeleteTicket(ctx, f.actor("alice"), ticket.ID, TransitionOptions{}))
	_, err = f.tickets.GetTicket(ctx, f.actor("alice"), ticket.ID)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestCommentsAndVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketTypeHardware)
	_, err := f.tickets.AssignTicket(ctx, f.actor("dina"), ticket.ID, "tom", TransitionOptions{})
	require.NoError(t, err)

	_, err = f.tickets.AddComment(ctx, f.actor("alice"), ticket.ID, "any news?", true)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	_, err = f.tickets.AddComment(ctx, f.actor("alice"), ticket.ID, "any news?", false)
	require.NoError(t, err)
	_, err = f.tickets.AddComment(ctx, f.actor("tom"), ticket.ID, "waiting for toner", true)
	require.NoError(t, err)
	_, err = f.tickets.RequestInfo(ctx, f.actor("tom"), ticket.ID, "Which printer model?", TransitionOptions{})
	require.NoError(t, err)

	_, err = f.tickets.AddComment(ctx, f.actor("bob"), ticket.ID, "me too", false)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	asCreator, err := f.tickets.GetTicket(ctx, f.actor("alice"), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, asCreator.Ticket.Comments, 1)
	assert.Empty(t, asCreator.AllowedActions)

	asTech, err := f.tickets.GetTicket(ctx, f.actor("tom"), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, asTech.Ticket.Comments, 3)
	assert.Equal(t, 2, asTech.Ticket.Version)
	assert.Contains(t, asTech.AllowedActions, workflow.ActionTakeCharge)
}

func TestAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, domain.TicketTypeSoftware)

	_, err := f.tickets.AddAttachment(ctx, f.actor("alice"), ticket.ID, AttachmentInput{Name: "log.txt"})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	att, err := f.tickets.AddAttachment(ctx, f.actor("alice"), ticket.ID, AttachmentInput{
		Name: "log.txt", URL: "https://files.example.com/log.txt", MimeType: "text/plain", SizeBytes: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", att.UploadedBy)

	view, err := f.tickets.GetTicket(ctx, f.actor("dina"), ticket.ID)
	require.NoError(t, err)
	require.Len(t, view.Ticket.Attachments, 1)
	assert.Equal(t, "log.txt", view.Ticket.Attachments[0].Name)
}

func TestListTicketsIsRoleScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, domain.TicketTypeHardware)
	second := f.create(t, domain.TicketTypeSoftware)
	_, err := f.tickets.CreateTicket(ctx, f.actor("bob"), workflow.NewTicket{Title: "VPN", Description: "cannot connect", Type: domain.TicketTypeSoftware})
	require.NoError(t, err)

	_, err = f.tickets.AssignTicket(ctx, f.actor("dina"), first.ID, "tom", TransitionOptions{})
	require.NoError(t, err)
	_, err = f.tickets.DelegateTicket(ctx, f.actor("dina"), second.ID, "adam", TransitionOptions{})
	require.NoError(t, err)

	_, total, err := f.tickets.ListTickets(ctx, f.actor("alice"), TicketListInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	items, total, err := f.tickets.ListTickets(ctx, f.actor("tom"), TicketListInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, first.ID, items[0].ID)

	items, _, err = f.tickets.ListTickets(ctx, f.actor("adam"), TicketListInput{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, second.ID, items[0].ID)

	_, total, err = f.tickets.ListTickets(ctx, f.actor("adam"), TicketListInput{All: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, total, err = f.tickets.ListTickets(ctx, f.actor("dina"), TicketListInput{Statuses: []domain.TicketStatus{domain.TicketStatusOpen}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	stats, err := f.tickets.Stats(ctx, f.actor("archie"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[domain.TicketStatusDelegated])
}

func TestAutoAssignPicksLeastLoadedSpecialist(t *testing.T) {
	f := newFixture(t, func(c *config.WorkflowConfig) { c.AutoAssignEnabled = true })

	first := f.create(t, domain.TicketTypeHardware)
	assert.Equal(t, domain.TicketStatusAssigned, first.Status)
	assert.Equal(t, "tom", domain.Deref(first.AssigneeID))

	second := f.create(t, domain.TicketTypeHardware)
	assert.Equal(t, "tess", domain.Deref(second.AssigneeID))

	software := f.create(t, domain.TicketTypeSoftware)
	assert.Equal(t, "sam", domain.Deref(software.AssigneeID))

	f.create(t, domain.TicketTypeHardware)
	f.create(t, domain.TicketTypeHardware)
	full := f.create(t, domain.TicketTypeHardware)
	assert.Equal(t, domain.TicketStatusOpen, full.Status)
	assert.Nil(t, full.AssigneeID)
}

func TestAutoCloseResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resolve := func() *domain.Ticket {
		ticket := f.create(t, domain.TicketTypeHardware)
		_, err := f.tickets.AssignTicket(ctx, f.actor("dina"), ticket.ID, "tom", TransitionOptions{})
		require.NoError(t, err)
		resolved, err := f.tickets.ResolveTicket(ctx, f.actor("tom"), ticket.ID, "fixed", TransitionOptions{})
		require.NoError(t, err)
		return resolved
	}
	old := resolve()
	f.clock.Advance(5 * 24 * time.Hour)
	recent := resolve()
	f.clock.Advance(3 * 24 * time.Hour)

	closed, err := f.tickets.AutoCloseResolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	stored, err := f.store.Repositories().Tickets.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)

	stored, err = f.store.Repositories().Tickets.GetByID(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, stored.Status)

	evts := f.store.OutboxEvents()
	last := evts[len(evts)-1]
	assert.Equal(t, events.EventTicketAutoClosed, last.Type)
	assert.Equal(t, workflow.SystemActorID, last.ActorID)
}
