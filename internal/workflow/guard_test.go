package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

func ticketIn(status domain.TicketStatus) *domain.Ticket {
	t := &domain.Ticket{
		ID:        "tk",
		Status:    status,
		Priority:  domain.TicketPriorityMedium,
		CreatorID: creator.ID,
		Version:   3,
	}
	switch status {
	case domain.TicketStatusAssigned, domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed:
		t.AssigneeID = domain.StringPtr(tech.ID)
	case domain.TicketStatusDelegated:
		t.DelegateeID = domain.StringPtr(adjoint.ID)
	}
	if status == domain.TicketStatusClosed {
		closed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		t.ClosedAt = &closed
	}
	return t
}

func TestCanPerformTable(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		actor  *domain.User
		status domain.TicketStatus
		action Action
		want   bool
	}{
		{"dsi assigns open", dsi, domain.TicketStatusOpen, ActionAssign, true},
		{"adjoint assigns open", adjoint, domain.TicketStatusOpen, ActionAssign, true},
		{"admin assigns delegated", admin, domain.TicketStatusDelegated, ActionAssign, true},
		{"user cannot assign", creator, domain.TicketStatusOpen, ActionAssign, false},
		{"technician cannot assign", tech, domain.TicketStatusOpen, ActionAssign, false},
		{"assign needs unassigned state", dsi, domain.TicketStatusInProgress, ActionAssign, false},
		{"dsi delegates", dsi, domain.TicketStatusOpen, ActionDelegate, true},
		{"admin delegates", admin, domain.TicketStatusOpen, ActionDelegate, true},
		{"adjoint cannot delegate", adjoint, domain.TicketStatusOpen, ActionDelegate, false},
		{"reassign in progress", adjoint, domain.TicketStatusInProgress, ActionReassign, true},
		{"reassign resolved", dsi, domain.TicketStatusResolved, ActionReassign, false},
		{"assignee takes charge", tech, domain.TicketStatusAssigned, ActionTakeCharge, true},
		{"other tech cannot take charge", otherTech, domain.TicketStatusAssigned, ActionTakeCharge, false},
		{"assignee resolves", tech, domain.TicketStatusInProgress, ActionResolve, true},
		{"dsi cannot resolve", dsi, domain.TicketStatusInProgress, ActionResolve, false},
		{"creator validates", creator, domain.TicketStatusResolved, ActionValidate, true},
		{"other user cannot validate", otherUser, domain.TicketStatusResolved, ActionValidate, false},
		{"creator rejects", creator, domain.TicketStatusResolved, ActionReject, true},
		{"creator reopens closed", creator, domain.TicketStatusClosed, ActionReopen, true},
		{"creator cannot reopen resolved", creator, domain.TicketStatusResolved, ActionReopen, false},
		{"dsi reopen assigns closed", dsi, domain.TicketStatusClosed, ActionReopenAssign, true},
		{"escalate delegated", adjoint, domain.TicketStatusDelegated, ActionEscalate, true},
		{"escalate reopened", admin, domain.TicketStatusReopened, ActionEscalate, true},
		{"no escalate when resolved", dsi, domain.TicketStatusResolved, ActionEscalate, false},
		{"no escalate when closed", dsi, domain.TicketStatusClosed, ActionEscalate, false},
		{"creator edits open", creator, domain.TicketStatusOpen, ActionEdit, true},
		{"creator cannot edit delegated", creator, domain.TicketStatusDelegated, ActionEdit, false},
		{"dsi cannot delete", dsi, domain.TicketStatusOpen, ActionDelete, false},
		{"assignee requests info", tech, domain.TicketStatusAssigned, ActionRequestInfo, true},
		{"create is not a ticket action", creator, domain.TicketStatusOpen, ActionCreate, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.CanPerform(ActorFor(tc.actor), ticketIn(tc.status), tc.action, now)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanPerformCreateWithoutTicket(t *testing.T) {
	policy := DefaultPolicy()
	assert.True(t, policy.CanPerform(ActorFor(creator), nil, ActionCreate, time.Now()))
	assert.False(t, policy.CanPerform(ActorFor(dsi), nil, ActionCreate, time.Now()))
	assert.False(t, policy.CanPerform(ActorFor(creator), nil, ActionAssign, time.Now()))
}

func TestSystemActorCapabilities(t *testing.T) {
	system := SystemActor()
	assert.True(t, RoleCan(system, ActionAssign))
	assert.True(t, RoleCan(system, ActionAutoClose))
	assert.False(t, RoleCan(system, ActionResolve))
	assert.False(t, RoleCan(Actor{UserID: "ghost", Role: "guest"}, ActionCreate))
}

func TestAllowedActions(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t,
		[]Action{ActionAssign, ActionDelegate, ActionEscalate},
		policy.AllowedActions(ActorFor(dsi), ticketIn(domain.TicketStatusOpen), now))
	assert.Equal(t,
		[]Action{ActionEdit, ActionDelete},
		policy.AllowedActions(ActorFor(creator), ticketIn(domain.TicketStatusOpen), now))
	assert.Equal(t,
		[]Action{ActionTakeCharge, ActionResolve, ActionRequestInfo},
		policy.AllowedActions(ActorFor(tech), ticketIn(domain.TicketStatusAssigned), now))
	assert.Empty(t, policy.AllowedActions(ActorFor(otherTech), ticketIn(domain.TicketStatusAssigned), now))

	critical := ticketIn(domain.TicketStatusOpen)
	critical.Priority = domain.TicketPriorityCritical
	assert.NotContains(t, policy.AllowedActions(ActorFor(dsi), critical, now), ActionEscalate)

	late := now.Add(30 * 24 * time.Hour)
	assert.Empty(t, policy.AllowedActions(ActorFor(creator), ticketIn(domain.TicketStatusClosed), late))
}

func TestCanView(t *testing.T) {
	assigned := ticketIn(domain.TicketStatusAssigned)
	assert.True(t, CanView(ActorFor(creator), assigned))
	assert.False(t, CanView(ActorFor(otherUser), assigned))
	assert.True(t, CanView(ActorFor(tech), assigned))
	assert.False(t, CanView(ActorFor(otherTech), assigned))
	assert.True(t, CanView(ActorFor(adjoint), assigned))

	reopened := ticketIn(domain.TicketStatusReopened)
	reopened.PreviousAssigneeID = domain.StringPtr(tech.ID)
	assert.True(t, CanView(ActorFor(tech), reopened))

	assert.False(t, CanSeeInternal(ActorFor(creator)))
	assert.True(t, CanSeeInternal(ActorFor(tech)))
}
