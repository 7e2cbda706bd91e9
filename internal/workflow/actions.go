package workflow

import (
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

// Action names an operation an actor may attempt on a ticket.
type Action string

const (
	ActionCreate       Action = "create"
	ActionEdit         Action = "edit"
	ActionDelete       Action = "delete"
	ActionAssign       Action = "assign"
	ActionDelegate     Action = "delegate"
	ActionReassign     Action = "reassign"
	ActionTakeCharge   Action = "take_charge"
	ActionResolve      Action = "resolve"
	ActionValidate     Action = "validate"
	ActionReject       Action = "reject"
	ActionReopen       Action = "reopen"
	ActionReopenAssign Action = "reopen_assign"
	ActionEscalate     Action = "escalate"
	ActionAutoClose    Action = "auto_close"
	ActionRequestInfo  Action = "request_info"
)

// ticketActions is every action that targets an existing ticket, in the order
// they are offered to clients.
var ticketActions = []Action{
	ActionEdit,
	ActionDelete,
	ActionAssign,
	ActionDelegate,
	ActionReassign,
	ActionTakeCharge,
	ActionResolve,
	ActionValidate,
	ActionReject,
	ActionReopen,
	ActionReopenAssign,
	ActionEscalate,
	ActionAutoClose,
	ActionRequestInfo,
}

// SystemActorID identifies automated actors in events and history.
const SystemActorID = "system"

// Actor is whoever attempts an action: an authenticated user or the system
// (scheduler, auto-assignment).
type Actor struct {
	UserID string
	Role   domain.Role
	System bool
}

// SystemActor returns the actor used by scheduled and automatic transitions.
func SystemActor() Actor {
	return Actor{UserID: SystemActorID, System: true}
}

// ActorFor builds an actor from an authenticated user.
func ActorFor(user *domain.User) Actor {
	if user == nil {
		return Actor{}
	}
	return Actor{UserID: user.ID, Role: user.Role}
}

var (
	dsiActions     = []Action{ActionAssign, ActionDelegate, ActionReassign, ActionEscalate, ActionReopenAssign}
	adjointActions = []Action{ActionAssign, ActionReassign, ActionEscalate, ActionReopenAssign}
)

// capabilities returns the fixed capability set of a role.
func capabilities(actor Actor) []Action {
	if actor.System {
		return []Action{ActionAssign, ActionAutoClose}
	}
	switch actor.Role {
	case domain.RoleUser:
		return []Action{ActionCreate, ActionEdit, ActionDelete, ActionValidate, ActionReject, ActionReopen}
	case domain.RoleDSI:
		return dsiActions
	case domain.RoleAdjoint:
		return adjointActions
	case domain.RoleTechnician:
		return []Action{ActionTakeCharge, ActionResolve, ActionRequestInfo}
	case domain.RoleAdmin:
		return union(dsiActions, adjointActions)
	default:
		return nil
	}
}

// RoleCan reports whether the actor's role ever grants the action, ignoring
// ticket state and ownership.
func RoleCan(actor Actor, action Action) bool {
	for _, candidate := range capabilities(actor) {
		if candidate == action {
			return true
		}
	}
	return false
}

func union(sets ...[]Action) []Action {
	seen := make(map[Action]struct{})
	var out []Action
	for _, set := range sets {
		for _, action := range set {
			if _, ok := seen[action]; ok {
				continue
			}
			seen[action] = struct{}{}
			out = append(out, action)
		}
	}
	return out
}

// transition describes where an action may start and where it leads.
// An empty target keeps the current status.
type transition struct {
	from  []domain.TicketStatus
	to    domain.TicketStatus
	event events.EventType
}

var transitions = map[Action]transition{
	ActionEdit: {
		from:  []domain.TicketStatus{domain.TicketStatusOpen},
		event: events.EventTicketUpdated,
	},
	ActionDelete: {
		from:  []domain.TicketStatus{domain.TicketStatusOpen},
		event: events.EventTicketDeleted,
	},
	ActionAssign: {
		from:  []domain.TicketStatus{domain.TicketStatusOpen, domain.TicketStatusDelegated, domain.TicketStatusReopened},
		to:    domain.TicketStatusAssigned,
		event: events.EventTicketAssigned,
	},
	ActionDelegate: {
		from:  []domain.TicketStatus{domain.TicketStatusOpen, domain.TicketStatusDelegated, domain.TicketStatusReopened},
		to:    domain.TicketStatusDelegated,
		event: events.EventTicketDelegated,
	},
	ActionReassign: {
		from:  []domain.TicketStatus{domain.TicketStatusAssigned, domain.TicketStatusInProgress},
		to:    domain.TicketStatusAssigned,
		event: events.EventTicketReassigned,
	},
	ActionTakeCharge: {
		from:  []domain.TicketStatus{domain.TicketStatusAssigned},
		to:    domain.TicketStatusInProgress,
		event: events.EventTicketTakenInCharge,
	},
	ActionResolve: {
		from:  []domain.TicketStatus{domain.TicketStatusAssigned, domain.TicketStatusInProgress},
		to:    domain.TicketStatusResolved,
		event: events.EventTicketResolved,
	},
	ActionValidate: {
		from:  []domain.TicketStatus{domain.TicketStatusResolved},
		to:    domain.TicketStatusClosed,
		event: events.EventTicketClosed,
	},
	ActionAutoClose: {
		from:  []domain.TicketStatus{domain.TicketStatusResolved},
		to:    domain.TicketStatusClosed,
		event: events.EventTicketAutoClosed,
	},
	ActionReject: {
		from:  []domain.TicketStatus{domain.TicketStatusResolved},
		to:    domain.TicketStatusReopened,
		event: events.EventTicketReopened,
	},
	ActionReopen: {
		from:  []domain.TicketStatus{domain.TicketStatusClosed},
		to:    domain.TicketStatusReopened,
		event: events.EventTicketReopened,
	},
	ActionReopenAssign: {
		from:  []domain.TicketStatus{domain.TicketStatusReopened, domain.TicketStatusClosed},
		to:    domain.TicketStatusAssigned,
		event: events.EventTicketAssigned,
	},
	ActionEscalate: {
		from: []domain.TicketStatus{
			domain.TicketStatusOpen,
			domain.TicketStatusAssigned,
			domain.TicketStatusDelegated,
			domain.TicketStatusInProgress,
			domain.TicketStatusReopened,
		},
		event: events.EventTicketPriorityEscalated,
	},
	ActionRequestInfo: {
		from:  []domain.TicketStatus{domain.TicketStatusAssigned, domain.TicketStatusInProgress},
		event: events.EventTicketInfoRequested,
	},
}

// From lists the statuses an action may start from.
func From(action Action) []domain.TicketStatus {
	return append([]domain.TicketStatus(nil), transitions[action].from...)
}

func startsFrom(action Action, status domain.TicketStatus) bool {
	for _, candidate := range transitions[action].from {
		if candidate == status {
			return true
		}
	}
	return false
}
