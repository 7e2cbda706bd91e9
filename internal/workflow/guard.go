package workflow

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// Policy holds the configurable parts of the guard table.
type Policy struct {
	ReopenWindow time.Duration
}

// DefaultPolicy mirrors the documented defaults.
func DefaultPolicy() Policy {
	return Policy{ReopenWindow: 7 * 24 * time.Hour}
}

// authorize evaluates the role, state and ownership guards of an action in that
// order. Edit and delete are creator-only operations: a non-creator is always
// denied whatever the state, and a creator is denied once the ticket left the
// unassigned open state.
func (p Policy) authorize(actor Actor, ticket *domain.Ticket, action Action, expectedVersion *int, now time.Time) error {
	details := map[string]any{"ticket_id": ticket.ID, "action": string(action), "status": string(ticket.Status)}

	if action == ActionEdit || action == ActionDelete {
		if actor.System || actor.UserID != ticket.CreatorID {
			return apperrors.NewPermissionDenied("only the ticket creator may do this", details)
		}
		if !RoleCan(actor, action) {
			return apperrors.NewPermissionDenied("role not allowed", details)
		}
		if err := checkVersion(ticket, expectedVersion, details); err != nil {
			return err
		}
		if !startsFrom(action, ticket.Status) || !ticket.IsUnassigned() {
			return apperrors.NewPermissionDenied("ticket can only be changed while open and unassigned", details)
		}
		return nil
	}

	if !RoleCan(actor, action) {
		return apperrors.NewPermissionDenied("role not allowed", details)
	}
	if !startsFrom(action, ticket.Status) {
		return apperrors.NewStaleState("ticket is no longer in a state that allows this action", details)
	}
	if err := checkVersion(ticket, expectedVersion, details); err != nil {
		return err
	}

	switch action {
	case ActionTakeCharge, ActionResolve, ActionRequestInfo:
		if ticket.AssigneeID == nil || *ticket.AssigneeID != actor.UserID {
			return apperrors.NewPermissionDenied("only the assigned technician may do this", details)
		}
	case ActionValidate, ActionReject:
		if actor.UserID != ticket.CreatorID {
			return apperrors.NewPermissionDenied("only the ticket creator may do this", details)
		}
	case ActionReopen:
		if actor.UserID != ticket.CreatorID {
			return apperrors.NewPermissionDenied("only the ticket creator may do this", details)
		}
		if ticket.ClosedAt == nil || now.Sub(*ticket.ClosedAt) > p.ReopenWindow {
			return apperrors.NewPermissionDenied("reopen window has expired", details)
		}
	}
	return nil
}

func checkVersion(ticket *domain.Ticket, expected *int, details map[string]any) error {
	if expected != nil && *expected != ticket.Version {
		details["expected_version"] = *expected
		details["current_version"] = ticket.Version
		return apperrors.NewStaleState("ticket was modified concurrently", details)
	}
	return nil
}

// CanPerform reports whether the actor may attempt the action on the ticket in
// its current state. Payload validation is not part of this check.
func (p Policy) CanPerform(actor Actor, ticket *domain.Ticket, action Action, now time.Time) bool {
	if ticket == nil {
		return action == ActionCreate && RoleCan(actor, ActionCreate)
	}
	if action == ActionCreate {
		return false
	}
	return p.authorize(actor, ticket, action, nil, now) == nil
}

// AllowedActions lists every action the actor may attempt right now.
func (p Policy) AllowedActions(actor Actor, ticket *domain.Ticket, now time.Time) []Action {
	allowed := make([]Action, 0, 4)
	for _, action := range ticketActions {
		if action == ActionAutoClose {
			continue
		}
		if action == ActionEscalate && ticket.Priority == domain.TicketPriorityCritical {
			continue
		}
		if p.CanPerform(actor, ticket, action, now) {
			allowed = append(allowed, action)
		}
	}
	return allowed
}

// CanView reports whether the actor may read the ticket.
func CanView(actor Actor, ticket *domain.Ticket) bool {
	if actor.System {
		return true
	}
	switch actor.Role {
	case domain.RoleDSI, domain.RoleAdjoint, domain.RoleAdmin:
		return true
	case domain.RoleTechnician:
		return isUser(ticket.AssigneeID, actor.UserID) || isUser(ticket.PreviousAssigneeID, actor.UserID)
	case domain.RoleUser:
		return ticket.CreatorID == actor.UserID
	default:
		return false
	}
}

// CanSeeInternal reports whether internal comments are visible to the actor.
func CanSeeInternal(actor Actor) bool {
	return actor.System || actor.Role.IsStaff()
}

func isUser(id *string, userID string) bool {
	return id != nil && *id == userID
}
