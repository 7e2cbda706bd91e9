package events

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated           EventType = "ticket_created"
	EventTicketUpdated           EventType = "ticket_updated"
	EventTicketDeleted           EventType = "ticket_deleted"
	EventTicketAssigned          EventType = "ticket_assigned"
	EventTicketDelegated         EventType = "ticket_delegated"
	EventTicketReassigned        EventType = "ticket_reassigned"
	EventTicketTakenInCharge     EventType = "ticket_taken_in_charge"
	EventTicketResolved          EventType = "ticket_resolved"
	EventTicketClosed            EventType = "ticket_closed"
	EventTicketAutoClosed        EventType = "ticket_auto_closed"
	EventTicketReopened          EventType = "ticket_reopened"
	EventTicketPriorityEscalated EventType = "ticket_priority_escalated"
	EventTicketInfoRequested     EventType = "ticket_info_requested"
	EventTicketCommentAdded      EventType = "ticket_comment_added"
)

// AllEventTypes lists every event the engine can emit.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketUpdated,
	EventTicketDeleted,
	EventTicketAssigned,
	EventTicketDelegated,
	EventTicketReassigned,
	EventTicketTakenInCharge,
	EventTicketResolved,
	EventTicketClosed,
	EventTicketAutoClosed,
	EventTicketReopened,
	EventTicketPriorityEscalated,
	EventTicketInfoRequested,
	EventTicketCommentAdded,
}

// Event represents a domain event appended to the outbox by a transition.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	TicketID  string        `json:"ticket_id"`
	ActorID   string        `json:"actor_id"`
	Timestamp time.Time     `json:"timestamp"`
	Payload   TicketPayload `json:"payload"`
}

// TicketPayload carries the facts a consumer needs to notify stakeholders.
// Only the fields relevant to the event type are populated.
type TicketPayload struct {
	Number             string                `json:"number,omitempty"`
	Title              string                `json:"title,omitempty"`
	FromStatus         domain.TicketStatus   `json:"from_status,omitempty"`
	ToStatus           domain.TicketStatus   `json:"to_status,omitempty"`
	CreatorID          string                `json:"creator_id,omitempty"`
	AssigneeID         *string               `json:"assignee_id,omitempty"`
	PreviousAssigneeID *string               `json:"previous_assignee_id,omitempty"`
	DelegateeID        *string               `json:"delegatee_id,omitempty"`
	OldPriority        domain.TicketPriority `json:"old_priority,omitempty"`
	NewPriority        domain.TicketPriority `json:"new_priority,omitempty"`
	Reason             string                `json:"reason,omitempty"`
	Notes              string                `json:"notes,omitempty"`
	Resolution         string                `json:"resolution,omitempty"`
	Message            string                `json:"message,omitempty"`
	CommentID          string                `json:"comment_id,omitempty"`
	Internal           bool                  `json:"internal,omitempty"`
}
