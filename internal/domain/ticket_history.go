package domain

import "time"

// TicketHistory is an immutable audit trail entry written with every
// transition.
type TicketHistory struct {
	ID         string
	TicketID   string
	ActorID    *string
	Action     string
	FromStatus TicketStatus
	ToStatus   TicketStatus
	OldValue   map[string]any
	NewValue   map[string]any
	CreatedAt  time.Time
}
