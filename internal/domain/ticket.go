package domain

import (
	"fmt"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusAssigned   TicketStatus = "assigned"
	TicketStatusDelegated  TicketStatus = "delegated"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
	TicketStatusReopened   TicketStatus = "reopened"
)

// TicketStatuses lists every status in lifecycle order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusAssigned,
	TicketStatusDelegated,
	TicketStatusInProgress,
	TicketStatusResolved,
	TicketStatusClosed,
	TicketStatusReopened,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, candidate := range TicketStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// TicketPriority enumerates urgency levels.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "low"
	TicketPriorityMedium   TicketPriority = "medium"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityCritical TicketPriority = "critical"
)

var priorityLadder = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityMedium,
	TicketPriorityHigh,
	TicketPriorityCritical,
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	for _, candidate := range priorityLadder {
		if candidate == p {
			return true
		}
	}
	return false
}

// Next returns the priority one level up. Critical is its own successor.
func (p TicketPriority) Next() TicketPriority {
	for i, candidate := range priorityLadder {
		if candidate == p && i+1 < len(priorityLadder) {
			return priorityLadder[i+1]
		}
	}
	return p
}

// TicketType distinguishes hardware from software requests.
type TicketType string

const (
	TicketTypeHardware TicketType = "hardware"
	TicketTypeSoftware TicketType = "software"
)

// Valid reports whether t is a known ticket type.
func (t TicketType) Valid() bool {
	return t == TicketTypeHardware || t == TicketTypeSoftware
}

// ParseTicketType converts a raw string to a TicketType.
func ParseTicketType(raw string) (TicketType, error) {
	t := TicketType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown ticket type %q", raw)
	}
	return t, nil
}

// Ticket is the aggregate for helpdesk requests.
type Ticket struct {
	ID                 string
	Number             string
	Title              string
	Description        string
	Type               TicketType
	Category           *string
	SubCategory        *string
	Priority           TicketPriority
	Status             TicketStatus
	CreatorID          string
	AssigneeID         *string
	DelegateeID        *string
	PreviousAssigneeID *string
	ResolverID         *string
	Resolution         string
	ReopenReason       string
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ResolvedAt         *time.Time
	ClosedAt           *time.Time
	Comments           []Comment
	Attachments        []Attachment
}

// IsUnassigned reports whether nobody holds the ticket yet.
func (t *Ticket) IsUnassigned() bool {
	return t.AssigneeID == nil && t.DelegateeID == nil
}

// Clone returns a deep copy so callers can compute a new snapshot without
// touching the original.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Category = cloneString(t.Category)
	c.SubCategory = cloneString(t.SubCategory)
	c.AssigneeID = cloneString(t.AssigneeID)
	c.DelegateeID = cloneString(t.DelegateeID)
	c.PreviousAssigneeID = cloneString(t.PreviousAssigneeID)
	c.ResolverID = cloneString(t.ResolverID)
	c.ResolvedAt = cloneTime(t.ResolvedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	if t.Comments != nil {
		c.Comments = append([]Comment(nil), t.Comments...)
	}
	if t.Attachments != nil {
		c.Attachments = append([]Attachment(nil), t.Attachments...)
	}
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

// StringPtr is a small helper for optional string fields.
func StringPtr(v string) *string {
	return &v
}

// Deref returns the pointed-to string or "".
func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
