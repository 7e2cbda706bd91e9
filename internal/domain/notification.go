package domain

import "time"

// NotificationSeverity drives how a notification is rendered.
type NotificationSeverity string

const (
	SeverityInfo    NotificationSeverity = "info"
	SeveritySuccess NotificationSeverity = "success"
	SeverityWarning NotificationSeverity = "warning"
	SeverityError   NotificationSeverity = "error"
)

// Notification is created unread for a user and only ever marked read.
type Notification struct {
	ID        string
	UserID    string
	TicketID  *string
	EventID   string
	Title     string
	Message   string
	Severity  NotificationSeverity
	Read      bool
	CreatedAt time.Time
}
