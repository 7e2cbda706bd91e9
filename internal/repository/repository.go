package repository

import (
	"context"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

// TicketFilter captures list parameters. Nil fields are ignored.
type TicketFilter struct {
	CreatorID   *string
	AssigneeID  *string
	DelegateeID *string
	// Involved matches tickets where the user is or was the assignee.
	Involved   *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Types      []domain.TicketType
	SearchTerm *string
	Limit      int
	Offset     int
}

// TicketStats aggregates counts for dashboards.
type TicketStats struct {
	Total             int
	ByStatus          map[domain.TicketStatus]int
	ByPriority        map[domain.TicketPriority]int
	AverageResolution time.Duration
}

// Transition is everything one successful workflow step writes atomically.
type Transition struct {
	// Ticket is the new snapshot.
	Ticket *domain.Ticket
	// ExpectedVersion is the version the row must still hold.
	ExpectedVersion int
	// Mutated is false for steps that only append (comment, info request).
	Mutated bool
	Event   *events.Event
	History *domain.TicketHistory
	Comment *domain.Comment
}

// TicketRepository persists tickets together with their outbox events.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket, event events.Event, history *domain.TicketHistory) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error)
	// ApplyTransition writes the snapshot only if the stored version still
	// equals ExpectedVersion; otherwise it fails with a StaleState error.
	ApplyTransition(ctx context.Context, change Transition) error
	Delete(ctx context.Context, id string, expectedVersion int, event events.Event) error
	Stats(ctx context.Context, filter TicketFilter) (TicketStats, error)
	ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error)
	CountActiveByAssignee(ctx context.Context, assigneeIDs []string) (map[string]int, error)
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role           *domain.Role
	Specialization *domain.TicketType
	Active         *bool
}

// UserRepository defines persistence access for accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
}

// CommentRepository stores the append-only ticket thread.
type CommentRepository interface {
	Create(ctx context.Context, comment *domain.Comment, event events.Event) error
	ListByTicket(ctx context.Context, ticketID string, includeInternal bool) ([]domain.Comment, error)
}

// AttachmentRepository persists attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.Attachment) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error)
}

// TicketHistoryRepository reads audit entries. Entries are written by
// TicketRepository in the transition transaction.
type TicketHistoryRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

// NotificationFilter narrows a user's notification listing.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	// Create inserts the notification unless one already exists for the same
	// event and user. It reports whether a row was written.
	Create(ctx context.Context, notification *domain.Notification) (bool, error)
	ListByUser(ctx context.Context, userID string, filter NotificationFilter) ([]domain.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// OutboxRecord is an event waiting for dispatch.
type OutboxRecord struct {
	Event    events.Event
	Attempts int
}

// OutboxRepository drains the transactional outbox.
type OutboxRepository interface {
	// ClaimPending leases up to limit undispatched events. A leased event is
	// not returned again until the lease expires.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]OutboxRecord, error)
	MarkDispatched(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, cause string, maxAttempts int) error
}

// Repositories groups every repository of one backend.
type Repositories struct {
	Tickets       TicketRepository
	Users         UserRepository
	Comments      CommentRepository
	Attachments   AttachmentRepository
	History       TicketHistoryRepository
	Notifications NotificationRepository
	Outbox        OutboxRepository
}

// DefaultLimit is applied when a listing has no explicit limit.
const DefaultLimit = 20

// MaxLimit caps page sizes.
const MaxLimit = 100

// NormalizePage clamps limit and offset.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
