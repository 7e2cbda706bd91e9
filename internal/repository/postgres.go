package repository

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresRepositories wires every pgx-backed repository on one pool.
func NewPostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Tickets:       NewTicketRepository(pool),
		Users:         NewUserRepository(pool),
		Comments:      NewCommentRepository(pool),
		Attachments:   NewAttachmentRepository(pool),
		History:       NewTicketHistoryRepository(pool),
		Notifications: NewNotificationRepository(pool),
		Outbox:        NewOutboxRepository(pool),
	}
}

// isUUID reports whether id can be compared against a UUID column. Anything
// else cannot match a row, and Postgres rejects it with 22P02.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
