package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/events"
)

type outboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository constructs repository.
func NewOutboxRepository(pool *pgxpool.Pool) OutboxRepository {
	return &outboxRepository{pool: pool}
}

func insertOutbox(ctx context.Context, q querier, event events.Event) error {
	const query = `
        INSERT INTO outbox_events (id, event_type, ticket_id, actor_id, payload, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := q.Exec(ctx, query,
		event.ID,
		event.Type,
		event.TicketID,
		event.ActorID,
		event.Payload,
		event.Timestamp,
	); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ClaimPending leases rows with FOR UPDATE SKIP LOCKED so concurrent relays
// never receive the same event.
func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]OutboxRecord, error) {
	const query = `
        UPDATE outbox_events SET locked_until = NOW() + make_interval(secs => $2)
        WHERE id IN (
            SELECT id FROM outbox_events
            WHERE dispatched_at IS NULL AND failed_at IS NULL
              AND (locked_until IS NULL OR locked_until < NOW())
            ORDER BY occurred_at ASC
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, event_type, ticket_id, actor_id, payload, occurred_at, attempts`
	rows, err := r.pool.Query(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []OutboxRecord
	for rows.Next() {
		var record OutboxRecord
		if err := rows.Scan(
			&record.Event.ID,
			&record.Event.Type,
			&record.Event.TicketID,
			&record.Event.ActorID,
			&record.Event.Payload,
			&record.Event.Timestamp,
			&record.Attempts,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(result)
	return result, nil
}

func (r *outboxRepository) MarkDispatched(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE outbox_events SET dispatched_at = NOW(), locked_until = NULL WHERE id=$1`, eventID)
	return err
}

func (r *outboxRepository) MarkFailed(ctx context.Context, eventID string, cause string, maxAttempts int) error {
	const query = `
        UPDATE outbox_events
        SET attempts = attempts + 1,
            last_error = $2,
            locked_until = NULL,
            failed_at = CASE WHEN attempts + 1 >= $3 THEN NOW() ELSE NULL END
        WHERE id=$1`
	_, err := r.pool.Exec(ctx, query, eventID, cause, maxAttempts)
	return err
}

// sortRecords restores occurrence order; UPDATE ... RETURNING does not keep
// the subquery ordering.
func sortRecords(records []OutboxRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Event.Timestamp.Before(records[j].Event.Timestamp)
	})
}
