package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func insertHistory(ctx context.Context, q querier, history *domain.TicketHistory) error {
	if history == nil {
		return nil
	}
	const query = `
        INSERT INTO ticket_history (id, ticket_id, actor_id, action, from_status, to_status, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9)`
	if _, err := q.Exec(ctx, query,
		history.ID,
		history.TicketID,
		history.ActorID,
		history.Action,
		string(history.FromStatus),
		history.ToStatus,
		history.OldValue,
		history.NewValue,
		history.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, actor_id, action, COALESCE(from_status, ''), to_status, old_value, new_value, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var history domain.TicketHistory
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&history.ActorID,
			&history.Action,
			&history.FromStatus,
			&history.ToStatus,
			&history.OldValue,
			&history.NewValue,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}
