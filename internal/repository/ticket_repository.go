package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const ticketColumns = `id, number, title, description, type, category, sub_category, priority, status,
       creator_id, assignee_id, delegatee_id, previous_assignee_id, resolver_id,
       resolution, reopen_reason, version, created_at, updated_at, resolved_at, closed_at`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket, event events.Event, history *domain.TicketHistory) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO tickets (id, number, title, description, type, category, sub_category, priority, status,
            creator_id, assignee_id, delegatee_id, previous_assignee_id, resolver_id,
            resolution, reopen_reason, version, created_at, updated_at, resolved_at, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`
		if _, err := tx.Exec(ctx, query,
			ticket.ID,
			ticket.Number,
			ticket.Title,
			ticket.Description,
			ticket.Type,
			ticket.Category,
			ticket.SubCategory,
			ticket.Priority,
			ticket.Status,
			ticket.CreatorID,
			ticket.AssigneeID,
			ticket.DelegateeID,
			ticket.PreviousAssigneeID,
			ticket.ResolverID,
			ticket.Resolution,
			ticket.ReopenReason,
			ticket.Version,
			ticket.CreatedAt,
			ticket.UpdatedAt,
			ticket.ResolvedAt,
			ticket.ClosedAt,
		); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if err := insertHistory(ctx, tx, history); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, event)
	})
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if !isUUID(id) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return ticket, err
}

func (r *ticketRepository) ApplyTransition(ctx context.Context, change Transition) error {
	ticket := change.Ticket
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if change.Mutated {
			const query = `
            UPDATE tickets SET title=$1, description=$2, type=$3, category=$4, sub_category=$5, priority=$6,
                status=$7, assignee_id=$8, delegatee_id=$9, previous_assignee_id=$10, resolver_id=$11,
                resolution=$12, reopen_reason=$13, version=$14, updated_at=$15, resolved_at=$16, closed_at=$17
            WHERE id=$18 AND version=$19`
			cmd, err := tx.Exec(ctx, query,
				ticket.Title,
				ticket.Description,
				ticket.Type,
				ticket.Category,
				ticket.SubCategory,
				ticket.Priority,
				ticket.Status,
				ticket.AssigneeID,
				ticket.DelegateeID,
				ticket.PreviousAssigneeID,
				ticket.ResolverID,
				ticket.Resolution,
				ticket.ReopenReason,
				ticket.Version,
				ticket.UpdatedAt,
				ticket.ResolvedAt,
				ticket.ClosedAt,
				ticket.ID,
				change.ExpectedVersion,
			)
			if err != nil {
				return fmt.Errorf("update ticket: %w", err)
			}
			if cmd.RowsAffected() == 0 {
				return versionConflict(ctx, tx, ticket.ID, change.ExpectedVersion)
			}
		} else {
			var version int
			err := tx.QueryRow(ctx, `SELECT version FROM tickets WHERE id=$1 FOR SHARE`, ticket.ID).Scan(&version)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticket.ID})
			}
			if err != nil {
				return err
			}
			if version != change.ExpectedVersion {
				return staleVersion(ticket.ID, change.ExpectedVersion, version)
			}
		}
		if change.Comment != nil {
			if err := insertComment(ctx, tx, change.Comment); err != nil {
				return err
			}
		}
		if change.History != nil {
			if err := insertHistory(ctx, tx, change.History); err != nil {
				return err
			}
		}
		if change.Event != nil {
			return insertOutbox(ctx, tx, *change.Event)
		}
		return nil
	})
}

func (r *ticketRepository) Delete(ctx context.Context, id string, expectedVersion int, event events.Event) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `DELETE FROM tickets WHERE id=$1 AND version=$2`, id, expectedVersion)
		if err != nil {
			return fmt.Errorf("delete ticket: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return versionConflict(ctx, tx, id, expectedVersion)
		}
		return insertOutbox(ctx, tx, event)
	})
}

func versionConflict(ctx context.Context, q querier, id string, expected int) error {
	var current int
	err := q.QueryRow(ctx, `SELECT version FROM tickets WHERE id=$1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	if err != nil {
		return err
	}
	return staleVersion(id, expected, current)
}

func staleVersion(id string, expected, current int) error {
	return apperrors.NewStaleState("ticket was modified concurrently", map[string]any{
		"ticket_id":        id,
		"expected_version": expected,
		"current_version":  current,
	})
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	where, args := buildTicketWhere(filter)
	limit, offset := NormalizePage(filter.Limit, filter.Offset)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, where, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	return tickets, total, err
}

func (r *ticketRepository) Stats(ctx context.Context, filter TicketFilter) (TicketStats, error) {
	where, args := buildTicketWhere(filter)
	stats := TicketStats{
		ByStatus:   make(map[domain.TicketStatus]int),
		ByPriority: make(map[domain.TicketPriority]int),
	}

	rows, err := r.pool.Query(ctx, `SELECT status, priority, COUNT(*) FROM tickets WHERE `+where+` GROUP BY status, priority`, args...)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var (
			status   domain.TicketStatus
			priority domain.TicketPriority
			count    int
		)
		if err := rows.Scan(&status, &priority, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByStatus[status] += count
		stats.ByPriority[priority] += count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var avgSeconds *float64
	query := `SELECT AVG(EXTRACT(EPOCH FROM (resolved_at - created_at))) FROM tickets WHERE resolved_at IS NOT NULL AND ` + where
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&avgSeconds); err != nil {
		return stats, err
	}
	if avgSeconds != nil {
		stats.AverageResolution = time.Duration(*avgSeconds * float64(time.Second))
	}
	return stats, nil
}

func (r *ticketRepository) ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = MaxLimit
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status=$1 AND updated_at <= $2 ORDER BY updated_at ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, domain.TicketStatusResolved, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) CountActiveByAssignee(ctx context.Context, assigneeIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(assigneeIDs))
	if len(assigneeIDs) == 0 {
		return counts, nil
	}
	const query = `
        SELECT assignee_id, COUNT(*) FROM tickets
        WHERE assignee_id = ANY($1) AND status IN ($2, $3)
        GROUP BY assignee_id`
	rows, err := r.pool.Query(ctx, query, assigneeIDs, domain.TicketStatusAssigned, domain.TicketStatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func buildTicketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatorID != nil {
		args = append(args, *filter.CreatorID)
		clauses = append(clauses, fmt.Sprintf("creator_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if filter.DelegateeID != nil {
		args = append(args, *filter.DelegateeID)
		clauses = append(clauses, fmt.Sprintf("delegatee_id=$%d", len(args)))
	}
	if filter.Involved != nil {
		args = append(args, *filter.Involved)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(assignee_id=%s OR previous_assignee_id=%s)", placeholder, placeholder))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, ticketType := range filter.Types {
			args = append(args, ticketType)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR LOWER(number) LIKE %s)",
			placeholder, placeholder, placeholder))
	}
	return strings.Join(clauses, " AND "), args
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.Title,
		&ticket.Description,
		&ticket.Type,
		&ticket.Category,
		&ticket.SubCategory,
		&ticket.Priority,
		&ticket.Status,
		&ticket.CreatorID,
		&ticket.AssigneeID,
		&ticket.DelegateeID,
		&ticket.PreviousAssigneeID,
		&ticket.ResolverID,
		&ticket.Resolution,
		&ticket.ReopenReason,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

// withTx runs fn in a transaction, committing on success.
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
