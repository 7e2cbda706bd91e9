package memory

import (
	"context"
	"sort"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type notificationRepo struct{ s *Store }

func (r notificationRepo) Create(_ context.Context, n *domain.Notification) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.notifications {
		if existing.EventID == n.EventID && existing.UserID == n.UserID {
			return false, nil
		}
	}
	stored := *n
	r.s.notifications = append(r.s.notifications, &stored)
	return true, nil
}

func (r notificationRepo) ListByUser(_ context.Context, userID string, filter repository.NotificationFilter) ([]domain.Notification, error) {
	r.s.mu.RLock()
	var out []domain.Notification
	for _, n := range r.s.notifications {
		if n.UserID != userID || (filter.UnreadOnly && n.Read) {
			continue
		}
		out = append(out, *n)
	}
	r.s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit, offset := repository.NormalizePage(filter.Limit, filter.Offset)
	if offset >= len(out) {
		return []domain.Notification{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (r notificationRepo) CountUnread(_ context.Context, userID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	count := 0
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r notificationRepo) MarkRead(_ context.Context, id, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range r.s.notifications {
		if n.ID == id && n.UserID == userID {
			n.Read = true
			return nil
		}
	}
	return apperrors.NewNotFound("notification", map[string]any{"notification_id": id})
}

func (r notificationRepo) MarkAllRead(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) ClaimPending(_ context.Context, limit int, lease time.Duration) ([]repository.OutboxRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var out []repository.OutboxRecord
	for _, entry := range r.s.outbox {
		if len(out) >= limit {
			break
		}
		if entry.dispatched || entry.failed || now.Before(entry.lockedUntil) {
			continue
		}
		entry.lockedUntil = now.Add(lease)
		out = append(out, repository.OutboxRecord{Event: entry.event, Attempts: entry.attempts})
	}
	return out, nil
}

func (r outboxRepo) MarkDispatched(_ context.Context, eventID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, entry := range r.s.outbox {
		if entry.event.ID == eventID {
			entry.dispatched = true
			entry.lockedUntil = time.Time{}
			return nil
		}
	}
	return apperrors.NewNotFound("outbox event", map[string]any{"event_id": eventID})
}

func (r outboxRepo) MarkFailed(_ context.Context, eventID string, cause string, maxAttempts int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, entry := range r.s.outbox {
		if entry.event.ID == eventID {
			entry.attempts++
			entry.lastError = cause
			entry.lockedUntil = time.Time{}
			if entry.attempts >= maxAttempts {
				entry.failed = true
			}
			return nil
		}
	}
	return apperrors.NewNotFound("outbox event", map[string]any{"event_id": eventID})
}

// PendingCount reports undispatched, non-failed events.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, entry := range s.outbox {
		if !entry.dispatched && !entry.failed {
			count++
		}
	}
	return count
}
