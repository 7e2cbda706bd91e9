// Package memory provides an in-process implementation of every repository,
// used when no database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type outboxEntry struct {
	event       events.Event
	attempts    int
	lastError   string
	lockedUntil time.Time
	dispatched  bool
	failed      bool
}

// Store keeps all state behind one mutex so multi-table writes are atomic,
// like a database transaction.
type Store struct {
	mu            sync.RWMutex
	now           func() time.Time
	tickets       map[string]*domain.Ticket
	users         map[string]*domain.User
	comments      map[string][]domain.Comment
	attachments   map[string][]domain.Attachment
	history       map[string][]domain.TicketHistory
	notifications []*domain.Notification
	outbox        []*outboxEntry
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for outbox leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		tickets:     make(map[string]*domain.Ticket),
		users:       make(map[string]*domain.User),
		comments:    make(map[string][]domain.Comment),
		attachments: make(map[string][]domain.Attachment),
		history:     make(map[string][]domain.TicketHistory),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Tickets:       ticketRepo{s},
		Users:         userRepo{s},
		Comments:      commentRepo{s},
		Attachments:   attachmentRepo{s},
		History:       historyRepo{s},
		Notifications: notificationRepo{s},
		Outbox:        outboxRepo{s},
	}
}

// OutboxEvents returns every event ever appended, dispatched or not.
func (s *Store) OutboxEvents() []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Event, 0, len(s.outbox))
	for _, entry := range s.outbox {
		out = append(out, entry.event)
	}
	return out
}

func (s *Store) appendOutbox(event events.Event) {
	s.outbox = append(s.outbox, &outboxEntry{event: event})
}

func notFoundTicket(id string) error {
	return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(_ context.Context, ticket *domain.Ticket, event events.Event, history *domain.TicketHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.tickets[ticket.ID]; exists {
		return apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
	}
	stored := ticket.Clone()
	stored.Comments, stored.Attachments = nil, nil
	r.s.tickets[ticket.ID] = stored
	if history != nil {
		r.s.history[ticket.ID] = append(r.s.history[ticket.ID], *history)
	}
	r.s.appendOutbox(event)
	return nil
}

func (r ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ticket, ok := r.s.tickets[id]
	if !ok {
		return nil, notFoundTicket(id)
	}
	return ticket.Clone(), nil
}

func (r ticketRepo) ApplyTransition(_ context.Context, change repository.Transition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := change.Ticket.ID
	current, ok := r.s.tickets[id]
	if !ok {
		return notFoundTicket(id)
	}
	if current.Version != change.ExpectedVersion {
		return apperrors.NewStaleState("ticket was modified concurrently", map[string]any{
			"ticket_id":        id,
			"expected_version": change.ExpectedVersion,
			"current_version":  current.Version,
		})
	}
	if change.Mutated {
		stored := change.Ticket.Clone()
		stored.Comments, stored.Attachments = nil, nil
		r.s.tickets[id] = stored
	}
	if change.Comment != nil {
		r.s.comments[id] = append(r.s.comments[id], *change.Comment)
	}
	if change.History != nil {
		r.s.history[id] = append(r.s.history[id], *change.History)
	}
	if change.Event != nil {
		r.s.appendOutbox(*change.Event)
	}
	return nil
}

func (r ticketRepo) Delete(_ context.Context, id string, expectedVersion int, event events.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.tickets[id]
	if !ok {
		return notFoundTicket(id)
	}
	if current.Version != expectedVersion {
		return apperrors.NewStaleState("ticket was modified concurrently", map[string]any{"ticket_id": id})
	}
	delete(r.s.tickets, id)
	delete(r.s.comments, id)
	delete(r.s.attachments, id)
	delete(r.s.history, id)
	for _, n := range r.s.notifications {
		if n.TicketID != nil && *n.TicketID == id {
			n.TicketID = nil
		}
	}
	r.s.appendOutbox(event)
	return nil
}

func (r ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, int, error) {
	r.s.mu.RLock()
	matched := r.s.filterTickets(filter)
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	total := len(matched)
	limit, offset := repository.NormalizePage(filter.Limit, filter.Offset)
	if offset >= total {
		return []domain.Ticket{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r ticketRepo) Stats(_ context.Context, filter repository.TicketFilter) (repository.TicketStats, error) {
	r.s.mu.RLock()
	matched := r.s.filterTickets(filter)
	r.s.mu.RUnlock()

	stats := repository.TicketStats{
		Total:      len(matched),
		ByStatus:   make(map[domain.TicketStatus]int),
		ByPriority: make(map[domain.TicketPriority]int),
	}
	var (
		resolved int
		sum      time.Duration
	)
	for _, t := range matched {
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
		if t.ResolvedAt != nil {
			resolved++
			sum += t.ResolvedAt.Sub(t.CreatedAt)
		}
	}
	if resolved > 0 {
		stats.AverageResolution = sum / time.Duration(resolved)
	}
	return stats, nil
}

func (r ticketRepo) ListResolvedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	r.s.mu.RLock()
	var out []domain.Ticket
	for _, t := range r.s.tickets {
		if t.Status == domain.TicketStatusResolved && !t.UpdatedAt.After(cutoff) {
			out = append(out, *t.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit <= 0 {
		limit = repository.MaxLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r ticketRepo) CountActiveByAssignee(_ context.Context, assigneeIDs []string) (map[string]int, error) {
	wanted := make(map[string]struct{}, len(assigneeIDs))
	for _, id := range assigneeIDs {
		wanted[id] = struct{}{}
	}
	counts := make(map[string]int, len(assigneeIDs))

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.tickets {
		if t.AssigneeID == nil {
			continue
		}
		if t.Status != domain.TicketStatusAssigned && t.Status != domain.TicketStatusInProgress {
			continue
		}
		if _, ok := wanted[*t.AssigneeID]; ok {
			counts[*t.AssigneeID]++
		}
	}
	return counts, nil
}

// filterTickets must be called with the read lock held.
func (s *Store) filterTickets(filter repository.TicketFilter) []domain.Ticket {
	var out []domain.Ticket
	for _, t := range s.tickets {
		if matchTicket(t, filter) {
			out = append(out, *t.Clone())
		}
	}
	return out
}

func matchTicket(t *domain.Ticket, f repository.TicketFilter) bool {
	if f.CreatorID != nil && t.CreatorID != *f.CreatorID {
		return false
	}
	if f.AssigneeID != nil && domain.Deref(t.AssigneeID) != *f.AssigneeID {
		return false
	}
	if f.DelegateeID != nil && domain.Deref(t.DelegateeID) != *f.DelegateeID {
		return false
	}
	if f.Involved != nil && domain.Deref(t.AssigneeID) != *f.Involved && domain.Deref(t.PreviousAssigneeID) != *f.Involved {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, t.Type) {
		return false
	}
	if f.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) &&
			!strings.Contains(strings.ToLower(t.Number), term) {
			return false
		}
	}
	return true
}

func contains[T comparable](set []T, v T) bool {
	for _, candidate := range set {
		if candidate == v {
			return true
		}
	}
	return false
}
