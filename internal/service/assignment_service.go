package service

import (
	"context"
	"sort"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AssignmentService picks technicians for automatic assignment.
type AssignmentService struct {
	tickets  repository.TicketRepository
	users    repository.UserRepository
	capacity int
}

// NewAssignmentService creates the service. A capacity of zero or less means
// technicians have no ticket limit.
func NewAssignmentService(tickets repository.TicketRepository, users repository.UserRepository, capacity int) *AssignmentService {
	return &AssignmentService{tickets: tickets, users: users, capacity: capacity}
}

// PickTechnician returns the least loaded active technician whose
// specialization matches the ticket type and who is under capacity. Ties go to
// the longest-standing account, then to a stable hash of the ticket id.
func (s *AssignmentService) PickTechnician(ctx context.Context, ticket *domain.Ticket) (*domain.User, error) {
	role := domain.RoleTechnician
	ticketType := ticket.Type
	candidates, err := s.users.List(ctx, repository.UserFilter{
		Role:           &role,
		Specialization: &ticketType,
		Active:         ptrBool(true),
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if len(candidates) == 0 {
		return nil, apperrors.NewConflict("no eligible technician", map[string]any{"type": string(ticket.Type)})
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	load, err := s.tickets.CountActiveByAssignee(ctx, ids)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	eligible := candidates[:0]
	for _, c := range candidates {
		if s.capacity > 0 && load[c.ID] >= s.capacity {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil, apperrors.NewConflict("every technician is at capacity", map[string]any{"type": string(ticket.Type)})
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if load[eligible[i].ID] != load[eligible[j].ID] {
			return load[eligible[i].ID] < load[eligible[j].ID]
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	best := 1
	for best < len(eligible) && load[eligible[best].ID] == load[eligible[0].ID] &&
		eligible[best].CreatedAt.Equal(eligible[0].CreatedAt) {
		best++
	}
	picked := eligible[selectIndex(ticket.ID, best)]
	return &picked, nil
}

func selectIndex(key string, length int) int {
	if length == 0 {
		return 0
	}
	sum := 0
	for _, ch := range key {
		sum += int(ch)
	}
	return sum % length
}

func ptrBool(v bool) *bool {
	return &v
}
