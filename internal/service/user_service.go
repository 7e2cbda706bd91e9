package service

import (
	"context"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// UserService lists the staff members tickets can be routed to.
type UserService struct {
	users repository.UserRepository
}

// NewUserService constructs the service.
func NewUserService(users repository.UserRepository) *UserService {
	return &UserService{users: users}
}

// ListTechnicians returns active technicians. A specialization narrows the
// list to technicians handling that ticket type or any type.
func (s *UserService) ListTechnicians(ctx context.Context, specialization *domain.TicketType) ([]domain.User, error) {
	if specialization != nil && !specialization.Valid() {
		return nil, apperrors.NewValidationError("invalid specialization", map[string]any{"specialization": string(*specialization)})
	}
	return s.list(ctx, domain.RoleTechnician, specialization)
}

// ListAdjoints returns active adjoints.
func (s *UserService) ListAdjoints(ctx context.Context) ([]domain.User, error) {
	return s.list(ctx, domain.RoleAdjoint, nil)
}

func (s *UserService) list(ctx context.Context, role domain.Role, specialization *domain.TicketType) ([]domain.User, error) {
	users, err := readWithRetry(ctx, func() ([]domain.User, error) {
		return s.users.List(ctx, repository.UserFilter{
			Role:           &role,
			Specialization: specialization,
			Active:         ptrBool(true),
		})
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}
