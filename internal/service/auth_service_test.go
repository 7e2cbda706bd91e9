package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

func newAuthService() *AuthService {
	store := memory.New()
	tokens := auth.NewTokenManager("test-secret", 15)
	return NewAuthService(config.AuthConfig{BcryptCost: bcrypt.MinCost}, store.Repositories().Users, tokens)
}

func TestCreateUserAndLogin(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()
	hardware := domain.TicketTypeHardware

	user, err := svc.CreateUser(ctx, NewUserInput{
		Name: "Tom", Email: " Tom@Example.com ", Password: "s3cret-pass",
		Role: domain.RoleTechnician, Specialization: &hardware,
	})
	require.NoError(t, err)
	assert.Equal(t, "tom@example.com", user.Email)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	logged, token, exp, err := svc.Login(ctx, "tom@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)
	assert.False(t, exp.IsZero())

	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, domain.RoleTechnician, claims.Role)

	me, err := svc.Me(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tom", me.Name)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()
	_, err := svc.CreateUser(ctx, NewUserInput{Name: "Al", Email: "al@example.com", Password: "password1", Role: domain.RoleUser})
	require.NoError(t, err)

	_, _, _, wrongPassword := svc.Login(ctx, "al@example.com", "nope-nope")
	_, _, _, unknown := svc.Login(ctx, "ghost@example.com", "password1")

	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(wrongPassword))
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(unknown))
	assert.Equal(t, wrongPassword.Error(), unknown.Error())
}

func TestCreateUserValidation(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, NewUserInput{Name: "X", Email: "x@example.com", Password: "short", Role: domain.RoleUser})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = svc.CreateUser(ctx, NewUserInput{Name: "X", Email: "x@example.com", Password: "longenough", Role: "guest"})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = svc.CreateUser(ctx, NewUserInput{Name: "X", Email: "x@example.com", Password: "longenough", Role: domain.RoleUser})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, NewUserInput{Name: "Y", Email: "X@example.com", Password: "longenough", Role: domain.RoleUser})
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
}

func TestUserServiceListsActiveStaff(t *testing.T) {
	f := newFixture(t)
	users := NewUserService(f.store.Repositories().Users)
	ctx := context.Background()

	all, err := users.ListTechnicians(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	software := domain.TicketTypeSoftware
	specialists, err := users.ListTechnicians(ctx, &software)
	require.NoError(t, err)
	require.Len(t, specialists, 1)
	assert.Equal(t, "sam", specialists[0].ID)

	bad := domain.TicketType("network")
	_, err = users.ListTechnicians(ctx, &bad)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	adjoints, err := users.ListAdjoints(ctx)
	require.NoError(t, err)
	require.Len(t, adjoints, 1)
	assert.Equal(t, "adam", adjoints[0].ID)
}
