package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *memory.Store
	clock   *testClock
	tickets *TicketService
	users   map[string]*domain.User
}

func workflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		ReopenWindowDays:        7,
		AutoCloseAfterDays:      7,
		AutoCloseSchedule:       "0 * * * *",
		LockTTLSeconds:          10,
		LockWaitMillis:          2000,
		MaxTicketsPerTechnician: 2,
	}
}

func newFixture(t *testing.T, mutate ...func(*config.WorkflowConfig)) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(clock.Now))
	cfg := workflowConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	hardware := domain.TicketTypeHardware
	software := domain.TicketTypeSoftware
	users := map[string]*domain.User{
		"alice":  {ID: "alice", Name: "Alice", Email: "alice@example.com", Role: domain.RoleUser, Active: true},
		"bob":    {ID: "bob", Name: "Bob", Email: "bob@example.com", Role: domain.RoleUser, Active: true},
		"dina":   {ID: "dina", Name: "Dina", Email: "dina@example.com", Role: domain.RoleDSI, Active: true},
		"adam":   {ID: "adam", Name: "Adam", Email: "adam@example.com", Role: domain.RoleAdjoint, Active: true},
		"tom":    {ID: "tom", Name: "Tom", Email: "tom@example.com", Role: domain.RoleTechnician, Specialization: &hardware, Active: true, CreatedAt: clock.now.Add(-48 * time.Hour)},
		"tess":   {ID: "tess", Name: "Tess", Email: "tess@example.com", Role: domain.RoleTechnician, Specialization: &hardware, Active: true, CreatedAt: clock.now.Add(-24 * time.Hour)},
		"sam":    {ID: "sam", Name: "Sam", Email: "sam@example.com", Role: domain.RoleTechnician, Specialization: &software, Active: true},
		"olga":   {ID: "olga", Name: "Olga", Email: "olga@example.com", Role: domain.RoleTechnician, Active: false},
		"archie": {ID: "archie", Name: "Archie", Email: "archie@example.com", Role: domain.RoleAdmin, Active: true},
	}
	for _, u := range users {
		require.NoError(t, store.Repositories().Users.Create(context.Background(), u))
	}

	engine := workflow.NewEngine(workflow.Policy{ReopenWindow: cfg.ReopenWindow()}, workflow.WithClock(clock.Now))
	svc := NewTicketService(TicketDependencies{
		Repos:    store.Repositories(),
		Engine:   engine,
		Workflow: cfg,
	})
	return &fixture{store: store, clock: clock, tickets: svc, users: users}
}

func (f *fixture) actor(name string) workflow.Actor {
	return workflow.ActorFor(f.users[name])
}

func (f *fixture) create(t *testing.T, ticketType domain.TicketType) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), f.actor("alice"), workflow.NewTicket{
		Title:       "Printer jam",
		Description: "Paper stuck in tray 2",
		Type:        ticketType,
	})
	require.NoError(t, err)
	return ticket
}

func intPtr(v int) *int {
	return &v
}
