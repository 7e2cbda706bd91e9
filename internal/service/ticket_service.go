package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/lock"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const autoCloseBatch = 100

// TicketService runs every ticket operation through the workflow engine.
// State-changing calls hold the per-ticket lock and persist with a
// compare-and-swap on the version column; reads take no lock.
type TicketService struct {
	tickets     repository.TicketRepository
	users       repository.UserRepository
	comments    repository.CommentRepository
	attachments repository.AttachmentRepository
	history     repository.TicketHistoryRepository
	engine      *workflow.Engine
	locker      lock.Locker
	assignment  *AssignmentService
	metrics     *observability.Metrics
	logger      *zap.Logger
	cfg         config.WorkflowConfig
	newID       func() string
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Repos    repository.Repositories
	Engine   *workflow.Engine
	Locker   lock.Locker
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	Workflow config.WorkflowConfig
}

// TransitionOptions are the optional preconditions of a state change.
type TransitionOptions struct {
	// ExpectedVersion rejects the call with StaleState when the ticket moved on.
	ExpectedVersion *int
	Notes           string
}

// TicketListInput describes a role-scoped listing.
type TicketListInput struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Types      []domain.TicketType
	SearchTerm *string
	// All widens an adjoint's default delegated-to-me scope to every ticket.
	All    bool
	Limit  int
	Offset int
}

// TicketView is a ticket with the thread visible to the viewer and the
// actions the viewer may take next.
type TicketView struct {
	Ticket         *domain.Ticket
	AllowedActions []workflow.Action
}

// AttachmentInput describes uploaded file metadata.
type AttachmentInput struct {
	Name      string
	URL       string
	MimeType  string
	SizeBytes int64
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	cfg := deps.Workflow
	if cfg.LockWaitMillis <= 0 {
		cfg.LockWaitMillis = 2000
	}
	if cfg.AutoCloseAfterDays <= 0 {
		cfg.AutoCloseAfterDays = 7
	}
	return &TicketService{
		tickets:     deps.Repos.Tickets,
		users:       deps.Repos.Users,
		comments:    deps.Repos.Comments,
		attachments: deps.Repos.Attachments,
		history:     deps.Repos.History,
		engine:      deps.Engine,
		locker:      locker,
		assignment:  NewAssignmentService(deps.Repos.Tickets, deps.Repos.Users, cfg.MaxTicketsPerTechnician),
		metrics:     deps.Metrics,
		logger:      logger,
		cfg:         cfg,
		newID:       uuid.NewString,
	}
}

// CreateTicket opens a ticket for the actor. When auto-assignment is enabled
// the ticket is handed to a technician right away; a failed auto-assignment
// leaves the ticket open.
func (s *TicketService) CreateTicket(ctx context.Context, actor workflow.Actor, input workflow.NewTicket) (*domain.Ticket, error) {
	result, err := s.engine.Create(actor, input)
	if err != nil {
		s.metrics.RecordTransition(string(workflow.ActionCreate), apperrors.CodeOf(err))
		return nil, err
	}
	if err := s.tickets.Create(ctx, result.Ticket, *result.Event, result.History); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.metrics.RecordTransition(string(workflow.ActionCreate), "")
	s.logger.Info("ticket created",
		zap.String("ticket_id", result.Ticket.ID),
		zap.String("number", result.Ticket.Number),
		zap.String("creator_id", actor.UserID))

	if !s.cfg.AutoAssignEnabled {
		return result.Ticket, nil
	}
	assigned, err := s.autoAssign(ctx, result.Ticket)
	if err != nil {
		s.logger.Warn("auto-assignment skipped", zap.String("ticket_id", result.Ticket.ID), zap.Error(err))
		return result.Ticket, nil
	}
	return assigned, nil
}

func (s *TicketService) autoAssign(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	technician, err := s.assignment.PickTechnician(ctx, ticket)
	if err != nil {
		return nil, err
	}
	version := ticket.Version
	return s.run(ctx, ticket.ID, workflow.ActionAssign, func(*domain.Ticket) (workflow.Command, error) {
		return workflow.Command{
			Action:          workflow.ActionAssign,
			Actor:           workflow.SystemActor(),
			Target:          technician,
			ExpectedVersion: &version,
			Notes:           "auto-assigned",
		}, nil
	})
}

// AssignTicket hands the ticket to a technician.
func (s *TicketService) AssignTicket(ctx context.Context, actor workflow.Actor, ticketID, technicianID string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.withTarget(ctx, actor, ticketID, workflow.ActionAssign, technicianID, opts)
}

// DelegateTicket hands the ticket to an adjoint for triage.
func (s *TicketService) DelegateTicket(ctx context.Context, actor workflow.Actor, ticketID, adjointID string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.withTarget(ctx, actor, ticketID, workflow.ActionDelegate, adjointID, opts)
}

// ReassignTicket moves an assigned ticket to another technician.
func (s *TicketService) ReassignTicket(ctx context.Context, actor workflow.Actor, ticketID, technicianID string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.withTarget(ctx, actor, ticketID, workflow.ActionReassign, technicianID, opts)
}

// ReopenAndAssign lets staff reopen a closed ticket, or route a reopened one,
// straight to a technician.
func (s *TicketService) ReopenAndAssign(ctx context.Context, actor workflow.Actor, ticketID, technicianID string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.withTarget(ctx, actor, ticketID, workflow.ActionReopenAssign, technicianID, opts)
}

// TakeCharge starts work on an assigned ticket.
func (s *TicketService) TakeCharge(ctx context.Context, actor workflow.Actor, ticketID string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.simple(ctx, actor, ticketID, workflow.Command{Action: workflow.ActionTakeCharge}, opts)
}

// ResolveTicket records the resolution summary.
func (s *TicketService) ResolveTicket(ctx context.Context, actor workflow.Actor, ticketID, resolution string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.simple(ctx, actor, ticketID, workflow.Command{Action: workflow.ActionResolve, Resolution: resolution}, opts)
}

// ValidateResolution closes the ticket when accepted, or reopens it with the
// rejection reason.
func (s *TicketService) ValidateResolution(ctx context.Context, actor workflow.Actor, ticketID string, accept bool, reason string, opts TransitionOptions) (*domain.Ticket, error) {
	cmd := workflow.Command{Action: workflow.ActionValidate}
	if !accept {
		cmd = workflow.Command{Action: workflow.ActionReject, Reason: reason}
	}
	return s.simple(ctx, actor, ticketID, cmd, opts)
}

// ReopenTicket reopens a closed ticket within the reopen window.
func (s *TicketService) ReopenTicket(ctx context.Context, actor workflow.Actor, ticketID, reason string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.simple(ctx, actor, ticketID, workflow.Command{Action: workflow.ActionReopen, Reason: reason}, opts)
}

// EscalatePriority raises the priority one level. Escalating a critical
// ticket succeeds without change.
func (s *TicketService) EscalatePriority(ctx context.Context, actor workflow.Actor, ticketID string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.simple(ctx, actor, ticketID, workflow.Command{Action: workflow.ActionEscalate}, opts)
}

// RequestInfo posts an internal information request on the thread.
func (s *TicketService) RequestInfo(ctx context.Context, actor workflow.Actor, ticketID, message string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.simple(ctx, actor, ticketID, workflow.Command{Action: workflow.ActionRequestInfo, Message: message}, opts)
}

// EditTicket changes creator-editable fields while the ticket is open.
func (s *TicketService) EditTicket(ctx context.Context, actor workflow.Actor, ticketID string, fields workflow.EditFields, opts TransitionOptions) (*domain.Ticket, error) {
	return s.simple(ctx, actor, ticketID, workflow.Command{Action: workflow.ActionEdit, Edit: &fields}, opts)
}

// DeleteTicket removes an open, unassigned ticket.
func (s *TicketService) DeleteTicket(ctx context.Context, actor workflow.Actor, ticketID string, opts TransitionOptions) error {
	_, err := s.simple(ctx, actor, ticketID, workflow.Command{Action: workflow.ActionDelete}, opts)
	return err
}

// AutoCloseResolved closes every ticket left resolved longer than the
// configured delay. Tickets that move concurrently are skipped.
func (s *TicketService) AutoCloseResolved(ctx context.Context) (int, error) {
	cutoff := s.engine.Now().Add(-s.cfg.AutoCloseAfter())
	closed := 0
	for {
		candidates, err := s.tickets.ListResolvedBefore(ctx, cutoff, autoCloseBatch)
		if err != nil {
			return closed, apperrors.MapError(err)
		}
		progressed := 0
		for i := range candidates {
			version := candidates[i].Version
			_, err := s.run(ctx, candidates[i].ID, workflow.ActionAutoClose, func(*domain.Ticket) (workflow.Command, error) {
				return workflow.Command{
					Action:          workflow.ActionAutoClose,
					Actor:           workflow.SystemActor(),
					ExpectedVersion: &version,
				}, nil
			})
			switch {
			case err == nil:
				closed++
				progressed++
			case apperrors.Is(err, apperrors.CodeStaleState), apperrors.Is(err, apperrors.CodeNotFound):
				s.logger.Debug("auto-close skipped", zap.String("ticket_id", candidates[i].ID), zap.Error(err))
			default:
				s.metrics.RecordAutoClosed(closed)
				return closed, err
			}
		}
		if len(candidates) < autoCloseBatch || progressed == 0 {
			break
		}
	}
	s.metrics.RecordAutoClosed(closed)
	return closed, nil
}

// GetTicket returns the ticket with its visible thread and attachments.
func (s *TicketService) GetTicket(ctx context.Context, actor workflow.Actor, ticketID string) (*TicketView, error) {
	ticket, err := s.visibleTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	comments, err := readWithRetry(ctx, func() ([]domain.Comment, error) {
		return s.comments.ListByTicket(ctx, ticketID, workflow.CanSeeInternal(actor))
	})
	if err != nil {
		return nil, err
	}
	attachments, err := readWithRetry(ctx, func() ([]domain.Attachment, error) {
		return s.attachments.ListByTicket(ctx, ticketID)
	})
	if err != nil {
		return nil, err
	}
	ticket.Comments = comments
	ticket.Attachments = attachments
	return &TicketView{Ticket: ticket, AllowedActions: s.engine.AllowedActions(actor, ticket)}, nil
}

// ListTickets lists the tickets the actor's role may browse.
func (s *TicketService) ListTickets(ctx context.Context, actor workflow.Actor, input TicketListInput) ([]domain.Ticket, int, error) {
	filter, err := scopedFilter(actor, input)
	if err != nil {
		return nil, 0, err
	}
	filter.Limit, filter.Offset = repository.NormalizePage(input.Limit, input.Offset)

	type page struct {
		items []domain.Ticket
		total int
	}
	res, err := readWithRetry(ctx, func() (page, error) {
		items, total, err := s.tickets.List(ctx, filter)
		return page{items: items, total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.items, res.total, nil
}

// Stats aggregates the tickets in the actor's scope.
func (s *TicketService) Stats(ctx context.Context, actor workflow.Actor) (repository.TicketStats, error) {
	filter, err := scopedFilter(actor, TicketListInput{All: true})
	if err != nil {
		return repository.TicketStats{}, err
	}
	return readWithRetry(ctx, func() (repository.TicketStats, error) {
		return s.tickets.Stats(ctx, filter)
	})
}

// ListHistory returns the audit trail of a visible ticket.
func (s *TicketService) ListHistory(ctx context.Context, actor workflow.Actor, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.visibleTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	return readWithRetry(ctx, func() ([]domain.TicketHistory, error) {
		return s.history.ListByTicket(ctx, ticketID)
	})
}

// AddComment appends to the ticket thread. Only staff may post internal
// notes. Comments never change the ticket version.
func (s *TicketService) AddComment(ctx context.Context, actor workflow.Actor, ticketID, body string, internal bool) (*domain.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("comment body is required", nil)
	}
	if internal && !workflow.CanSeeInternal(actor) {
		return nil, apperrors.NewPermissionDenied("only staff may post internal notes", nil)
	}
	ticket, err := s.visibleTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}

	now := s.engine.Now()
	comment := &domain.Comment{
		ID:        s.newID(),
		TicketID:  ticket.ID,
		AuthorID:  actor.UserID,
		Body:      body,
		Kind:      domain.CommentKindComment,
		Internal:  internal,
		CreatedAt: now,
	}
	event := events.Event{
		ID:        s.newID(),
		Type:      events.EventTicketCommentAdded,
		TicketID:  ticket.ID,
		ActorID:   actor.UserID,
		Timestamp: now,
		Payload: events.TicketPayload{
			Number:      ticket.Number,
			Title:       ticket.Title,
			CreatorID:   ticket.CreatorID,
			AssigneeID:  ticket.AssigneeID,
			DelegateeID: ticket.DelegateeID,
			Message:     body,
			CommentID:   comment.ID,
			Internal:    internal,
		},
	}
	if err := s.comments.Create(ctx, comment, event); err != nil {
		return nil, apperrors.MapError(err)
	}
	return comment, nil
}

// AddAttachment records file metadata on a visible ticket.
func (s *TicketService) AddAttachment(ctx context.Context, actor workflow.Actor, ticketID string, input AttachmentInput) (*domain.Attachment, error) {
	name := strings.TrimSpace(input.Name)
	url := strings.TrimSpace(input.URL)
	if name == "" || url == "" {
		return nil, apperrors.NewValidationError("name and url are required", nil)
	}
	if input.SizeBytes < 0 {
		return nil, apperrors.NewValidationError("size must not be negative", nil)
	}
	ticket, err := s.visibleTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	attachment := &domain.Attachment{
		ID:         s.newID(),
		TicketID:   ticket.ID,
		Name:       name,
		URL:        url,
		MimeType:   strings.TrimSpace(input.MimeType),
		SizeBytes:  input.SizeBytes,
		UploadedBy: actor.UserID,
		UploadedAt: s.engine.Now(),
	}
	if err := s.attachments.Create(ctx, attachment); err != nil {
		return nil, apperrors.MapError(err)
	}
	return attachment, nil
}

func (s *TicketService) visibleTicket(ctx context.Context, actor workflow.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := readWithRetry(ctx, func() (*domain.Ticket, error) {
		return s.tickets.GetByID(ctx, ticketID)
	})
	if err != nil {
		return nil, err
	}
	if !workflow.CanView(actor, ticket) {
		return nil, apperrors.NewPermissionDenied("ticket is not visible to you", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

func (s *TicketService) withTarget(ctx context.Context, actor workflow.Actor, ticketID string, action workflow.Action, targetID string, opts TransitionOptions) (*domain.Ticket, error) {
	return s.run(ctx, ticketID, action, func(*domain.Ticket) (workflow.Command, error) {
		cmd := workflow.Command{Action: action, Actor: actor, ExpectedVersion: opts.ExpectedVersion, Notes: opts.Notes}
		if strings.TrimSpace(targetID) == "" {
			return cmd, nil
		}
		target, err := s.users.GetByID(ctx, targetID)
		if err != nil {
			return cmd, apperrors.MapError(err)
		}
		cmd.Target = target
		return cmd, nil
	})
}

func (s *TicketService) simple(ctx context.Context, actor workflow.Actor, ticketID string, cmd workflow.Command, opts TransitionOptions) (*domain.Ticket, error) {
	cmd.Actor = actor
	cmd.ExpectedVersion = opts.ExpectedVersion
	cmd.Notes = opts.Notes
	return s.run(ctx, ticketID, cmd.Action, func(*domain.Ticket) (workflow.Command, error) {
		return cmd, nil
	})
}

// run is the single write path: lock, load, build, apply, persist.
func (s *TicketService) run(ctx context.Context, ticketID string, action workflow.Action, build func(*domain.Ticket) (workflow.Command, error)) (ticket *domain.Ticket, err error) {
	defer func() {
		code := ""
		if err != nil {
			code = apperrors.ToDomainError(err).Code
		}
		s.metrics.RecordTransition(string(action), code)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait())
	release, err := s.locker.Acquire(lockCtx, ticketID)
	cancel()
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, apperrors.NewStaleState("ticket is being changed by another request", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	defer release()

	current, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	cmd, err := build(current)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.Apply(current, cmd)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Deleted:
		err = s.tickets.Delete(ctx, ticketID, result.PreviousVersion, *result.Event)
	case result.Event == nil:
		return result.Ticket, nil
	default:
		err = s.tickets.ApplyTransition(ctx, repository.Transition{
			Ticket:          result.Ticket,
			ExpectedVersion: result.PreviousVersion,
			Mutated:         result.Mutated,
			Event:           result.Event,
			History:         result.History,
			Comment:         result.Comment,
		})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("ticket transition",
		zap.String("ticket_id", ticketID),
		zap.String("action", string(action)),
		zap.String("event_type", string(result.Event.Type)),
		zap.String("from_status", string(current.Status)),
		zap.String("to_status", string(result.Ticket.Status)),
		zap.Int("version", result.Ticket.Version))
	return result.Ticket, nil
}

func scopedFilter(actor workflow.Actor, input TicketListInput) (repository.TicketFilter, error) {
	filter := repository.TicketFilter{
		Statuses:   input.Statuses,
		Priorities: input.Priorities,
		Types:      input.Types,
		SearchTerm: input.SearchTerm,
	}
	id := actor.UserID
	switch actor.Role {
	case domain.RoleUser:
		filter.CreatorID = &id
	case domain.RoleTechnician:
		filter.Involved = &id
	case domain.RoleAdjoint:
		if !input.All {
			filter.DelegateeID = &id
		}
	case domain.RoleDSI, domain.RoleAdmin:
	default:
		return filter, apperrors.NewPermissionDenied("role not allowed", nil)
	}
	return filter, nil
}

// readWithRetry retries read-only calls on transient failures. Domain errors
// and cancellation are returned as is.
func readWithRetry[T any](ctx context.Context, read func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	out, err := backoff.Retry(ctx, func() (T, error) {
		v, err := read()
		if err == nil {
			return v, nil
		}
		if !apperrors.Transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(3))
	if err != nil {
		return out, apperrors.MapError(err)
	}
	return out, nil
}
