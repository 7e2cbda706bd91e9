package workflow

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const defaultReopenReason = "reopened by requester"

// Command is one attempt to apply an action to a ticket.
type Command struct {
	Action Action
	Actor  Actor
	// Target is the technician or adjoint receiving the ticket.
	Target *domain.User
	// ExpectedVersion, when set, must match the ticket version.
	ExpectedVersion *int
	Reason          string
	Notes           string
	Resolution      string
	Message         string
	Edit            *EditFields
}

// EditFields are the creator-editable ticket attributes. Nil means unchanged.
type EditFields struct {
	Title       *string
	Description *string
	Type        *domain.TicketType
	Priority    *domain.TicketPriority
	Category    *string
	SubCategory *string
}

func (f *EditFields) empty() bool {
	return f == nil || (f.Title == nil && f.Description == nil && f.Type == nil &&
		f.Priority == nil && f.Category == nil && f.SubCategory == nil)
}

// NewTicket is the creation payload.
type NewTicket struct {
	Title       string
	Description string
	Type        domain.TicketType
	Priority    domain.TicketPriority
	Category    *string
	SubCategory *string
}

// Result is the outcome of a successful Apply.
type Result struct {
	// Ticket is the new snapshot. The input ticket is never modified.
	Ticket *domain.Ticket
	// Event is the single domain event to append to the outbox. Nil for no-ops.
	Event *events.Event
	// History is the audit entry for a state or attribute change.
	History *domain.TicketHistory
	// Comment is set for actions that only append to the thread.
	Comment *domain.Comment
	// Mutated reports that ticket attributes changed and the version advanced.
	Mutated bool
	// Deleted reports that the ticket must be removed.
	Deleted bool
	// PreviousVersion is the version the persisted row must still hold.
	PreviousVersion int
}

// Engine applies actions to ticket snapshots. It holds no state besides its
// policy and clock, so it is safe for concurrent use.
type Engine struct {
	policy Policy
	now    func() time.Time
	newID  func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides id generation for events, tickets and comments.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine constructs an engine.
func NewEngine(policy Policy, opts ...Option) *Engine {
	e := &Engine{policy: policy, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the guard policy in use.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// CanPerform evaluates the guard table at the engine clock.
func (e *Engine) CanPerform(actor Actor, ticket *domain.Ticket, action Action) bool {
	return e.policy.CanPerform(actor, ticket, action, e.Now())
}

// AllowedActions lists the actions available to the actor at the engine clock.
func (e *Engine) AllowedActions(actor Actor, ticket *domain.Ticket) []Action {
	return e.policy.AllowedActions(actor, ticket, e.Now())
}

// Create validates the payload and builds a new open ticket.
func (e *Engine) Create(actor Actor, in NewTicket) (*Result, error) {
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}
	if !in.Type.Valid() {
		return nil, apperrors.NewValidationError("invalid ticket type", map[string]any{"type": string(in.Type)})
	}
	priority := in.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": string(priority)})
	}
	if !RoleCan(actor, ActionCreate) {
		return nil, apperrors.NewPermissionDenied("role not allowed", map[string]any{"action": string(ActionCreate)})
	}

	now := e.Now()
	id := e.newID()
	ticket := &domain.Ticket{
		ID:          id,
		Number:      ticketNumber(id),
		Title:       title,
		Description: description,
		Type:        in.Type,
		Category:    trimmedOrNil(in.Category),
		SubCategory: trimmedOrNil(in.SubCategory),
		Priority:    priority,
		Status:      domain.TicketStatusOpen,
		CreatorID:   actor.UserID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	event := e.event(events.EventTicketCreated, ticket, actor, now, events.TicketPayload{
		Number:      ticket.Number,
		Title:       ticket.Title,
		ToStatus:    ticket.Status,
		CreatorID:   ticket.CreatorID,
		NewPriority: ticket.Priority,
	})
	history := e.history(ticket, actor, ActionCreate, "", ticket.Status, nil, map[string]any{
		"title":    ticket.Title,
		"priority": string(ticket.Priority),
		"type":     string(ticket.Type),
	}, now)
	return &Result{Ticket: ticket, Event: &event, History: history, Mutated: true}, nil
}

// Apply checks the command against the ticket and, on success, computes the
// next snapshot together with its single outbox event. On any error the
// returned Result is nil and nothing was changed.
func (e *Engine) Apply(ticket *domain.Ticket, cmd Command) (*Result, error) {
	if ticket == nil {
		return nil, apperrors.NewNotFound("ticket", nil)
	}
	if _, ok := transitions[cmd.Action]; !ok {
		return nil, apperrors.NewValidationError("unknown action", map[string]any{"action": string(cmd.Action)})
	}
	if err := validatePayload(cmd); err != nil {
		return nil, err
	}
	now := e.Now()
	if err := e.policy.authorize(cmd.Actor, ticket, cmd.Action, cmd.ExpectedVersion, now); err != nil {
		return nil, err
	}
	// Escalating at the priority ceiling succeeds without a change.
	if cmd.Action == ActionEscalate && ticket.Priority == domain.TicketPriorityCritical {
		return &Result{Ticket: ticket.Clone(), PreviousVersion: ticket.Version}, nil
	}

	next := ticket.Clone()
	spec := transitions[cmd.Action]
	from := ticket.Status
	if spec.to != "" {
		next.Status = spec.to
	}
	payload := events.TicketPayload{
		Number:      ticket.Number,
		Title:       ticket.Title,
		FromStatus:  from,
		ToStatus:    next.Status,
		CreatorID:   ticket.CreatorID,
		NewPriority: ticket.Priority,
		Reason:      strings.TrimSpace(cmd.Reason),
		Notes:       strings.TrimSpace(cmd.Notes),
	}
	oldValue := map[string]any{}
	newValue := map[string]any{}

	switch cmd.Action {
	case ActionAssign, ActionReopenAssign:
		oldValue["assignee_id"] = ticket.AssigneeID
		oldValue["delegatee_id"] = ticket.DelegateeID
		if ticket.AssigneeID != nil {
			next.PreviousAssigneeID = ticket.AssigneeID
		}
		next.AssigneeID = domain.StringPtr(cmd.Target.ID)
		next.DelegateeID = nil
		next.ReopenReason = ""
		payload.AssigneeID = next.AssigneeID
		payload.PreviousAssigneeID = next.PreviousAssigneeID
		newValue["assignee_id"] = cmd.Target.ID

	case ActionDelegate:
		oldValue["assignee_id"] = ticket.AssigneeID
		oldValue["delegatee_id"] = ticket.DelegateeID
		if ticket.AssigneeID != nil {
			next.PreviousAssigneeID = ticket.AssigneeID
		}
		next.AssigneeID = nil
		next.DelegateeID = domain.StringPtr(cmd.Target.ID)
		next.ReopenReason = ""
		payload.DelegateeID = next.DelegateeID
		newValue["delegatee_id"] = cmd.Target.ID

	case ActionReassign:
		if ticket.AssigneeID != nil && *ticket.AssigneeID == cmd.Target.ID {
			return nil, apperrors.NewValidationError("ticket is already assigned to this technician",
				map[string]any{"technician_id": cmd.Target.ID})
		}
		oldValue["assignee_id"] = ticket.AssigneeID
		next.PreviousAssigneeID = ticket.AssigneeID
		next.AssigneeID = domain.StringPtr(cmd.Target.ID)
		payload.AssigneeID = next.AssigneeID
		payload.PreviousAssigneeID = next.PreviousAssigneeID
		newValue["assignee_id"] = cmd.Target.ID

	case ActionTakeCharge:
		payload.AssigneeID = ticket.AssigneeID

	case ActionResolve:
		resolution := strings.TrimSpace(cmd.Resolution)
		next.Resolution = resolution
		next.ResolverID = domain.StringPtr(cmd.Actor.UserID)
		if next.ResolvedAt == nil {
			resolvedAt := now
			next.ResolvedAt = &resolvedAt
		}
		payload.AssigneeID = ticket.AssigneeID
		payload.Resolution = resolution
		newValue["resolution"] = resolution

	case ActionValidate, ActionAutoClose:
		closedAt := now
		next.ClosedAt = &closedAt
		payload.AssigneeID = ticket.AssigneeID

	case ActionReject, ActionReopen:
		reason := strings.TrimSpace(cmd.Reason)
		if reason == "" {
			reason = defaultReopenReason
		}
		oldValue["assignee_id"] = ticket.AssigneeID
		if ticket.AssigneeID != nil {
			next.PreviousAssigneeID = ticket.AssigneeID
		}
		next.AssigneeID = nil
		next.ReopenReason = reason
		payload.Reason = reason
		payload.PreviousAssigneeID = next.PreviousAssigneeID
		newValue["reopen_reason"] = reason

	case ActionEscalate:
		nextPriority := ticket.Priority.Next()
		next.Priority = nextPriority
		payload.OldPriority = ticket.Priority
		payload.NewPriority = nextPriority
		payload.AssigneeID = ticket.AssigneeID
		payload.DelegateeID = ticket.DelegateeID
		oldValue["priority"] = string(ticket.Priority)
		newValue["priority"] = string(nextPriority)

	case ActionRequestInfo:
		comment := &domain.Comment{
			ID:        e.newID(),
			TicketID:  ticket.ID,
			AuthorID:  cmd.Actor.UserID,
			Body:      strings.TrimSpace(cmd.Message),
			Kind:      domain.CommentKindInfoRequest,
			Internal:  true,
			CreatedAt: now,
		}
		payload.Message = comment.Body
		payload.CommentID = comment.ID
		payload.AssigneeID = ticket.AssigneeID
		event := e.event(spec.event, ticket, cmd.Actor, now, payload)
		next.Comments = append(next.Comments, *comment)
		return &Result{Ticket: next, Event: &event, Comment: comment, PreviousVersion: ticket.Version}, nil

	case ActionEdit:
		applyEdit(next, cmd.Edit, oldValue, newValue)
		payload.Title = next.Title

	case ActionDelete:
		event := e.event(spec.event, ticket, cmd.Actor, now, payload)
		return &Result{Ticket: next, Event: &event, Deleted: true, PreviousVersion: ticket.Version}, nil
	}

	next.Version = ticket.Version + 1
	next.UpdatedAt = now
	event := e.event(spec.event, next, cmd.Actor, now, payload)
	history := e.history(next, cmd.Actor, cmd.Action, from, next.Status, oldValue, newValue, now)
	return &Result{
		Ticket:          next,
		Event:           &event,
		History:         history,
		Mutated:         true,
		PreviousVersion: ticket.Version,
	}, nil
}

func validatePayload(cmd Command) error {
	switch cmd.Action {
	case ActionAssign, ActionReassign, ActionReopenAssign:
		return validateTarget(cmd.Target, domain.RoleTechnician, "technician")
	case ActionDelegate:
		return validateTarget(cmd.Target, domain.RoleAdjoint, "adjoint")
	case ActionResolve:
		if strings.TrimSpace(cmd.Resolution) == "" {
			return apperrors.NewValidationError("resolution summary is required", nil)
		}
	case ActionReject:
		if strings.TrimSpace(cmd.Reason) == "" {
			return apperrors.NewValidationError("rejection reason is required", nil)
		}
	case ActionRequestInfo:
		if strings.TrimSpace(cmd.Message) == "" {
			return apperrors.NewValidationError("message is required", nil)
		}
	case ActionEdit:
		return validateEdit(cmd.Edit)
	}
	return nil
}

func validateTarget(target *domain.User, role domain.Role, label string) error {
	if target == nil {
		return apperrors.NewValidationError(label+" is required", nil)
	}
	if target.Role != role {
		return apperrors.NewValidationError("target user is not a "+label, map[string]any{"user_id": target.ID})
	}
	if !target.Active {
		return apperrors.NewValidationError(label+" is inactive", map[string]any{"user_id": target.ID})
	}
	return nil
}

func validateEdit(fields *EditFields) error {
	if fields.empty() {
		return apperrors.NewValidationError("no fields to update", nil)
	}
	if fields.Title != nil && strings.TrimSpace(*fields.Title) == "" {
		return apperrors.NewValidationError("title cannot be empty", nil)
	}
	if fields.Description != nil && strings.TrimSpace(*fields.Description) == "" {
		return apperrors.NewValidationError("description cannot be empty", nil)
	}
	if fields.Type != nil && !fields.Type.Valid() {
		return apperrors.NewValidationError("invalid ticket type", nil)
	}
	if fields.Priority != nil && !fields.Priority.Valid() {
		return apperrors.NewValidationError("invalid priority", nil)
	}
	return nil
}

func applyEdit(t *domain.Ticket, fields *EditFields, oldValue, newValue map[string]any) {
	if fields.Title != nil {
		oldValue["title"] = t.Title
		t.Title = strings.TrimSpace(*fields.Title)
		newValue["title"] = t.Title
	}
	if fields.Description != nil {
		oldValue["description"] = t.Description
		t.Description = strings.TrimSpace(*fields.Description)
		newValue["description"] = t.Description
	}
	if fields.Type != nil {
		oldValue["type"] = string(t.Type)
		t.Type = *fields.Type
		newValue["type"] = string(t.Type)
	}
	if fields.Priority != nil {
		oldValue["priority"] = string(t.Priority)
		t.Priority = *fields.Priority
		newValue["priority"] = string(t.Priority)
	}
	if fields.Category != nil {
		oldValue["category"] = t.Category
		t.Category = trimmedOrNil(fields.Category)
		newValue["category"] = t.Category
	}
	if fields.SubCategory != nil {
		oldValue["sub_category"] = t.SubCategory
		t.SubCategory = trimmedOrNil(fields.SubCategory)
		newValue["sub_category"] = t.SubCategory
	}
}

func (e *Engine) event(eventType events.EventType, ticket *domain.Ticket, actor Actor, now time.Time, payload events.TicketPayload) events.Event {
	return events.Event{
		ID:        e.newID(),
		Type:      eventType,
		TicketID:  ticket.ID,
		ActorID:   actor.UserID,
		Timestamp: now,
		Payload:   payload,
	}
}

func (e *Engine) history(ticket *domain.Ticket, actor Actor, action Action, from, to domain.TicketStatus, oldValue, newValue map[string]any, now time.Time) *domain.TicketHistory {
	entry := &domain.TicketHistory{
		ID:         e.newID(),
		TicketID:   ticket.ID,
		Action:     string(action),
		FromStatus: from,
		ToStatus:   to,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  now,
	}
	if !actor.System {
		entry.ActorID = domain.StringPtr(actor.UserID)
	}
	return entry
}

func ticketNumber(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return "TKT-" + strings.ToUpper(compact)
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
