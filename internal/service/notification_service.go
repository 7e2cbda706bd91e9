package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/notify"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// NotificationService turns dispatched ticket events into in-app
// notifications and emails.
type NotificationService struct {
	notifications repository.NotificationRepository
	tickets       repository.TicketRepository
	users         repository.UserRepository
	dispatcher    events.Dispatcher
	renderer      *notify.Renderer
	mailer        notify.Mailer
	logger        *zap.Logger
	cfg           config.NotificationConfig
	newID         func() string
	now           func() time.Time
}

// NotificationDependencies bundles collaborators of the notification service.
type NotificationDependencies struct {
	Notifications repository.NotificationRepository
	Tickets       repository.TicketRepository
	Users         repository.UserRepository
	Dispatcher    events.Dispatcher
	Renderer      *notify.Renderer
	Mailer        notify.Mailer
	Logger        *zap.Logger
	Config        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		notifications: deps.Notifications,
		tickets:       deps.Tickets,
		users:         deps.Users,
		dispatcher:    deps.Dispatcher,
		renderer:      deps.Renderer,
		mailer:        deps.Mailer,
		logger:        logger,
		cfg:           deps.Config,
		newID:         uuid.NewString,
		now:           time.Now,
	}
}

// RegisterHandlers subscribes to every ticket event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handleEvent)
	}
}

// handleEvent is safe to run more than once for the same event: the
// notification insert is idempotent per (event, user) and emails go out only
// for rows that were actually written.
func (n *NotificationService) handleEvent(ctx context.Context, event events.Event) error {
	recipients, err := n.recipients(ctx, event)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}
	ticketID, err := n.ticketLink(ctx, event)
	if err != nil {
		return err
	}
	title, message, severity := describe(event)
	actorName := n.actorName(ctx, event.ActorID)

	for _, userID := range recipients {
		notification := &domain.Notification{
			ID:        n.newID(),
			UserID:    userID,
			TicketID:  ticketID,
			EventID:   event.ID,
			Title:     title,
			Message:   message,
			Severity:  severity,
			CreatedAt: n.now().UTC(),
		}
		inserted, err := n.notifications.Create(ctx, notification)
		if err != nil {
			return fmt.Errorf("store notification for %s: %w", userID, err)
		}
		if !inserted {
			continue
		}
		n.sendEmail(ctx, event, userID, actorName)
	}
	n.logger.Debug("notifications stored",
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)),
		zap.Int("recipients", len(recipients)))
	return nil
}

// ticketLink returns the ticket a notification may reference. Events can be
// delivered after their ticket was deleted, and those notifications keep the
// text but lose the link.
func (n *NotificationService) ticketLink(ctx context.Context, event events.Event) (*string, error) {
	if event.TicketID == "" || event.Type == events.EventTicketDeleted {
		return nil, nil
	}
	if n.tickets == nil {
		return domain.StringPtr(event.TicketID), nil
	}
	if _, err := n.tickets.GetByID(ctx, event.TicketID); err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load ticket %s: %w", event.TicketID, err)
	}
	return domain.StringPtr(event.TicketID), nil
}

// sendEmail is best effort. A failed delivery is logged and not retried so a
// redelivered event never mails twice.
func (n *NotificationService) sendEmail(ctx context.Context, event events.Event, userID, actorName string) {
	if !n.cfg.EmailEnabled || n.renderer == nil || n.mailer == nil || !n.renderer.Supports(event.Type) {
		return
	}
	recipient, err := n.users.GetByID(ctx, userID)
	if err != nil || recipient.Email == "" {
		return
	}
	email, err := n.renderer.Render(event.Type, notify.Data{
		RecipientName: recipient.Name,
		ActorName:     actorName,
		Number:        event.Payload.Number,
		Title:         event.Payload.Title,
		Priority:      string(event.Payload.NewPriority),
		Reason:        event.Payload.Reason,
		Resolution:    event.Payload.Resolution,
		Link:          n.renderer.TicketLink(event.TicketID),
	})
	if err != nil || email == nil {
		n.logger.Warn("email render failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		return
	}
	email.To = recipient.Email
	email.ToName = recipient.Name
	email.TicketID = event.TicketID
	if err := n.mailer.Send(ctx, email); err != nil {
		n.logger.Warn("email delivery failed",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// recipients lists the users to notify for an event, never including the
// actor who caused it.
func (n *NotificationService) recipients(ctx context.Context, event events.Event) ([]string, error) {
	p := event.Payload
	var ids []string
	add := func(id *string) {
		if id != nil && *id != "" {
			ids = append(ids, *id)
		}
	}
	creator := domain.StringPtr(p.CreatorID)

	switch event.Type {
	case events.EventTicketCreated:
		staff, err := n.usersWithRoles(ctx, domain.RoleDSI, domain.RoleAdmin)
		if err != nil {
			return nil, err
		}
		ids = append(ids, staff...)
	case events.EventTicketAssigned, events.EventTicketReassigned:
		add(p.AssigneeID)
		add(p.PreviousAssigneeID)
		add(creator)
	case events.EventTicketDelegated:
		add(p.DelegateeID)
		add(creator)
	case events.EventTicketTakenInCharge, events.EventTicketResolved:
		add(creator)
	case events.EventTicketClosed, events.EventTicketAutoClosed:
		add(p.AssigneeID)
		if event.Type == events.EventTicketAutoClosed {
			add(creator)
		}
	case events.EventTicketReopened:
		add(p.PreviousAssigneeID)
		staff, err := n.usersWithRoles(ctx, domain.RoleDSI)
		if err != nil {
			return nil, err
		}
		ids = append(ids, staff...)
	case events.EventTicketPriorityEscalated:
		add(p.AssigneeID)
		add(p.DelegateeID)
		add(creator)
	case events.EventTicketInfoRequested:
		staff, err := n.usersWithRoles(ctx, domain.RoleDSI)
		if err != nil {
			return nil, err
		}
		ids = append(ids, staff...)
	case events.EventTicketCommentAdded:
		add(p.AssigneeID)
		add(p.DelegateeID)
		if !p.Internal {
			add(creator)
		}
	case events.EventTicketDeleted:
		// Triage staff were told about the ticket when it was created.
		staff, err := n.usersWithRoles(ctx, domain.RoleDSI, domain.RoleAdmin)
		if err != nil {
			return nil, err
		}
		ids = append(ids, staff...)
	}
	return distinctExcept(ids, event.ActorID), nil
}

func (n *NotificationService) usersWithRoles(ctx context.Context, roles ...domain.Role) ([]string, error) {
	var ids []string
	for _, role := range roles {
		role := role
		users, err := n.users.List(ctx, repository.UserFilter{Role: &role, Active: ptrBool(true)})
		if err != nil {
			return nil, fmt.Errorf("list %s users: %w", role, err)
		}
		for _, u := range users {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (n *NotificationService) actorName(ctx context.Context, actorID string) string {
	if actorID == "" || actorID == workflow.SystemActorID {
		return "the helpdesk"
	}
	user, err := n.users.GetByID(ctx, actorID)
	if err != nil {
		return "a colleague"
	}
	return user.Name
}

func distinctExcept(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func describe(event events.Event) (string, string, domain.NotificationSeverity) {
	p := event.Payload
	ref := p.Number
	if p.Title != "" {
		ref = fmt.Sprintf("%s %q", p.Number, p.Title)
	}
	switch event.Type {
	case events.EventTicketCreated:
		return "New ticket", fmt.Sprintf("Ticket %s was submitted", ref), domain.SeverityInfo
	case events.EventTicketAssigned:
		return "Ticket assigned", fmt.Sprintf("Ticket %s was assigned", ref), domain.SeverityInfo
	case events.EventTicketReassigned:
		return "Ticket reassigned", fmt.Sprintf("Ticket %s was reassigned", ref), domain.SeverityInfo
	case events.EventTicketDelegated:
		return "Ticket delegated", fmt.Sprintf("Ticket %s was delegated for triage", ref), domain.SeverityInfo
	case events.EventTicketTakenInCharge:
		return "Ticket in progress", fmt.Sprintf("A technician started working on %s", ref), domain.SeverityInfo
	case events.EventTicketResolved:
		return "Ticket resolved", fmt.Sprintf("Ticket %s was resolved and awaits your validation", ref), domain.SeveritySuccess
	case events.EventTicketClosed:
		return "Ticket closed", fmt.Sprintf("The resolution of %s was accepted", ref), domain.SeveritySuccess
	case events.EventTicketAutoClosed:
		return "Ticket closed", fmt.Sprintf("Ticket %s was closed automatically", ref), domain.SeveritySuccess
	case events.EventTicketReopened:
		msg := fmt.Sprintf("Ticket %s was reopened", ref)
		if p.Reason != "" {
			msg += ": " + p.Reason
		}
		return "Ticket reopened", msg, domain.SeverityWarning
	case events.EventTicketPriorityEscalated:
		return "Priority escalated", fmt.Sprintf("Ticket %s is now %s priority", ref, p.NewPriority), domain.SeverityWarning
	case events.EventTicketInfoRequested:
		return "Information requested", fmt.Sprintf("More information is needed on %s: %s", ref, p.Message), domain.SeverityInfo
	case events.EventTicketCommentAdded:
		return "New comment", fmt.Sprintf("A comment was added to %s", ref), domain.SeverityInfo
	case events.EventTicketDeleted:
		return "Ticket deleted", fmt.Sprintf("Ticket %s was deleted", ref), domain.SeverityInfo
	default:
		return "Ticket updated", fmt.Sprintf("Ticket %s was updated", ref), domain.SeverityInfo
	}
}

// ListNotifications returns the user's notifications, newest first.
func (n *NotificationService) ListNotifications(ctx context.Context, userID string, filter repository.NotificationFilter) ([]domain.Notification, error) {
	filter.Limit, filter.Offset = repository.NormalizePage(filter.Limit, filter.Offset)
	return readWithRetry(ctx, func() ([]domain.Notification, error) {
		return n.notifications.ListByUser(ctx, userID, filter)
	})
}

// UnreadCount returns how many notifications the user has not read.
func (n *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return readWithRetry(ctx, func() (int, error) {
		return n.notifications.CountUnread(ctx, userID)
	})
}

// MarkRead marks one of the user's notifications read. Notifications of other
// users are reported as not found.
func (n *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	if err := n.notifications.MarkRead(ctx, notificationID, userID); err != nil {
		return apperrors.MapError(err)
	}
	return nil
}

// MarkAllRead marks every unread notification of the user read.
func (n *NotificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	count, err := n.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	return count, nil
}
