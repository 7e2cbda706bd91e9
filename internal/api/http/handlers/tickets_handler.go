package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
)

// TicketsHandler exposes the ticket workflow.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), principal.Actor(), workflow.NewTicket{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Priority:    req.Priority,
		Category:    req.Category,
		SubCategory: req.SubCategory,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, nil)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	input := service.TicketListInput{
		Statuses:   splitList[domain.TicketStatus](c.Query("status")),
		Priorities: splitList[domain.TicketPriority](c.Query("priority")),
		Types:      splitList[domain.TicketType](c.Query("type")),
		All:        c.QueryBool("all", false),
		Limit:      parseInt(c.Query("limit"), 20),
		Offset:     parseInt(c.Query("offset"), 0),
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		input.SearchTerm = &q
	}
	tickets, total, err := h.service.ListTickets(c.UserContext(), principal.Actor(), input)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i], nil))
	}
	return c.JSON(fiber.Map{
		"data": items,
		"meta": dto.PageMeta{Total: total, Limit: input.Limit, Offset: input.Offset},
	})
}

// Stats GET /tickets/stats.
func (h *TicketsHandler) Stats(c *fiber.Ctx) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	stats, err := h.service.Stats(c.UserContext(), principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStatsResponse(stats)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	view, err := h.service.GetTicket(c.UserContext(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderETag, etag(view.Ticket))
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(view.Ticket, view.AllowedActions)})
}

// UpdateTicket PUT /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	var req dto.UpdateTicketRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		return h.service.EditTicket(c.UserContext(), p.Actor(), id, workflow.EditFields{
			Title:       req.Title,
			Description: req.Description,
			Type:        req.Type,
			Priority:    req.Priority,
			Category:    req.Category,
			SubCategory: req.SubCategory,
		}, opts)
	})
}

// DeleteTicket DELETE /tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	opts, err := transitionOptions(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteTicket(c.UserContext(), principal.Actor(), c.Params("id"), opts); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Assign PUT /tickets/:id/assign.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	var req dto.AssignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		opts.Notes = req.Notes
		return h.service.AssignTicket(c.UserContext(), p.Actor(), id, req.TechnicianID, opts)
	})
}

// Delegate PUT /tickets/:id/delegate.
func (h *TicketsHandler) Delegate(c *fiber.Ctx) error {
	var req dto.DelegateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		opts.Notes = req.Notes
		return h.service.DelegateTicket(c.UserContext(), p.Actor(), id, req.AdjointID, opts)
	})
}

// Reassign PUT /tickets/:id/reassign.
func (h *TicketsHandler) Reassign(c *fiber.Ctx) error {
	var req dto.AssignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		opts.Notes = req.Notes
		return h.service.ReassignTicket(c.UserContext(), p.Actor(), id, req.TechnicianID, opts)
	})
}

// TakeCharge PUT /tickets/:id/take-charge.
func (h *TicketsHandler) TakeCharge(c *fiber.Ctx) error {
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		return h.service.TakeCharge(c.UserContext(), p.Actor(), id, opts)
	})
}

// Resolve PUT /tickets/:id/resolve.
func (h *TicketsHandler) Resolve(c *fiber.Ctx) error {
	var req dto.ResolveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		return h.service.ResolveTicket(c.UserContext(), p.Actor(), id, req.Resolution, opts)
	})
}

// Validate PUT /tickets/:id/validate.
func (h *TicketsHandler) Validate(c *fiber.Ctx) error {
	var req dto.ValidateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		return h.service.ValidateResolution(c.UserContext(), p.Actor(), id, *req.Accept, req.Reason, opts)
	})
}

// Reopen PUT /tickets/:id/reopen. Staff naming a technician reopen straight
// into assignment.
func (h *TicketsHandler) Reopen(c *fiber.Ctx) error {
	var req dto.ReopenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		if req.TechnicianID != "" {
			opts.Notes = req.Reason
			return h.service.ReopenAndAssign(c.UserContext(), p.Actor(), id, req.TechnicianID, opts)
		}
		return h.service.ReopenTicket(c.UserContext(), p.Actor(), id, req.Reason, opts)
	})
}

// Escalate PUT /tickets/:id/escalate.
func (h *TicketsHandler) Escalate(c *fiber.Ctx) error {
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		return h.service.EscalatePriority(c.UserContext(), p.Actor(), id, opts)
	})
}

// RequestInfo PUT /tickets/:id/request-info.
func (h *TicketsHandler) RequestInfo(c *fiber.Ctx) error {
	var req dto.RequestInfoRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(p *auth.Principal, id string, opts service.TransitionOptions) (*domain.Ticket, error) {
		return h.service.RequestInfo(c.UserContext(), p.Actor(), id, req.Message, opts)
	})
}

// AddComment POST /tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CommentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	comment, err := h.service.AddComment(c.UserContext(), principal.Actor(), c.Params("id"), req.Body, req.Internal)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewCommentResponse(comment)})
}

// AddAttachment POST /tickets/:id/attachments.
func (h *TicketsHandler) AddAttachment(c *fiber.Ctx) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AttachmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	attachment, err := h.service.AddAttachment(c.UserContext(), principal.Actor(), c.Params("id"), service.AttachmentInput{
		Name:      req.Name,
		URL:       req.URL,
		MimeType:  req.MimeType,
		SizeBytes: req.SizeBytes,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAttachmentResponse(attachment)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	entries, err := h.service.ListHistory(c.UserContext(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.HistoryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.NewHistoryResponse(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

type transitionFunc func(p *auth.Principal, ticketID string, opts service.TransitionOptions) (*domain.Ticket, error)

// transition runs one workflow step and renders the resulting snapshot.
func (h *TicketsHandler) transition(c *fiber.Ctx, step transitionFunc) error {
	principal, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	opts, err := transitionOptions(c)
	if err != nil {
		return err
	}
	ticket, err := step(principal, c.Params("id"), opts)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderETag, etag(ticket))
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, nil)})
}

func etag(t *domain.Ticket) string {
	return `"` + strconv.Itoa(t.Version) + `"`
}
