package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title" validate:"required,max=200"`
	Description string                `json:"description" validate:"required,max=10000"`
	Type        domain.TicketType     `json:"type" validate:"required,oneof=hardware software"`
	Priority    domain.TicketPriority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Category    *string               `json:"category" validate:"omitempty,max=100"`
	SubCategory *string               `json:"sub_category" validate:"omitempty,max=100"`
}

// UpdateTicketRequest carries the creator-editable fields. Absent fields are
// left unchanged.
type UpdateTicketRequest struct {
	Title       *string                `json:"title" validate:"omitempty,max=200"`
	Description *string                `json:"description" validate:"omitempty,max=10000"`
	Type        *domain.TicketType     `json:"type" validate:"omitempty,oneof=hardware software"`
	Priority    *domain.TicketPriority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Category    *string                `json:"category" validate:"omitempty,max=100"`
	SubCategory *string                `json:"sub_category" validate:"omitempty,max=100"`
}

// AssignRequest payload for assign and reassign.
type AssignRequest struct {
	TechnicianID string `json:"technician_id" validate:"required"`
	Notes        string `json:"notes" validate:"max=2000"`
}

// DelegateRequest payload.
type DelegateRequest struct {
	AdjointID string `json:"adjoint_id" validate:"required"`
	Notes     string `json:"notes" validate:"max=2000"`
}

// ResolveRequest payload.
type ResolveRequest struct {
	Resolution string `json:"resolution" validate:"required,max=10000"`
}

// ValidateRequest payload. A rejection needs a reason.
type ValidateRequest struct {
	Accept *bool  `json:"accept" validate:"required"`
	Reason string `json:"reason" validate:"max=2000"`
}

// ReopenRequest payload. Staff reopen by naming the technician to assign.
type ReopenRequest struct {
	Reason       string `json:"reason" validate:"max=2000"`
	TechnicianID string `json:"technician_id"`
}

// RequestInfoRequest payload.
type RequestInfoRequest struct {
	Message string `json:"message" validate:"required,max=5000"`
}

// CommentRequest payload.
type CommentRequest struct {
	Body     string `json:"body" validate:"required,max=10000"`
	Internal bool   `json:"internal"`
}

// AttachmentRequest payload.
type AttachmentRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	URL       string `json:"url" validate:"required,url"`
	MimeType  string `json:"mime_type" validate:"max=255"`
	SizeBytes int64  `json:"size_bytes" validate:"gte=0"`
}

// TicketResponse is the full ticket representation.
type TicketResponse struct {
	ID                 string                `json:"id"`
	Number             string                `json:"number"`
	Title              string                `json:"title"`
	Description        string                `json:"description"`
	Type               domain.TicketType     `json:"type"`
	Category           *string               `json:"category"`
	SubCategory        *string               `json:"sub_category"`
	Priority           domain.TicketPriority `json:"priority"`
	Status             domain.TicketStatus   `json:"status"`
	CreatorID          string                `json:"creator_id"`
	AssigneeID         *string               `json:"assignee_id"`
	DelegateeID        *string               `json:"delegatee_id"`
	PreviousAssigneeID *string               `json:"previous_assignee_id,omitempty"`
	ResolverID         *string               `json:"resolver_id,omitempty"`
	Resolution         string                `json:"resolution,omitempty"`
	ReopenReason       string                `json:"reopen_reason,omitempty"`
	Version            int                   `json:"version"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	ResolvedAt         *time.Time            `json:"resolved_at,omitempty"`
	ClosedAt           *time.Time            `json:"closed_at,omitempty"`
	Comments           []CommentResponse     `json:"comments,omitempty"`
	Attachments        []AttachmentResponse  `json:"attachments,omitempty"`
	AllowedActions     []workflow.Action     `json:"allowed_actions,omitempty"`
}

// CommentResponse represents a thread entry.
type CommentResponse struct {
	ID        string             `json:"id"`
	AuthorID  string             `json:"author_id"`
	Body      string             `json:"body"`
	Kind      domain.CommentKind `json:"kind"`
	Internal  bool               `json:"internal"`
	CreatedAt time.Time          `json:"created_at"`
}

// AttachmentResponse metadata.
type AttachmentResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	MimeType   string    `json:"mime_type,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// HistoryResponse is one audit entry.
type HistoryResponse struct {
	ID         string              `json:"id"`
	ActorID    *string             `json:"actor_id"`
	Action     string              `json:"action"`
	FromStatus domain.TicketStatus `json:"from_status,omitempty"`
	ToStatus   domain.TicketStatus `json:"to_status"`
	OldValue   map[string]any      `json:"old_value,omitempty"`
	NewValue   map[string]any      `json:"new_value,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// StatsResponse aggregates tickets for dashboards.
type StatsResponse struct {
	Total                    int                           `json:"total"`
	ByStatus                 map[domain.TicketStatus]int   `json:"by_status"`
	ByPriority               map[domain.TicketPriority]int `json:"by_priority"`
	AverageResolutionSeconds float64                       `json:"average_resolution_seconds"`
}

// PageMeta describes a page of results.
type PageMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewTicketResponse maps a ticket and, when given, the viewer's next actions.
func NewTicketResponse(t *domain.Ticket, allowed []workflow.Action) TicketResponse {
	resp := TicketResponse{
		ID:                 t.ID,
		Number:             t.Number,
		Title:              t.Title,
		Description:        t.Description,
		Type:               t.Type,
		Category:           t.Category,
		SubCategory:        t.SubCategory,
		Priority:           t.Priority,
		Status:             t.Status,
		CreatorID:          t.CreatorID,
		AssigneeID:         t.AssigneeID,
		DelegateeID:        t.DelegateeID,
		PreviousAssigneeID: t.PreviousAssigneeID,
		ResolverID:         t.ResolverID,
		Resolution:         t.Resolution,
		ReopenReason:       t.ReopenReason,
		Version:            t.Version,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
		ResolvedAt:         t.ResolvedAt,
		ClosedAt:           t.ClosedAt,
		AllowedActions:     allowed,
	}
	for i := range t.Comments {
		resp.Comments = append(resp.Comments, NewCommentResponse(&t.Comments[i]))
	}
	for i := range t.Attachments {
		resp.Attachments = append(resp.Attachments, NewAttachmentResponse(&t.Attachments[i]))
	}
	return resp
}

// NewCommentResponse maps a comment.
func NewCommentResponse(c *domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		AuthorID:  c.AuthorID,
		Body:      c.Body,
		Kind:      c.Kind,
		Internal:  c.Internal,
		CreatedAt: c.CreatedAt,
	}
}

// NewAttachmentResponse maps an attachment.
func NewAttachmentResponse(a *domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:         a.ID,
		Name:       a.Name,
		URL:        a.URL,
		MimeType:   a.MimeType,
		SizeBytes:  a.SizeBytes,
		UploadedBy: a.UploadedBy,
		UploadedAt: a.UploadedAt,
	}
}

// NewHistoryResponse maps an audit entry.
func NewHistoryResponse(h *domain.TicketHistory) HistoryResponse {
	return HistoryResponse{
		ID:         h.ID,
		ActorID:    h.ActorID,
		Action:     h.Action,
		FromStatus: h.FromStatus,
		ToStatus:   h.ToStatus,
		OldValue:   h.OldValue,
		NewValue:   h.NewValue,
		CreatedAt:  h.CreatedAt,
	}
}

// NewStatsResponse maps repository stats.
func NewStatsResponse(s repository.TicketStats) StatsResponse {
	return StatsResponse{
		Total:                    s.Total,
		ByStatus:                 s.ByStatus,
		ByPriority:               s.ByPriority,
		AverageResolutionSeconds: s.AverageResolution.Seconds(),
	}
}
