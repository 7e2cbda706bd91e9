package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Email          string             `json:"email"`
	Role           domain.Role        `json:"role"`
	Specialization *domain.TicketType `json:"specialization,omitempty"`
	Department     string             `json:"department,omitempty"`
	Active         bool               `json:"active"`
}

// NewUserResponse maps a domain user.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Role:           u.Role,
		Specialization: u.Specialization,
		Department:     u.Department,
		Active:         u.Active,
	}
}

// NotificationResponse is one in-app notification.
type NotificationResponse struct {
	ID        string                      `json:"id"`
	TicketID  *string                     `json:"ticket_id"`
	Title     string                      `json:"title"`
	Message   string                      `json:"message"`
	Severity  domain.NotificationSeverity `json:"severity"`
	Read      bool                        `json:"read"`
	CreatedAt time.Time                   `json:"created_at"`
}

// NewNotificationResponse maps a domain notification.
func NewNotificationResponse(n *domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		TicketID:  n.TicketID,
		Title:     n.Title,
		Message:   n.Message,
		Severity:  n.Severity,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
