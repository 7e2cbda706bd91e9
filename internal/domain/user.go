package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role enumerates the actor roles of the helpdesk. The set is closed.
type Role string

const (
	RoleUser       Role = "user"
	RoleDSI        Role = "dsi"
	RoleAdjoint    Role = "adjoint"
	RoleTechnician Role = "technician"
	RoleAdmin      Role = "admin"
)

// Roles lists every valid role.
var Roles = []Role{RoleUser, RoleDSI, RoleAdjoint, RoleTechnician, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleDSI, RoleAdjoint, RoleTechnician, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsStaff reports whether the role belongs to the IT department.
func (r Role) IsStaff() bool {
	return r != RoleUser && r.Valid()
}

// ParseRole converts a raw string to a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

// User is an account able to act on tickets.
type User struct {
	ID             string
	Name           string
	Email          string
	PasswordHash   string
	Role           Role
	Specialization *TicketType
	Department     string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
