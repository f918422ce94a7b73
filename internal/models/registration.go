package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the registrant category. It determines which table the
// registration lives in and which lifecycle applies.
type Role string

const (
	RoleVisitor   Role = "visitor"
	RoleExhibitor Role = "exhibitor"
	RolePartner   Role = "partner"
	RoleSpeaker   Role = "speaker"
	RoleAwardee   Role = "awardee"
)

// Roles lists every known role in venue search order. Ticket lookup
// walks this slice front to back, so the order is part of the contract.
var Roles = []Role{RoleVisitor, RoleExhibitor, RolePartner, RoleSpeaker, RoleAwardee}

// ParseRole returns the role for a path/body value, or false.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleVisitor, RoleExhibitor, RolePartner, RoleSpeaker, RoleAwardee:
		return Role(s), true
	}
	return "", false
}

// Table returns the storage table for the role.
func (r Role) Table() string {
	switch r {
	case RoleVisitor:
		return "visitors"
	case RoleExhibitor:
		return "exhibitors"
	case RolePartner:
		return "partners"
	case RoleSpeaker:
		return "speakers"
	case RoleAwardee:
		return "awardees"
	}
	return ""
}

// RequiresApproval reports whether registrations for this role start
// in the pending state and go through an admin approve/cancel step.
func (r Role) RequiresApproval() bool {
	switch r {
	case RoleExhibitor, RolePartner, RoleAwardee:
		return true
	}
	return false
}

// InitialStatus returns the lifecycle state a fresh registration gets.
func (r Role) InitialStatus() string {
	if r.RequiresApproval() {
		return StatusPending
	}
	return StatusNew
}

// Registration lifecycle states.
const (
	StatusNew            = "new"
	StatusPending        = "pending"
	StatusApproved       = "approved"
	StatusCancelled      = "cancelled"
	StatusPaymentPending = "payment_pending"
)

// Registration is one registrant record. Fields holds the normalized
// admin-defined attributes; RawForm keeps the submission verbatim for
// audit and email templates.
type Registration struct {
	ID             uuid.UUID              `json:"id"`
	Role           Role                   `json:"role"`
	Email          string                 `json:"email,omitempty"`
	TicketCode     string                 `json:"ticket_code,omitempty"`
	TicketCategory string                 `json:"ticket_category,omitempty"`
	Status         string                 `json:"status"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
	RawForm        map[string]interface{} `json:"raw_form,omitempty"`
	UpgradedAt     *time.Time             `json:"upgraded_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Field returns a normalized field as a string ("" when absent).
func (r *Registration) Field(key string) string {
	if r.Fields == nil {
		return ""
	}
	if s, ok := r.Fields[key].(string); ok {
		return s
	}
	return ""
}
