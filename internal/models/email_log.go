package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailType for automation.
const (
	EmailTypeRegistrationConfirmation = "registration_confirmation"
	EmailTypeAdminNotification        = "admin_notification"
	EmailTypeUpgradeConfirmation      = "upgrade_confirmation"
)

// EmailLogStatus for delivery.
const (
	EmailLogStatusPending = "pending"
	EmailLogStatusSent    = "sent"
	EmailLogStatusFailed  = "failed"
)

// EmailLog is the audit record for every outbound mail attempt. A row
// is written before the send and updated after, whatever the outcome.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	Role           *Role      `json:"role,omitempty"`
	RegistrationID *uuid.UUID `json:"registration_id,omitempty"`
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
