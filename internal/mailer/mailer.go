// Package mailer is the outbound mail collaborator. Delivery is
// best-effort everywhere it is used: failures are logged and audited,
// never propagated into the primary operation's result.
package mailer

import (
	"context"

	"github.com/google/uuid"

	"github.com/expopass/backend/internal/models"
)

// Attachment is an inline file on an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one outbound mail.
type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment

	// Audit linkage, optional.
	EmailType      string
	Role           *models.Role
	RegistrationID *uuid.UUID
}

// SendResult reports the outcome plus the audit row it was recorded
// under.
type SendResult struct {
	Success bool
	Info    string
	Error   string
	LogID   uuid.UUID
}

// Mailer sends a message. Implementations audit every attempt.
type Mailer interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}
