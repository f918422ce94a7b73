// Package upgrades applies ticket category changes, optionally gated
// on an external payment step.
package upgrades

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expopass/backend/internal/mailer"
	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/internal/payments"
	"github.com/expopass/backend/internal/registrations"
)

// ErrNotFound mirrors the store's not-found for handler mapping.
var ErrNotFound = registrations.ErrNotFound

// OrderCreator is the payment collaborator slice the service needs.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order payments.Order) (string, error)
}

// Result is the outcome of an upgrade call: either a checkout URL
// (payment pending, nothing mutated) or the applied upgrade.
type Result struct {
	CheckoutURL string
	Upgraded    bool
	TicketCode  string
}

// Service coordinates the upgrade flow.
type Service struct {
	store       registrations.Store
	orders      OrderCreator
	mail        mailer.Mailer
	currency    string
	frontendURL string
	logger      *zap.Logger
}

// NewService creates an upgrade service. orders and mail may be nil;
// a nil orders makes every paid upgrade fail upstream.
func NewService(store registrations.Store, orders OrderCreator, mail mailer.Mailer, currency, frontendURL string, logger *zap.Logger) *Service {
	if currency == "" {
		currency = "USD"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		orders:      orders,
		mail:        mail,
		currency:    currency,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// Upgrade applies a category change. With a positive amount it only
// creates the checkout order: the category changes later, once the
// payment callback (outside this flow) confirms. With a zero amount
// the change is immediate; the ticket upsert, the category update and
// the confirmation mail are each best-effort in the sense that a mail
// failure never rolls back a recorded category.
func (s *Service) Upgrade(ctx context.Context, role models.Role, id uuid.UUID, newCategory string, amountCents int, email string) (*Result, error) {
	if newCategory == "" {
		return nil, fmt.Errorf("new category required")
	}

	if amountCents > 0 {
		if s.orders == nil {
			return nil, payments.ErrUpstream
		}
		checkoutURL, err := s.orders.CreateOrder(ctx, payments.Order{
			AmountCents: amountCents,
			Currency:    s.currency,
			Description: fmt.Sprintf("Ticket upgrade to %s", newCategory),
			ReferenceID: fmt.Sprintf("%s:%s", role, id),
			Metadata: map[string]string{
				"role":         string(role),
				"entity_id":    id.String(),
				"new_category": newCategory,
				"email":        email,
			},
		})
		if err != nil {
			return nil, err
		}
		return &Result{CheckoutURL: checkoutURL}, nil
	}

	// Immediate path. Ensure the ticket record has a code first; a
	// record created before code assignment existed may lack one.
	code, err := s.store.EnsureTicketCode(ctx, role, id)
	if err != nil {
		if errors.Is(err, registrations.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	reg, err := s.store.SetTicketCategory(ctx, role, id, newCategory)
	if err != nil {
		if errors.Is(err, registrations.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.sendConfirmation(ctx, reg, code, email)
	return &Result{Upgraded: true, TicketCode: code}, nil
}

func (s *Service) sendConfirmation(ctx context.Context, reg *models.Registration, code, emailOverride string) {
	if s.mail == nil {
		return
	}
	to := reg.Email
	if emailOverride != "" {
		to = emailOverride
	}
	if to == "" {
		return
	}
	manageURL := fmt.Sprintf("%s/manage?role=%s&id=%s&code=%s", s.frontendURL, reg.Role, reg.ID, code)
	_, err := s.mail.Send(ctx, mailer.Message{
		To:             []string{to},
		Subject:        fmt.Sprintf("Ticket upgraded to %s", reg.TicketCategory),
		Text:           fmt.Sprintf("Your ticket %s is now %s.\nManage your ticket: %s\n", code, reg.TicketCategory, manageURL),
		EmailType:      models.EmailTypeUpgradeConfirmation,
		Role:           &reg.Role,
		RegistrationID: &reg.ID,
	})
	if err != nil {
		s.logger.Warn("upgrade confirmation email failed", zap.Error(err), zap.String("id", reg.ID.String()))
	}
}
