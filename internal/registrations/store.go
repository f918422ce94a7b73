// Package registrations persists registrant records, one table per
// role, with idempotent upsert semantics keyed on (email, role) and
// collision-retried ticket code assignment.
package registrations

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/expopass/backend/internal/fields"
	"github.com/expopass/backend/internal/models"
)

var (
	// ErrNotFound means no registration matches the id or search key.
	ErrNotFound = errors.New("registration not found")
	// ErrCodeConflict is the insert primitive's unique-violation result
	// on ticket_code. Save recovers from it by regenerating the code.
	ErrCodeConflict = errors.New("ticket code already taken")
	// ErrCodeSpaceExhausted means the regenerate-and-retry budget ran out.
	ErrCodeSpaceExhausted = errors.New("ticket code retry budget exhausted")
)

// Keys the client must never set directly through a form payload.
var protectedKeys = map[string]struct{}{
	"id":              {},
	"ticket_code":     {},
	"ticket_category": {},
	"status":          {},
	"created_at":      {},
	"updated_at":      {},
	"upgraded_at":     {},
}

// nestedRawKey is the payload key whose map value is merged in without
// overwriting already-mapped top-level fields.
const nestedRawKey = "raw"

// SaveOptions tunes a Save call.
type SaveOptions struct {
	// Allowed, when non-nil, is the normalized admin-configured field
	// allow-list; normalized keys outside it are dropped.
	Allowed map[string]struct{}
}

// UpdateOptions tunes a confirm/update call.
type UpdateOptions struct {
	// AllowTicketCodeOverride lets the payload change the stored
	// ticket_code. Without it attempts are silently dropped.
	AllowTicketCodeOverride bool
}

// SaveResult reports the outcome of a Save.
type SaveResult struct {
	ID           uuid.UUID
	Registration *models.Registration
	// Existed is true when the (email, role) identity already had a
	// record and this call only touched updated_at. Callers use it to
	// skip resending confirmation email.
	Existed bool
}

// Store is the registration persistence contract. The search methods
// back the ticket resolver's lookup tiers.
type Store interface {
	Save(ctx context.Context, role models.Role, payload map[string]interface{}, opts SaveOptions) (*SaveResult, error)
	GetByID(ctx context.Context, role models.Role, id uuid.UUID) (*models.Registration, error)
	Update(ctx context.Context, role models.Role, id uuid.UUID, payload map[string]interface{}, opts UpdateOptions) (*models.Registration, error)
	SetStatus(ctx context.Context, role models.Role, id uuid.UUID, status string) error
	SetTicketCategory(ctx context.Context, role models.Role, id uuid.UUID, category string) (*models.Registration, error)
	// EnsureTicketCode assigns a code if the record has none yet and
	// returns the code in either case. Existing codes are never replaced.
	EnsureTicketCode(ctx context.Context, role models.Role, id uuid.UUID) (string, error)

	// Lookup tiers, cheapest first.
	FindByCode(ctx context.Context, role models.Role, code string) (*models.Registration, error)
	FindByCodeFold(ctx context.Context, role models.Role, code string) (*models.Registration, error)
	FindByAliasField(ctx context.Context, role models.Role, aliases []string, values []string) (*models.Registration, error)
	ScanCandidates(ctx context.Context, role models.Role, aliases []string, limit int) ([]*models.Registration, error)
}

// Canonicalize maps a raw form payload onto the normalized field
// namespace: every key goes through fields.Normalize, protected keys
// are dropped, the allow-list (when given) filters the rest, and a
// nested "raw" sub-object is merged without overwriting top-level
// fields. The normalized email is extracted separately as the natural
// identity key.
func Canonicalize(payload map[string]interface{}, allowed map[string]struct{}) (normalized map[string]interface{}, email string) {
	normalized = make(map[string]interface{}, len(payload))
	var nested map[string]interface{}

	for raw, v := range payload {
		key, ok := fields.Normalize(raw)
		if !ok {
			continue
		}
		if key == nestedRawKey {
			if m, isMap := v.(map[string]interface{}); isMap {
				nested = m
				continue
			}
		}
		if key == "email" {
			if s, isStr := v.(string); isStr {
				email = strings.ToLower(strings.TrimSpace(s))
			}
			continue
		}
		if _, protected := protectedKeys[key]; protected {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[key]; !ok {
				continue
			}
		}
		normalized[key] = v
	}

	for raw, v := range nested {
		key, ok := fields.Normalize(raw)
		if !ok {
			continue
		}
		if _, protected := protectedKeys[key]; protected || key == "email" {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[key]; !ok {
				continue
			}
		}
		if _, exists := normalized[key]; !exists {
			normalized[key] = v
		}
	}
	return normalized, email
}
