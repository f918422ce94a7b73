package registrations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/internal/ticket"
)

// InMemory is a Store for tests and local development. It mirrors the
// Postgres semantics: (email) uniqueness per role, sparse ticket_code
// uniqueness across the role table, insert-only defaults on upsert.
type InMemory struct {
	mu      sync.Mutex
	genCode func() string
	byRole  map[models.Role][]*models.Registration
}

// NewInMemory creates an empty in-memory store. genCode defaults to
// ticket.Generate when nil.
func NewInMemory(genCode func() string) *InMemory {
	if genCode == nil {
		genCode = ticket.Generate
	}
	return &InMemory{
		genCode: genCode,
		byRole:  make(map[models.Role][]*models.Registration),
	}
}

func (s *InMemory) Save(ctx context.Context, role models.Role, payload map[string]interface{}, opts SaveOptions) (*SaveResult, error) {
	normalized, email := Canonicalize(payload, opts.Allowed)

	s.mu.Lock()
	defer s.mu.Unlock()

	if email != "" {
		for _, reg := range s.byRole[role] {
			if reg.Email == email {
				reg.UpdatedAt = time.Now()
				return &SaveResult{ID: reg.ID, Registration: clone(reg), Existed: true}, nil
			}
		}
	}

	for attempt := 0; attempt < ticket.MaxAttempts; attempt++ {
		code := s.genCode()
		if s.codeTakenLocked(role, code) {
			continue
		}
		now := time.Now()
		reg := &models.Registration{
			ID:         uuid.New(),
			Role:       role,
			Email:      email,
			TicketCode: code,
			Status:     role.InitialStatus(),
			Fields:     normalized,
			RawForm:    payload,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.byRole[role] = append(s.byRole[role], reg)
		return &SaveResult{ID: reg.ID, Registration: clone(reg)}, nil
	}
	return nil, ErrCodeSpaceExhausted
}

func (s *InMemory) GetByID(ctx context.Context, role models.Role, id uuid.UUID) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.findLocked(role, id)
	if reg == nil {
		return nil, ErrNotFound
	}
	return clone(reg), nil
}

func (s *InMemory) Update(ctx context.Context, role models.Role, id uuid.UUID, payload map[string]interface{}, opts UpdateOptions) (*models.Registration, error) {
	override := ""
	if opts.AllowTicketCodeOverride {
		if v, ok := payload["ticket_code"].(string); ok && v != "" {
			override = v
		}
	}
	normalized, email := Canonicalize(payload, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.findLocked(role, id)
	if reg == nil {
		return nil, ErrNotFound
	}
	if reg.Fields == nil {
		reg.Fields = make(map[string]interface{}, len(normalized))
	}
	for k, v := range normalized {
		reg.Fields[k] = v
	}
	if email != "" {
		reg.Email = email
	}
	if override != "" {
		if s.codeTakenLocked(role, override) && reg.TicketCode != override {
			return nil, ErrCodeConflict
		}
		reg.TicketCode = override
	}
	reg.UpdatedAt = time.Now()
	return clone(reg), nil
}

func (s *InMemory) SetStatus(ctx context.Context, role models.Role, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.findLocked(role, id)
	if reg == nil {
		return ErrNotFound
	}
	reg.Status = status
	reg.UpdatedAt = time.Now()
	return nil
}

func (s *InMemory) SetTicketCategory(ctx context.Context, role models.Role, id uuid.UUID, category string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.findLocked(role, id)
	if reg == nil {
		return nil, ErrNotFound
	}
	now := time.Now()
	reg.TicketCategory = category
	reg.UpgradedAt = &now
	reg.UpdatedAt = now
	return clone(reg), nil
}

func (s *InMemory) EnsureTicketCode(ctx context.Context, role models.Role, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.findLocked(role, id)
	if reg == nil {
		return "", ErrNotFound
	}
	if reg.TicketCode != "" {
		return reg.TicketCode, nil
	}
	for attempt := 0; attempt < ticket.MaxAttempts; attempt++ {
		code := s.genCode()
		if s.codeTakenLocked(role, code) {
			continue
		}
		reg.TicketCode = code
		reg.UpdatedAt = time.Now()
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

func (s *InMemory) FindByCode(ctx context.Context, role models.Role, code string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.byRole[role] {
		if reg.TicketCode != "" && reg.TicketCode == code {
			return clone(reg), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindByCodeFold(ctx context.Context, role models.Role, code string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.byRole[role] {
		if reg.TicketCode != "" && strings.EqualFold(reg.TicketCode, code) {
			return clone(reg), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindByAliasField(ctx context.Context, role models.Role, aliases []string, values []string) (*models.Registration, error) {
	wanted := make(map[string]struct{}, len(values))
	for _, v := range values {
		wanted[v] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.byRole[role] {
		for _, alias := range aliases {
			v, ok := reg.Fields[alias]
			if !ok {
				continue
			}
			if _, hit := wanted[strings.ToLower(stringify(v))]; hit {
				return clone(reg), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) ScanCandidates(ctx context.Context, role models.Role, aliases []string, limit int) ([]*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Registration
	for _, reg := range s.byRole[role] {
		if len(out) >= limit {
			break
		}
		if reg.RawForm == nil && !hasAnyKey(reg.Fields, aliases) {
			continue
		}
		out = append(out, clone(reg))
	}
	return out, nil
}

func (s *InMemory) findLocked(role models.Role, id uuid.UUID) *models.Registration {
	for _, reg := range s.byRole[role] {
		if reg.ID == id {
			return reg
		}
	}
	return nil
}

func (s *InMemory) codeTakenLocked(role models.Role, code string) bool {
	for _, reg := range s.byRole[role] {
		if reg.TicketCode == code {
			return true
		}
	}
	return false
}

func clone(reg *models.Registration) *models.Registration {
	out := *reg
	if reg.Fields != nil {
		out.Fields = make(map[string]interface{}, len(reg.Fields))
		for k, v := range reg.Fields {
			out.Fields[k] = v
		}
	}
	if reg.RawForm != nil {
		out.RawForm = make(map[string]interface{}, len(reg.RawForm))
		for k, v := range reg.RawForm {
			out.RawForm[k] = v
		}
	}
	if reg.UpgradedAt != nil {
		t := *reg.UpgradedAt
		out.UpgradedAt = &t
	}
	return &out
}

func hasAnyKey(m map[string]interface{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

var _ Store = (*InMemory)(nil)
