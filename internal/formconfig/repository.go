// Package formconfig stores the admin-defined registration form per
// role. The normalized field ids double as the write allow-list the
// registration store applies on save.
package formconfig

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expopass/backend/internal/fields"
	"github.com/expopass/backend/internal/models"
)

// Repository handles form_configs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a form config repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the form definition for a role, or nil when none is
// configured (all submitted fields are then accepted).
func (r *Repository) Get(ctx context.Context, role models.Role) (*models.FormConfig, error) {
	const q = `SELECT fields, updated_at FROM form_configs WHERE role = $1`
	var raw []byte
	fc := &models.FormConfig{Role: role}
	err := r.pool.QueryRow(ctx, q, role).Scan(&raw, &fc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &fc.Fields); err != nil {
		return nil, err
	}
	return fc, nil
}

// Put replaces the form definition for a role. Field ids are
// normalized on write so the stored config and the allow-list agree.
func (r *Repository) Put(ctx context.Context, role models.Role, defs []models.FormFieldConfig) (*models.FormConfig, error) {
	cleaned := make([]models.FormFieldConfig, 0, len(defs))
	for _, def := range defs {
		id, ok := fields.Normalize(def.ID)
		if !ok {
			if id, ok = fields.Normalize(def.Label); !ok {
				continue
			}
		}
		def.ID = id
		cleaned = append(cleaned, def)
	}
	raw, err := json.Marshal(cleaned)
	if err != nil {
		return nil, err
	}
	const q = `INSERT INTO form_configs (role, fields) VALUES ($1, $2)
		ON CONFLICT (role) DO UPDATE SET fields = EXCLUDED.fields, updated_at = NOW()
		RETURNING updated_at`
	fc := &models.FormConfig{Role: role, Fields: cleaned}
	if err := r.pool.QueryRow(ctx, q, role, raw).Scan(&fc.UpdatedAt); err != nil {
		return nil, err
	}
	return fc, nil
}

// AllowedKeys returns the normalized allow-list for a role, or nil
// when no form is configured.
func (r *Repository) AllowedKeys(ctx context.Context, role models.Role) (map[string]struct{}, error) {
	fc, err := r.Get(ctx, role)
	if err != nil || fc == nil {
		return nil, err
	}
	ids := make([]string, 0, len(fc.Fields))
	for _, def := range fc.Fields {
		ids = append(ids, def.ID)
	}
	return fields.NormalizeAll(ids), nil
}
