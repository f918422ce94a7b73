package registrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/internal/ticket"
)

const regColumns = `id, COALESCE(email,''), COALESCE(ticket_code,''), COALESCE(ticket_category,''), status, fields, raw_form, upgraded_at, created_at, updated_at`

// Postgres is the pgx-backed registration store.
type Postgres struct {
	pool    *pgxpool.Pool
	genCode func() string
	logger  *zap.Logger
}

// NewPostgres creates a Postgres store. genCode defaults to
// ticket.Generate when nil.
func NewPostgres(pool *pgxpool.Pool, genCode func() string, logger *zap.Logger) *Postgres {
	if genCode == nil {
		genCode = ticket.Generate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, genCode: genCode, logger: logger}
}

// EnsureIndexes creates the per-table uniqueness indexes: sparse unique
// on ticket_code, unique on email where present. Safe to race across
// instances; failures are logged and never propagated so the save path
// stays usable.
func (p *Postgres) EnsureIndexes(ctx context.Context) {
	for _, role := range models.Roles {
		table := role.Table()
		stmts := []string{
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_ticket_code_key ON %s (ticket_code) WHERE ticket_code <> ''`, table, table),
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_email_key ON %s (email) WHERE email <> ''`, table, table),
		}
		for _, stmt := range stmts {
			if _, err := p.pool.Exec(ctx, stmt); err != nil {
				p.logger.Warn("ensure index failed", zap.String("table", table), zap.Error(err))
			}
		}
	}
}

// Save upserts a registration. With an email the write is an atomic
// insert-only-default upsert on (email) within the role table: a
// resubmission touches only updated_at and never regenerates the ticket
// code. Without an email it is a plain insert, so repeated submissions
// legitimately create multiple records. Ticket code collisions are
// retried with a fresh code up to ticket.MaxAttempts.
func (p *Postgres) Save(ctx context.Context, role models.Role, payload map[string]interface{}, opts SaveOptions) (*SaveResult, error) {
	normalized, email := Canonicalize(payload, opts.Allowed)

	fieldsJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	rawJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal raw form: %w", err)
	}

	for attempt := 0; attempt < ticket.MaxAttempts; attempt++ {
		code := p.genCode()
		var (
			reg      *models.Registration
			inserted bool
		)
		if email != "" {
			reg, inserted, err = p.upsertByEmail(ctx, role, email, code, fieldsJSON, rawJSON)
		} else {
			reg, err = p.insert(ctx, role, code, fieldsJSON, rawJSON)
			inserted = true
		}
		if errors.Is(err, ErrCodeConflict) {
			p.logger.Debug("ticket code collision, regenerating",
				zap.String("role", string(role)), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		return &SaveResult{ID: reg.ID, Registration: reg, Existed: !inserted}, nil
	}
	return nil, ErrCodeSpaceExhausted
}

func (p *Postgres) upsertByEmail(ctx context.Context, role models.Role, email, code string, fieldsJSON, rawJSON []byte) (*models.Registration, bool, error) {
	q := fmt.Sprintf(`INSERT INTO %s (id, email, ticket_code, status, fields, raw_form)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (email) WHERE email <> '' DO UPDATE SET updated_at = NOW()
		RETURNING %s, (xmax = 0)`, role.Table(), regColumns)
	reg := &models.Registration{Role: role}
	var inserted bool
	var fieldsRaw, formRaw []byte
	err := p.pool.QueryRow(ctx, q, email, code, role.InitialStatus(), fieldsJSON, rawJSON).Scan(
		&reg.ID, &reg.Email, &reg.TicketCode, &reg.TicketCategory, &reg.Status,
		&fieldsRaw, &formRaw, &reg.UpgradedAt, &reg.CreatedAt, &reg.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, classifyWriteErr(err)
	}
	decodeDoc(reg, fieldsRaw, formRaw)
	return reg, inserted, nil
}

func (p *Postgres) insert(ctx context.Context, role models.Role, code string, fieldsJSON, rawJSON []byte) (*models.Registration, error) {
	q := fmt.Sprintf(`INSERT INTO %s (id, email, ticket_code, status, fields, raw_form)
		VALUES (gen_random_uuid(), '', $1, $2, $3, $4)
		RETURNING %s`, role.Table(), regColumns)
	return p.scanRow(p.pool.QueryRow(ctx, q, code, role.InitialStatus(), fieldsJSON, rawJSON), role)
}

// GetByID returns a registration by id.
func (p *Postgres) GetByID(ctx context.Context, role models.Role, id uuid.UUID) (*models.Registration, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, regColumns, role.Table())
	return p.scanRow(p.pool.QueryRow(ctx, q, id), role)
}

// Update merges normalized, allow-listed payload fields into the
// record. The stored ticket_code is untouched unless the override
// option is set and the payload supplies one.
func (p *Postgres) Update(ctx context.Context, role models.Role, id uuid.UUID, payload map[string]interface{}, opts UpdateOptions) (*models.Registration, error) {
	override := ""
	if opts.AllowTicketCodeOverride {
		if v, ok := payload["ticket_code"].(string); ok && v != "" {
			override = v
		}
	}
	normalized, email := Canonicalize(payload, nil)
	fieldsJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}

	set := `fields = COALESCE(fields, '{}'::jsonb) || $2, updated_at = NOW()`
	args := []interface{}{id, fieldsJSON}
	if email != "" {
		set += fmt.Sprintf(`, email = $%d`, len(args)+1)
		args = append(args, email)
	}
	if override != "" {
		set += fmt.Sprintf(`, ticket_code = $%d`, len(args)+1)
		args = append(args, override)
	}
	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 RETURNING %s`, role.Table(), set, regColumns)
	reg, err := p.scanRow(p.pool.QueryRow(ctx, q, args...), role)
	if err != nil {
		return nil, classifyWriteErr(err)
	}
	return reg, nil
}

// SetStatus moves a registration through its approval lifecycle.
func (p *Postgres) SetStatus(ctx context.Context, role models.Role, id uuid.UUID, status string) error {
	q := fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = NOW() WHERE id = $1`, role.Table())
	tag, err := p.pool.Exec(ctx, q, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTicketCategory applies an upgrade: new category plus upgraded_at.
func (p *Postgres) SetTicketCategory(ctx context.Context, role models.Role, id uuid.UUID, category string) (*models.Registration, error) {
	q := fmt.Sprintf(`UPDATE %s SET ticket_category = $2, upgraded_at = NOW(), updated_at = NOW() WHERE id = $1 RETURNING %s`, role.Table(), regColumns)
	return p.scanRow(p.pool.QueryRow(ctx, q, id, category), role)
}

// EnsureTicketCode assigns a code to a record that has none, with the
// same collision-retry discipline as Save. A code already present is
// returned as-is, never replaced.
func (p *Postgres) EnsureTicketCode(ctx context.Context, role models.Role, id uuid.UUID) (string, error) {
	current, err := p.GetByID(ctx, role, id)
	if err != nil {
		return "", err
	}
	if current.TicketCode != "" {
		return current.TicketCode, nil
	}
	q := fmt.Sprintf(`UPDATE %s SET ticket_code = $2, updated_at = NOW() WHERE id = $1 AND (ticket_code IS NULL OR ticket_code = '')`, role.Table())
	for attempt := 0; attempt < ticket.MaxAttempts; attempt++ {
		code := p.genCode()
		tag, err := p.pool.Exec(ctx, q, id, code)
		if err != nil {
			if errors.Is(classifyWriteErr(err), ErrCodeConflict) {
				continue
			}
			return "", err
		}
		if tag.RowsAffected() == 0 {
			// Raced with another writer that assigned a code first.
			again, err := p.GetByID(ctx, role, id)
			if err != nil {
				return "", err
			}
			return again.TicketCode, nil
		}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// FindByCode is the exact-match lookup tier.
func (p *Postgres) FindByCode(ctx context.Context, role models.Role, code string) (*models.Registration, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE ticket_code = $1 LIMIT 1`, regColumns, role.Table())
	return p.scanRow(p.pool.QueryRow(ctx, q, code), role)
}

// FindByCodeFold is the case-insensitive lookup tier.
func (p *Postgres) FindByCodeFold(ctx context.Context, role models.Role, code string) (*models.Registration, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE lower(ticket_code) = lower($1) LIMIT 1`, regColumns, role.Table())
	return p.scanRow(p.pool.QueryRow(ctx, q, code), role)
}

// FindByAliasField matches any of the given candidate values (already
// lower-cased) against any alias key inside the normalized fields
// document. Covers records written by earlier schema iterations.
func (p *Postgres) FindByAliasField(ctx context.Context, role models.Role, aliases []string, values []string) (*models.Registration, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s
		WHERE EXISTS (
			SELECT 1 FROM jsonb_each_text(COALESCE(fields, '{}'::jsonb)) kv
			WHERE kv.key = ANY($1) AND lower(kv.value) = ANY($2)
		)
		ORDER BY created_at LIMIT 1`, regColumns, role.Table())
	return p.scanRow(p.pool.QueryRow(ctx, q, aliases, values), role)
}

// ScanCandidates returns up to limit rows that carry any alias field or
// a raw form document, oldest first, for the bounded deep-scan tier.
func (p *Postgres) ScanCandidates(ctx context.Context, role models.Role, aliases []string, limit int) ([]*models.Registration, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s
		WHERE fields ?| $1 OR raw_form IS NOT NULL
		ORDER BY created_at LIMIT $2`, regColumns, role.Table())
	rows, err := p.pool.Query(ctx, q, aliases, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Registration
	for rows.Next() {
		reg := &models.Registration{Role: role}
		var fieldsRaw, formRaw []byte
		if err := rows.Scan(&reg.ID, &reg.Email, &reg.TicketCode, &reg.TicketCategory, &reg.Status,
			&fieldsRaw, &formRaw, &reg.UpgradedAt, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
			return nil, err
		}
		decodeDoc(reg, fieldsRaw, formRaw)
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (p *Postgres) scanRow(row pgx.Row, role models.Role) (*models.Registration, error) {
	reg := &models.Registration{Role: role}
	var fieldsRaw, formRaw []byte
	err := row.Scan(&reg.ID, &reg.Email, &reg.TicketCode, &reg.TicketCategory, &reg.Status,
		&fieldsRaw, &formRaw, &reg.UpgradedAt, &reg.CreatedAt, &reg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	decodeDoc(reg, fieldsRaw, formRaw)
	return reg, nil
}

func decodeDoc(reg *models.Registration, fieldsRaw, formRaw []byte) {
	if len(fieldsRaw) > 0 {
		_ = json.Unmarshal(fieldsRaw, &reg.Fields)
	}
	if len(formRaw) > 0 {
		_ = json.Unmarshal(formRaw, &reg.RawForm)
	}
}

// classifyWriteErr turns a ticket_code unique violation into the
// explicit ErrCodeConflict result the retry loop keys on.
func classifyWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// <table>_ticket_code_key, as created by EnsureIndexes/migrations.
		if strings.Contains(pgErr.ConstraintName, "ticket_code") {
			return ErrCodeConflict
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

var _ Store = (*Postgres)(nil)
