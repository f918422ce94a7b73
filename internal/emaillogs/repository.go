// Package emaillogs is the persistent audit trail for outbound mail.
// Every send attempt writes a row before the attempt and updates it
// after, regardless of outcome.
package emaillogs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expopass/backend/internal/models"
)

// Repository handles email_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email logs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a pending log row and fills in its id and created_at.
func (r *Repository) Create(ctx context.Context, el *models.EmailLog) error {
	const q = `INSERT INTO email_logs (id, role, registration_id, email_type, recipient_email, subject, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, el.Role, el.RegistrationID, el.EmailType, el.RecipientEmail, el.Subject, models.EmailLogStatusPending).
		Scan(&el.ID, &el.CreatedAt)
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE email_logs SET status = $2, sent_at = NOW(), error_message = '' WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, models.EmailLogStatusSent)
	return err
}

// MarkFailed records a delivery failure with its message.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	const q = `UPDATE email_logs SET status = $2, error_message = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, models.EmailLogStatusFailed, msg)
	return err
}

// GetByID returns one log row.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.EmailLog, error) {
	const q = `SELECT id, role, registration_id, email_type, recipient_email, COALESCE(subject,''), status, sent_at, COALESCE(error_message,''), created_at
		FROM email_logs WHERE id = $1`
	var el models.EmailLog
	err := r.pool.QueryRow(ctx, q, id).Scan(&el.ID, &el.Role, &el.RegistrationID, &el.EmailType, &el.RecipientEmail,
		&el.Subject, &el.Status, &el.SentAt, &el.ErrorMessage, &el.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &el, nil
}

// List returns recent log rows, newest first, optionally filtered by
// delivery status.
func (r *Repository) List(ctx context.Context, status string, limit int) ([]*models.EmailLog, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, role, registration_id, email_type, recipient_email, COALESCE(subject,''), status, sent_at, COALESCE(error_message,''), created_at
		FROM email_logs`
	args := []interface{}{limit}
	if status != "" {
		q += ` WHERE status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailLog
	for rows.Next() {
		var el models.EmailLog
		if err := rows.Scan(&el.ID, &el.Role, &el.RegistrationID, &el.EmailType, &el.RecipientEmail,
			&el.Subject, &el.Status, &el.SentAt, &el.ErrorMessage, &el.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
