package emaillogs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/pkg/queue"
	"github.com/expopass/backend/pkg/response"
)

// RegistrationLoader fetches the registration a log row points at, so
// a resend can rebuild the message from current data.
type RegistrationLoader interface {
	GetByID(ctx context.Context, role models.Role, id uuid.UUID) (*models.Registration, error)
}

// Enqueuer pushes the rebuilt mail job. Satisfied by queue.Queue.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Handler handles email log HTTP endpoints (admin console).
type Handler struct {
	repo        *Repository
	store       RegistrationLoader
	emails      Enqueuer
	frontendURL string
	logger      *zap.Logger
}

// NewHandler creates an email logs handler. store and emails may be
// nil; resend then reports unavailable.
func NewHandler(repo *Repository, store RegistrationLoader, emails Enqueuer, frontendURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, store: store, emails: emails, frontendURL: frontendURL, logger: logger}
}

// List handles GET /admin/emails. Optional ?status= and ?limit= filters.
func (h *Handler) List(c *gin.Context) {
	status := c.Query("status")
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	logs, err := h.repo.List(c.Request.Context(), status, limit)
	if err != nil {
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}

// Get handles GET /admin/emails/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid email log id")
		return
	}
	el, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "email log not found")
		return
	}
	response.OK(c, el)
}

// Resend handles POST /admin/emails/:id/resend: rebuilds the message
// from the current registration record and enqueues it as a fresh job.
func (h *Handler) Resend(c *gin.Context) {
	if h.store == nil || h.emails == nil {
		response.ServiceUnavailable(c, "resend not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid email log id")
		return
	}
	el, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "email log not found")
		return
	}
	if el.Role == nil || el.RegistrationID == nil {
		response.BadRequest(c, "email log has no registration to rebuild from")
		return
	}
	reg, err := h.store.GetByID(c.Request.Context(), *el.Role, *el.RegistrationID)
	if err != nil {
		response.NotFound(c, "registration no longer exists")
		return
	}
	to := el.RecipientEmail
	if reg.Email != "" {
		to = reg.Email
	}
	manageURL := fmt.Sprintf("%s/manage?role=%s&id=%s&code=%s", h.frontendURL, reg.Role, reg.ID, reg.TicketCode)
	err = h.emails.EnqueueEmail(c.Request.Context(), queue.EmailPayload{
		EmailType:      el.EmailType,
		Role:           el.Role,
		RegistrationID: el.RegistrationID,
		Recipients:     []string{to},
		Subject:        el.Subject,
		BodyText: fmt.Sprintf("Your ticket code is %s.\nManage your ticket: %s\n",
			reg.TicketCode, manageURL),
	})
	if err != nil {
		h.logger.Error("resend enqueue failed", zap.Error(err), zap.String("log_id", id.String()))
		response.Internal(c, "failed to queue resend")
		return
	}
	response.OK(c, gin.H{"queued": true})
}
