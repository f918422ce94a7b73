package registrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/pkg/queue"
	"github.com/expopass/backend/pkg/response"
)

// AllowLister supplies the admin-configured field allow-list per role.
type AllowLister interface {
	AllowedKeys(ctx context.Context, role models.Role) (map[string]struct{}, error)
}

// EmailEnqueuer pushes background mail jobs. Satisfied by queue.Queue.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Handler serves registration submission and admin lifecycle endpoints.
type Handler struct {
	store       Store
	forms       AllowLister
	emails      EmailEnqueuer
	frontendURL string
	adminEmails []string
	logger      *zap.Logger
}

// NewHandler creates a registrations handler. forms and emails may be
// nil; the matching behavior is then skipped.
func NewHandler(store Store, forms AllowLister, emails EmailEnqueuer, frontendURL string, adminEmails []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:       store,
		forms:       forms,
		emails:      emails,
		frontendURL: frontendURL,
		adminEmails: adminEmails,
		logger:      logger,
	}
}

// Register handles POST /register/:role. The response returns as soon
// as the record is persisted; confirmation mail goes through the
// background queue.
func (h *Handler) Register(c *gin.Context) {
	role, ok := models.ParseRole(c.Param("role"))
	if !ok {
		response.BadRequest(c, "unknown role")
		return
	}
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if len(payload) == 0 {
		response.BadRequest(c, "empty submission")
		return
	}

	var opts SaveOptions
	if h.forms != nil {
		allowed, err := h.forms.AllowedKeys(c.Request.Context(), role)
		if err != nil {
			// A broken form config must not block registrations.
			h.logger.Warn("allow-list load failed", zap.Error(err), zap.String("role", string(role)))
		} else {
			opts.Allowed = allowed
		}
	}

	result, err := h.store.Save(c.Request.Context(), role, payload, opts)
	if errors.Is(err, ErrCodeSpaceExhausted) {
		h.logger.Error("ticket code space exhausted", zap.String("role", string(role)))
		response.Internal(c, "could not allocate ticket code")
		return
	}
	if err != nil {
		h.logger.Error("save registration failed", zap.Error(err), zap.String("role", string(role)))
		response.Internal(c, "failed to register")
		return
	}

	mailQueued := false
	if !result.Existed {
		mailQueued = h.queueRegistrationMail(c.Request.Context(), result)
	}

	response.OK(c, gin.H{
		"id":          result.ID,
		"ticket_code": result.Registration.TicketCode,
		"existed":     result.Existed,
		"saved":       true,
		"mail":        gin.H{"queued": mailQueued},
	})
}

// Confirm handles PATCH /admin/registrations/:role/:id: merges
// allow-listed form fields into an existing record. ticket_code
// changes are silently dropped unless the override flag is set.
func (h *Handler) Confirm(c *gin.Context) {
	role, id, ok := h.roleAndID(c)
	if !ok {
		return
	}
	var body struct {
		Fields             map[string]interface{} `json:"fields" binding:"required"`
		OverrideTicketCode bool                   `json:"override_ticket_code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reg, err := h.store.Update(c.Request.Context(), role, id, body.Fields, UpdateOptions{AllowTicketCodeOverride: body.OverrideTicketCode})
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "registration not found")
		return
	}
	if errors.Is(err, ErrCodeConflict) {
		response.Conflict(c, "ticket code already taken")
		return
	}
	if err != nil {
		h.logger.Error("update registration failed", zap.Error(err))
		response.Internal(c, "failed to update registration")
		return
	}
	response.OK(c, reg)
}

// Approve handles POST /admin/registrations/:role/:id/approve.
func (h *Handler) Approve(c *gin.Context) {
	h.setStatus(c, models.StatusApproved)
}

// Cancel handles POST /admin/registrations/:role/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	h.setStatus(c, models.StatusCancelled)
}

// Get handles GET /admin/registrations/:role/:id.
func (h *Handler) Get(c *gin.Context) {
	role, id, ok := h.roleAndID(c)
	if !ok {
		return
	}
	reg, err := h.store.GetByID(c.Request.Context(), role, id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "registration not found")
		return
	}
	if err != nil {
		h.logger.Error("load registration failed", zap.Error(err))
		response.Internal(c, "failed to load registration")
		return
	}
	response.OK(c, reg)
}

func (h *Handler) setStatus(c *gin.Context, status string) {
	role, id, ok := h.roleAndID(c)
	if !ok {
		return
	}
	if !role.RequiresApproval() {
		response.BadRequest(c, "role has no approval step")
		return
	}
	err := h.store.SetStatus(c.Request.Context(), role, id, status)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "registration not found")
		return
	}
	if err != nil {
		h.logger.Error("set status failed", zap.Error(err), zap.String("status", status))
		response.Internal(c, "failed to update status")
		return
	}
	response.OK(c, gin.H{"id": id, "status": status})
}

func (h *Handler) roleAndID(c *gin.Context) (models.Role, uuid.UUID, bool) {
	role, ok := models.ParseRole(c.Param("role"))
	if !ok {
		response.BadRequest(c, "unknown role")
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return "", uuid.Nil, false
	}
	return role, id, true
}

func (h *Handler) queueRegistrationMail(ctx context.Context, result *SaveResult) bool {
	if h.emails == nil {
		return false
	}
	reg := result.Registration
	queued := false
	if reg.Email != "" {
		manageURL := fmt.Sprintf("%s/manage?role=%s&id=%s&code=%s", h.frontendURL, reg.Role, reg.ID, reg.TicketCode)
		err := h.emails.EnqueueEmail(ctx, queue.EmailPayload{
			EmailType:      models.EmailTypeRegistrationConfirmation,
			Role:           &reg.Role,
			RegistrationID: &reg.ID,
			Recipients:     []string{reg.Email},
			Subject:        "Your registration is confirmed",
			BodyText: fmt.Sprintf("Thank you for registering as %s.\nYour ticket code is %s.\nManage your ticket: %s\n",
				reg.Role, reg.TicketCode, manageURL),
		})
		if err != nil {
			h.logger.Warn("queue confirmation email failed", zap.Error(err), zap.String("id", reg.ID.String()))
		} else {
			queued = true
		}
	}
	if len(h.adminEmails) > 0 {
		err := h.emails.EnqueueEmail(ctx, queue.EmailPayload{
			EmailType:      models.EmailTypeAdminNotification,
			Role:           &reg.Role,
			RegistrationID: &reg.ID,
			Recipients:     h.adminEmails,
			Subject:        fmt.Sprintf("New %s registration", reg.Role),
			BodyText:       fmt.Sprintf("Registration %s (%s) created with ticket %s.\n", reg.ID, reg.Email, reg.TicketCode),
		})
		if err != nil {
			h.logger.Warn("queue admin notification failed", zap.Error(err), zap.String("id", reg.ID.String()))
		}
	}
	return queued
}
