package upgrades

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/internal/payments"
	"github.com/expopass/backend/pkg/response"
)

// Handler serves POST /upgrade.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an upgrades handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

type upgradeRequest struct {
	EntityType  string `json:"entity_type" binding:"required"`
	EntityID    string `json:"entity_id" binding:"required"`
	NewCategory string `json:"new_category" binding:"required"`
	AmountCents int    `json:"amount"`
	Email       string `json:"email"`
}

// Upgrade handles POST /upgrade.
func (h *Handler) Upgrade(c *gin.Context) {
	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role, ok := models.ParseRole(req.EntityType)
	if !ok {
		response.BadRequest(c, "unknown entity_type")
		return
	}
	id, err := uuid.Parse(req.EntityID)
	if err != nil {
		response.BadRequest(c, "invalid entity_id")
		return
	}

	result, err := h.service.Upgrade(c.Request.Context(), role, id, req.NewCategory, req.AmountCents, req.Email)
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "registration not found")
		return
	case errors.Is(err, payments.ErrUpstream):
		h.logger.Error("payment order failed", zap.Error(err), zap.String("entity_id", req.EntityID))
		response.BadGateway(c, "payment service unavailable")
		return
	case err != nil:
		h.logger.Error("upgrade failed", zap.Error(err), zap.String("entity_id", req.EntityID))
		response.Internal(c, "upgrade failed")
		return
	}

	if result.CheckoutURL != "" {
		response.OK(c, gin.H{"checkoutUrl": result.CheckoutURL})
		return
	}
	response.OK(c, gin.H{
		"upgraded":     true,
		"entity_type":  role,
		"entity_id":    id,
		"new_category": req.NewCategory,
		"ticket_code":  result.TicketCode,
	})
}
