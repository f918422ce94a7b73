package formconfig

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/pkg/response"
)

// Handler serves the admin form configuration endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a form config handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Get handles GET /admin/forms/:role.
func (h *Handler) Get(c *gin.Context) {
	role, ok := models.ParseRole(c.Param("role"))
	if !ok {
		response.BadRequest(c, "unknown role")
		return
	}
	fc, err := h.repo.Get(c.Request.Context(), role)
	if err != nil {
		h.logger.Error("load form config failed", zap.Error(err), zap.String("role", string(role)))
		response.Internal(c, "failed to load form config")
		return
	}
	if fc == nil {
		response.OK(c, gin.H{"role": role, "fields": []models.FormFieldConfig{}})
		return
	}
	response.OK(c, fc)
}

type putRequest struct {
	Fields []models.FormFieldConfig `json:"fields" binding:"required"`
}

// Put handles PUT /admin/forms/:role.
func (h *Handler) Put(c *gin.Context) {
	role, ok := models.ParseRole(c.Param("role"))
	if !ok {
		response.BadRequest(c, "unknown role")
		return
	}
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	fc, err := h.repo.Put(c.Request.Context(), role, req.Fields)
	if err != nil {
		h.logger.Error("save form config failed", zap.Error(err), zap.String("role", string(role)))
		response.Internal(c, "failed to save form config")
		return
	}
	response.OK(c, fc)
}
