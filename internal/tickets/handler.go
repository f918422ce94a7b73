package tickets

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/pkg/response"
)

const archiveTimeout = 30 * time.Second

// PassRenderer renders the entry-pass artifact for a resolved ticket.
// Implemented by the external PDF/QR renderer client.
type PassRenderer interface {
	Render(ctx context.Context, reg *models.Registration) (data []byte, contentType string, err error)
}

// ScanPublisher pushes a live check-in event to venue dashboards.
type ScanPublisher interface {
	PublishScan(reg *models.Registration)
}

// PassArchiver stores a rendered pass for later download. Best-effort.
type PassArchiver interface {
	ArchivePass(ctx context.Context, reg *models.Registration, data []byte, contentType string) (url string, err error)
}

// Handler serves ticket validation and scan endpoints.
type Handler struct {
	resolver *Resolver
	renderer PassRenderer
	feed     ScanPublisher
	archive  PassArchiver
	logger   *zap.Logger
}

// NewHandler creates a tickets handler. renderer, feed and archive may
// be nil; the matching behavior is then skipped.
func NewHandler(resolver *Resolver, renderer PassRenderer, feed ScanPublisher, archive PassArchiver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{resolver: resolver, renderer: renderer, feed: feed, archive: archive, logger: logger}
}

// validateRequest accepts the documented shapes plus anything a broken
// scanner produces; the resolver deals with the mess.
type validateRequest map[string]interface{}

// payload picks the scan payload out of the request body: an explicit
// ticket_id or raw wrapper when present, otherwise the whole body.
func (r validateRequest) payload() interface{} {
	if v, ok := r["ticket_id"]; ok && v != nil {
		return v
	}
	if v, ok := r["raw"]; ok && v != nil {
		return v
	}
	return map[string]interface{}(r)
}

// Validate handles POST /tickets/validate.
func (h *Handler) Validate(c *gin.Context) {
	match, ok := h.resolve(c)
	if !ok {
		return
	}
	if h.feed != nil {
		h.feed.PublishScan(match.Registration)
	}
	response.OK(c, gin.H{"ticket": ticketView(match)})
}

// Scan handles POST /tickets/scan: resolve, then stream the rendered
// entry pass. 402 is reserved for a valid ticket with pending payment.
func (h *Handler) Scan(c *gin.Context) {
	match, ok := h.resolve(c)
	if !ok {
		return
	}
	reg := match.Registration
	if reg.Status == models.StatusPaymentPending {
		response.PaymentRequired(c, "payment not completed")
		return
	}

	if h.feed != nil {
		h.feed.PublishScan(reg)
	}

	if h.renderer == nil {
		response.OK(c, gin.H{"ticket": ticketView(match)})
		return
	}
	data, contentType, err := h.renderer.Render(c.Request.Context(), reg)
	if err != nil {
		h.logger.Error("entry pass render failed", zap.Error(err), zap.String("ticket_code", reg.TicketCode))
		response.BadGateway(c, "entry pass rendering failed")
		return
	}
	if h.archive != nil {
		go func(reg *models.Registration, data []byte, ct string) {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			if _, err := h.archive.ArchivePass(ctx, reg, data, ct); err != nil {
				h.logger.Warn("pass archive failed", zap.Error(err), zap.String("ticket_code", reg.TicketCode))
			}
		}(reg, data, contentType)
	}
	c.Data(200, contentType, data)
}

func (h *Handler) resolve(c *gin.Context) (*Match, bool) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return nil, false
	}
	match, err := h.resolver.Resolve(c.Request.Context(), req.payload())
	switch {
	case errors.Is(err, ErrInvalidPayload):
		response.BadRequest(c, "unrecognized scan payload")
		return nil, false
	case errors.Is(err, ErrTicketNotFound):
		response.NotFound(c, "Ticket not found")
		return nil, false
	case err != nil:
		h.logger.Error("ticket resolve failed", zap.Error(err))
		response.Internal(c, "ticket lookup failed")
		return nil, false
	}
	return match, true
}

func ticketView(match *Match) gin.H {
	reg := match.Registration
	name := reg.Field("name")
	if name == "" {
		name = reg.Field("full_name")
	}
	company := reg.Field("company")
	if company == "" {
		company = reg.Field("company_name")
	}
	return gin.H{
		"ticket_code": reg.TicketCode,
		"entity_type": match.Role,
		"entity_id":   reg.ID,
		"name":        name,
		"email":       reg.Email,
		"company":     company,
		"category":    reg.TicketCategory,
		"raw_row":     reg.RawForm,
	}
}
