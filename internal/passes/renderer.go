// Package passes wraps the external entry-pass renderer: it turns a
// resolved registration into the printable PDF/QR artifact handed out
// at the venue.
package passes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
)

const maxPassSize = 10 * 1024 * 1024 // renderer output cap

// Renderer calls the external render service.
type Renderer struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewRenderer creates a renderer client. httpClient nil uses
// http.DefaultClient.
func NewRenderer(baseURL string, httpClient *http.Client, logger *zap.Logger) *Renderer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{baseURL: baseURL, http: httpClient, logger: logger}
}

type renderRequest struct {
	TicketCode string      `json:"ticket_code"`
	EntityType models.Role `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Name       string      `json:"name"`
	Company    string      `json:"company"`
	Category   string      `json:"category"`
}

// Render posts the ticket details and returns the artifact bytes with
// their content type.
func (r *Renderer) Render(ctx context.Context, reg *models.Registration) ([]byte, string, error) {
	name := reg.Field("name")
	if name == "" {
		name = reg.Field("full_name")
	}
	company := reg.Field("company")
	if company == "" {
		company = reg.Field("company_name")
	}
	body, err := json.Marshal(renderRequest{
		TicketCode: reg.TicketCode,
		EntityType: reg.Role,
		EntityID:   reg.ID.String(),
		Name:       name,
		Company:    company,
		Category:   reg.TicketCategory,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("render status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPassSize))
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return data, contentType, nil
}
