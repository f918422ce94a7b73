package registrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/pkg/queue"
)

type stubEnqueuer struct {
	payloads []queue.EmailPayload
	fail     bool
}

func (s *stubEnqueuer) EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error {
	if s.fail {
		return fmt.Errorf("redis down")
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

type stubAllowLister struct {
	allowed map[string]struct{}
}

func (s *stubAllowLister) AllowedKeys(ctx context.Context, role models.Role) (map[string]struct{}, error) {
	return s.allowed, nil
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/register/:role", h.Register)
	r.PATCH("/registrations/:role/:id", h.Confirm)
	r.POST("/registrations/:role/:id/approve", h.Approve)
	r.POST("/registrations/:role/:id/cancel", h.Cancel)
	r.GET("/registrations/:role/:id", h.Get)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var wrapper struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wrapper))
	return wrapper.Data
}

func TestRegisterCreatesAndQueuesMail(t *testing.T) {
	store := NewInMemory(nil)
	emails := &stubEnqueuer{}
	h := NewHandler(store, nil, emails, "https://tickets.example.com", []string{"ops@example.com"}, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/register/visitor", map[string]interface{}{
		"email": "alice@example.com",
		"Name":  "Alice",
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, true, data["saved"])
	assert.Equal(t, false, data["existed"])
	assert.Regexp(t, `^TICK-[A-Z0-9]{8}$`, data["ticket_code"])

	// Confirmation to the registrant plus the admin notification.
	require.Len(t, emails.payloads, 2)
	assert.Equal(t, models.EmailTypeRegistrationConfirmation, emails.payloads[0].EmailType)
	assert.Contains(t, emails.payloads[0].BodyText, "https://tickets.example.com/manage?role=visitor")
	assert.Equal(t, []string{"ops@example.com"}, emails.payloads[1].Recipients)
}

func TestRegisterResubmissionSkipsMail(t *testing.T) {
	store := NewInMemory(nil)
	emails := &stubEnqueuer{}
	h := NewHandler(store, nil, emails, "", nil, nil)
	r := newTestRouter(h)

	payload := map[string]interface{}{"email": "bob@example.com"}
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/register/visitor", payload).Code)
	sent := len(emails.payloads)

	w := doJSON(t, r, http.MethodPost, "/register/visitor", payload)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, true, data["existed"])
	assert.Len(t, emails.payloads, sent)
}

func TestRegisterSucceedsWhenQueueDown(t *testing.T) {
	store := NewInMemory(nil)
	h := NewHandler(store, nil, &stubEnqueuer{fail: true}, "", nil, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/register/visitor", map[string]interface{}{
		"email": "carol@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, true, data["saved"])
	mail := data["mail"].(map[string]interface{})
	assert.Equal(t, false, mail["queued"])
}

func TestRegisterUnknownRole(t *testing.T) {
	h := NewHandler(NewInMemory(nil), nil, nil, "", nil, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/register/ghost", map[string]interface{}{"email": "x@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterEmptyBody(t *testing.T) {
	h := NewHandler(NewInMemory(nil), nil, nil, "", nil, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/register/visitor", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterAppliesFormAllowList(t *testing.T) {
	store := NewInMemory(nil)
	forms := &stubAllowLister{allowed: map[string]struct{}{"name": {}}}
	h := NewHandler(store, forms, nil, "", nil, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/register/visitor", map[string]interface{}{
		"email":   "dora@example.com",
		"name":    "Dora",
		"company": "Acme",
	})
	require.Equal(t, http.StatusOK, w.Code)

	id := uuid.MustParse(decodeData(t, w)["id"].(string))
	reg, err := store.GetByID(context.Background(), models.RoleVisitor, id)
	require.NoError(t, err)
	assert.Equal(t, "Dora", reg.Fields["name"])
	assert.NotContains(t, reg.Fields, "company")
}

func TestConfirmNotFound(t *testing.T) {
	h := NewHandler(NewInMemory(nil), nil, nil, "", nil, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPatch, "/registrations/visitor/"+uuid.NewString(), map[string]interface{}{
		"fields": map[string]interface{}{"name": "nobody"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfirmMergesFields(t *testing.T) {
	store := NewInMemory(nil)
	h := NewHandler(store, nil, nil, "", nil, nil)
	r := newTestRouter(h)

	res, err := store.Save(context.Background(), models.RoleVisitor, map[string]interface{}{
		"email": "eve@example.com", "name": "Eve",
	}, SaveOptions{})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPatch, "/registrations/visitor/"+res.ID.String(), map[string]interface{}{
		"fields": map[string]interface{}{"company": "Initech"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	reg, err := store.GetByID(context.Background(), models.RoleVisitor, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Eve", reg.Fields["name"])
	assert.Equal(t, "Initech", reg.Fields["company"])
}

func TestApproveOnlyForApprovalRoles(t *testing.T) {
	store := NewInMemory(nil)
	h := NewHandler(store, nil, nil, "", nil, nil)
	r := newTestRouter(h)

	visitor, err := store.Save(context.Background(), models.RoleVisitor, map[string]interface{}{"email": "v@x.com"}, SaveOptions{})
	require.NoError(t, err)
	exhibitor, err := store.Save(context.Background(), models.RoleExhibitor, map[string]interface{}{"email": "e@x.com"}, SaveOptions{})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost, "/registrations/visitor/"+visitor.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/registrations/exhibitor/"+exhibitor.ID.String()+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)

	reg, err := store.GetByID(context.Background(), models.RoleExhibitor, exhibitor.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, reg.Status)
}
