package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderReturnsCheckoutURL(t *testing.T) {
	var got Order
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":     true,
			"checkoutUrl": "https://pay.example.com/c/abc123",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	url, err := client.CreateOrder(context.Background(), Order{
		AmountCents: 2500,
		Currency:    "USD",
		ReferenceID: "visitor:42",
		Metadata:    map[string]string{"new_category": "vip"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/c/abc123", url)
	assert.Equal(t, 2500, got.AmountCents)
	assert.Equal(t, "visitor:42", got.ReferenceID)
}

func TestCreateOrderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	_, err := client.CreateOrder(context.Background(), Order{AmountCents: 100, Currency: "USD"})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestCreateOrderMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	_, err := client.CreateOrder(context.Background(), Order{AmountCents: 100, Currency: "USD"})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestCreateOrderUnsuccessfulBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "card declined"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	_, err := client.CreateOrder(context.Background(), Order{AmountCents: 100, Currency: "USD"})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "card declined")
}

func TestCreateOrderConnectionRefused(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", nil, nil)
	_, err := client.CreateOrder(context.Background(), Order{AmountCents: 100, Currency: "USD"})
	assert.ErrorIs(t, err, ErrUpstream)
}
