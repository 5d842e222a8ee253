package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/resilience"
)

func newTestRazorpay(t *testing.T, handler http.HandlerFunc) *Razorpay {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Razorpay{
		KeyID:     "rzp_test_key",
		KeySecret: "rzp_test_secret",
		BaseURL:   srv.URL,
		HTTP:      resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second, MaxAttempts: 2, BaseBackoff: time.Millisecond},
	}
}

func TestRazorpayCreateOrder(t *testing.T) {
	gw := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_test_secret", pass)

		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &body))
		assert.Equal(t, float64(50000), body["amount"])
		assert.Equal(t, "INR", body["currency"])
		assert.Equal(t, "rcpt_1", body["receipt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"order_X","entity":"order","amount":50000,"amount_paid":0,"amount_due":50000,"currency":"INR","receipt":"rcpt_1","status":"created","attempts":0,"notes":{"purpose":"General Donation"},"created_at":1700000000}`)
	})

	order, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 50000, Currency: "inr", Receipt: "rcpt_1", Notes: map[string]string{"purpose": "General Donation"}})
	require.NoError(t, err)
	require.Equal(t, "order_X", order.ID)
	require.Equal(t, int64(50000), order.Amount)
	require.Equal(t, "created", order.Status)
	require.Equal(t, "General Donation", order.Notes["purpose"])
}

func TestRazorpayFetchOrderHandlesEmptyNotesArray(t *testing.T) {
	gw := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/orders/order_X", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"order_X","amount":200000,"currency":"INR","status":"paid","notes":[]}`)
	})

	order, err := gw.FetchOrder(context.Background(), "order_X")
	require.NoError(t, err)
	require.Equal(t, int64(200000), order.Amount)
	require.Nil(t, order.Notes)
}

func TestRazorpayMapsClientErrors(t *testing.T) {
	gw := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be atleast INR 1.00","field":"amount"}}`)
	})

	_, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 1, Currency: "INR"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	require.Equal(t, "amount", apiErr.Field)
}

func TestRazorpayFetchUnknownOrder(t *testing.T) {
	gw := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`)
	})

	_, err := gw.FetchOrder(context.Background(), "order_missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRazorpayServerErrorIsUnavailable(t *testing.T) {
	gw := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 50000, Currency: "INR"})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestRazorpayTimeout(t *testing.T) {
	gw := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	gw.HTTP.Timeout = 20 * time.Millisecond

	_, err := gw.FetchOrder(context.Background(), "order_slow")
	require.True(t, errors.Is(err, ErrGatewayTimeout), "got %v", err)
}

func TestRazorpayRejectsNonPositiveAmount(t *testing.T) {
	gw := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called")
	})
	_, err := gw.CreateOrder(context.Background(), OrderRequest{Amount: 0})
	require.Error(t, err)
}
