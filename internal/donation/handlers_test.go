package donation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/payment"
)

func newTestRouter(f *fixture) http.Handler {
	h := &Handler{
		Service: f.svc,
		Checkout: CheckoutConfig{
			KeyID:     "rzp_test_key",
			Name:      "Garuda Dhhruvam Foundation",
			Currency:  "INR",
			MinAmount: 100,
			Presets:   Presets([]int64{500, 2000, 5000}),
		},
		Logger: zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Get("/donations/checkout-config", h.CheckoutConfigHandler)
	r.Post("/donations/orders", h.CreateOrder)
	r.Post("/donations/verify", h.VerifyPayment)
	r.Get("/admin/donations", h.List)
	r.Get("/admin/donations/{id}", h.Get)
	return r
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderHandlerReturnsOrderEnvelope(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := postJSON(t, router, "/donations/orders", `{"amount":"500","name":"Asha","email":"asha@example.org"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CreateOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotNil(t, resp.Order)
	require.Equal(t, int64(50000), resp.Order.Amount)
	require.Equal(t, "INR", resp.Order.Currency)
	require.NotEmpty(t, resp.Order.ID)
	require.Empty(t, resp.Error)
}

func TestCreateOrderHandlerAcceptsNumericAmount(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := postJSON(t, router, "/donations/orders", `{"amount":2000,"name":"Asha","email":"asha@example.org"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(200000), f.gateway.requests[0].Amount)
}

func TestCreateOrderHandlerRejectsBelowMinimum(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := postJSON(t, router, "/donations/orders", `{"amount":"50","name":"Asha","email":"asha@example.org"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp CreateOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Nil(t, resp.Order)
	require.Equal(t, CodeValidation, resp.Code)
	require.Equal(t, "amount", resp.Field)
	require.Equal(t, "minimum donation amount is 100", resp.Error)
	require.Zero(t, f.gateway.created())
}

func TestCreateOrderHandlerMapsGatewayFailures(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"unavailable": {payment.ErrGatewayUnavailable, http.StatusBadGateway},
		"timeout":     {payment.ErrGatewayTimeout, http.StatusGatewayTimeout},
		"rejected":    {&payment.APIError{StatusCode: 401, Code: "BAD_REQUEST_ERROR", Description: "Authentication failed"}, http.StatusBadGateway},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.gateway.createErr = tc.err
			rec := postJSON(t, newTestRouter(f), "/donations/orders", `{"amount":"500","name":"Asha","email":"asha@example.org"}`)
			require.Equal(t, tc.status, rec.Code)

			var resp CreateOrderResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.False(t, resp.Success)
			require.Equal(t, CodeOrderCreation, resp.Code)
			require.NotContains(t, rec.Body.String(), "Authentication failed")
		})
	}
}

func TestCreateOrderHandlerRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(t, newTestRouter(f), "/donations/orders", `{"amount":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), CodeBadRequest)
}

func verifyBody(t *testing.T, in Verification) string {
	t.Helper()
	raw, err := json.Marshal(VerifyPaymentRequest{
		PaymentID:   in.PaymentID,
		OrderID:     in.OrderID,
		Signature:   in.Signature,
		DonorName:   in.DonorName,
		DonorEmail:  in.DonorEmail,
		Amount:      AmountString(in.Amount),
		IsAnonymous: in.IsAnonymous,
	})
	require.NoError(t, err)
	return string(raw)
}

func TestVerifyHandlerSuccessAndDuplicate(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	in := f.paidVerification(t, 500)

	rec := postJSON(t, router, "/donations/verify", verifyBody(t, in))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp VerifyPaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, in.PaymentID, resp.PaymentID)
	require.Equal(t, int64(500), resp.Amount)

	rec = postJSON(t, router, "/donations/verify", verifyBody(t, in))
	require.Equal(t, http.StatusConflict, rec.Code)
	resp = VerifyPaymentResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, CodeDuplicate, resp.Code)
	require.Equal(t, in.PaymentID, resp.PaymentID)
	require.Equal(t, int64(500), resp.Amount)
	require.Equal(t, 1, f.store.count())
}

func TestVerifyHandlerSignatureMismatch(t *testing.T) {
	f := newFixture(t)
	in := f.paidVerification(t, 500)
	in.Signature = "deadbeef"

	rec := postJSON(t, newTestRouter(f), "/donations/verify", verifyBody(t, in))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp VerifyPaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "signature mismatch", resp.Error)
	require.Equal(t, CodeSignatureInvalid, resp.Code)
	require.Zero(t, f.store.count())
}

func TestVerifyHandlerPersistenceFailureIsNotAPaymentFailure(t *testing.T) {
	f := newFixture(t)
	in := f.paidVerification(t, 500)
	f.store.insertErr = errBoom

	rec := postJSON(t, newTestRouter(f), "/donations/verify", verifyBody(t, in))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp VerifyPaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, CodeRecordPending, resp.Code)
	require.Equal(t, in.PaymentID, resp.PaymentID)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestVerifyHandlerToleratesMalformedClaimedAmount(t *testing.T) {
	f := newFixture(t)
	in := f.paidVerification(t, 500)
	body := `{"razorpay_payment_id":"` + in.PaymentID + `","razorpay_order_id":"` + in.OrderID +
		`","razorpay_signature":"` + in.Signature + `","amount":"five hundred"}`

	rec := postJSON(t, newTestRouter(f), "/donations/verify", body)
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := f.store.GetDonationByTransaction(context.Background(), in.PaymentID)
	require.NoError(t, err)
	require.Equal(t, int64(500), saved.Amount)
	require.Equal(t, "Anonymous", saved.DonorName)
}

func TestCheckoutConfigHandlerOmitsSecrets(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/donations/checkout-config", nil)
	rec := httptest.NewRecorder()
	newTestRouter(f).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), testSecret)

	var cfg CheckoutConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	require.Equal(t, "rzp_test_key", cfg.KeyID)
	require.Len(t, cfg.Presets, 3)
}

func TestAdminListAndGet(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	result, err := f.svc.VerifyPayment(context.Background(), f.paidVerification(t, 2000))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/donations?status=success", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []Record `json:"data"`
		Meta struct {
			TotalItems int64 `json:"total_items"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, int64(1), list.Meta.TotalItems)

	req = httptest.NewRequest(http.MethodGet, "/admin/donations/"+result.Record.ID.String(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), result.Record.TransactionID)

	req = httptest.NewRequest(http.MethodGet, "/admin/donations/not-a-uuid", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/donations?status=refunded", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
