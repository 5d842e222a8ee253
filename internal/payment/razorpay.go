package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-donasi/internal/resilience"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com"

// Razorpay implements Gateway against the Razorpay Orders API using HTTP basic
// auth with the merchant key pair.
type Razorpay struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	HTTP      resilience.HTTPClient
}

type razorpayOrderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID         string          `json:"id"`
	Amount     int64           `json:"amount"`
	AmountPaid int64           `json:"amount_paid"`
	AmountDue  int64           `json:"amount_due"`
	Currency   string          `json:"currency"`
	Receipt    string          `json:"receipt"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	Notes      json.RawMessage `json:"notes"`
	CreatedAt  int64           `json:"created_at"`
}

// CreateOrder opens a new order. The amount must already be in minor units.
func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	ctx, span := otel.Tracer("payment.Razorpay").Start(ctx, "Razorpay.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.amount_minor", req.Amount),
		attribute.String("payment.currency", req.Currency),
	)

	if req.Amount <= 0 {
		return Order{}, errors.New("payment: amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}
	var out razorpayOrder
	err := r.do(ctx, http.MethodPost, "/v1/orders", razorpayOrderBody{
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return Order{}, err
	}
	span.SetAttributes(attribute.String("payment.order_id", out.ID))
	return out.toOrder(), nil
}

// FetchOrder loads an existing order by id.
func (r *Razorpay) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	ctx, span := otel.Tracer("payment.Razorpay").Start(ctx, "Razorpay.FetchOrder")
	defer span.End()
	span.SetAttributes(attribute.String("payment.order_id", orderID))

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrOrderNotFound
	}
	var out razorpayOrder
	if err := r.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusBadRequest) {
			err = fmt.Errorf("%w: %s", ErrOrderNotFound, apiErr.Description)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch order failed")
		return Order{}, err
	}
	return out.toOrder(), nil
}

func (r *Razorpay) do(ctx context.Context, method, path string, body any, out any) error {
	base := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if base == "" {
		base = defaultRazorpayBaseURL
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("payment: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("payment: build request: %w", err)
	}
	req.SetBasicAuth(r.KeyID, r.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.HTTP.Do(ctx, req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransportError(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("payment: decode response: %w", err)
	}
	return nil
}

func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
}

func decodeAPIError(status int, data []byte) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(data, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Description = envelope.Error.Description
		apiErr.Field = envelope.Error.Field
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(status)
	}
	return apiErr
}

func (o razorpayOrder) toOrder() Order {
	return Order{
		ID:         o.ID,
		Amount:     o.Amount,
		AmountPaid: o.AmountPaid,
		AmountDue:  o.AmountDue,
		Currency:   o.Currency,
		Receipt:    o.Receipt,
		Status:     o.Status,
		Attempts:   o.Attempts,
		Notes:      decodeNotes(o.Notes),
		CreatedAt:  o.CreatedAt,
	}
}

// decodeNotes accepts the gateway's notes field, which is an object when
// populated and an empty array otherwise.
func decodeNotes(raw json.RawMessage) map[string]string {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	notes := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			notes[k] = val
		case nil:
		default:
			notes[k] = fmt.Sprint(val)
		}
	}
	return notes
}
