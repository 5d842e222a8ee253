package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noah-isme/backend-donasi/internal/donation"
	"github.com/noah-isme/backend-donasi/internal/resilience"
)

// API is the server surface the orchestrator depends on.
type API interface {
	CreateOrder(ctx context.Context, req donation.CreateOrderRequest) (donation.OrderSummary, error)
	VerifyPayment(ctx context.Context, req donation.VerifyPaymentRequest) (donation.VerifyPaymentResponse, error)
}

// Client calls the donation endpoints over HTTP. Server error envelopes are
// decoded back into the donation error types.
type Client struct {
	CreateOrderURL   string
	VerifyPaymentURL string
	ConfigURL        string
	APIKey           string

	// Orders is used for order creation and never replays a request.
	Orders resilience.HTTPClient
	// Verify may replay on 5xx: the endpoint rejects a second record for the
	// same payment id.
	Verify resilience.HTTPClient
}

// NewClient builds a Client for cfg. A nil httpClient uses http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg = cfg.Normalise()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	breaker := resilience.NewBreaker(5, 0.5, 15*time.Second).WithTarget("donation-api")
	return &Client{
		CreateOrderURL:   cfg.CreateOrderURL,
		VerifyPaymentURL: cfg.VerifyPaymentURL,
		ConfigURL:        cfg.ConfigURL,
		APIKey:           cfg.APIKey,
		Orders: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     breaker,
			MaxAttempts: 1,
			Timeout:     cfg.Timeout,
		},
		Verify: resilience.HTTPClient{
			Client:             httpClient,
			Breaker:            breaker,
			MaxAttempts:        2,
			BaseBackoff:        250 * time.Millisecond,
			Jitter:             0.2,
			Timeout:            cfg.Timeout,
			RetryNonIdempotent: true,
		},
	}
}

// CreateOrder implements API.
func (c *Client) CreateOrder(ctx context.Context, req donation.CreateOrderRequest) (donation.OrderSummary, error) {
	var out donation.CreateOrderResponse
	status, err := c.post(ctx, c.Orders, c.CreateOrderURL, req, &out)
	if err != nil {
		// 5xx envelopes surface as StatusError from the resilience wrapper.
		var se *resilience.StatusError
		timeout := isTimeout(err) || (errors.As(err, &se) && se.StatusCode == http.StatusGatewayTimeout)
		return donation.OrderSummary{}, &donation.OrderCreationError{Timeout: timeout, Err: err}
	}
	if out.Success && out.Order != nil {
		return *out.Order, nil
	}
	if out.Code == donation.CodeValidation {
		return donation.OrderSummary{}, &donation.ValidationError{Field: out.Field, Message: out.Error}
	}
	return donation.OrderSummary{}, &donation.OrderCreationError{
		Timeout: status == http.StatusGatewayTimeout,
		Err:     fmt.Errorf("status %d: %s", status, orDefault(out.Error, "order creation failed")),
	}
}

// VerifyPayment implements API.
func (c *Client) VerifyPayment(ctx context.Context, req donation.VerifyPaymentRequest) (donation.VerifyPaymentResponse, error) {
	var out donation.VerifyPaymentResponse
	status, err := c.post(ctx, c.Verify, c.VerifyPaymentURL, req, &out)
	if err != nil {
		return donation.VerifyPaymentResponse{}, fmt.Errorf("verify payment %s: %w", req.PaymentID, err)
	}
	if out.Success {
		return out, nil
	}
	switch out.Code {
	case donation.CodeSignatureInvalid:
		return out, &donation.SignatureVerificationError{OrderID: req.OrderID, PaymentID: req.PaymentID}
	case donation.CodeDuplicate:
		return out, fmt.Errorf("verify payment %s: %w", req.PaymentID, donation.ErrDuplicateTransaction)
	case donation.CodeRecordPending:
		return out, &donation.PersistenceError{
			PaymentID: req.PaymentID,
			OrderID:   req.OrderID,
			Queued:    true,
			Err:       errors.New(orDefault(out.Error, "donation record pending")),
		}
	case donation.CodeValidation:
		return out, &donation.ValidationError{Message: out.Error}
	default:
		return out, fmt.Errorf("verify payment %s: status %d: %s", req.PaymentID, status, orDefault(out.Error, "verification failed"))
	}
}

// CheckoutConfig fetches the public widget configuration.
func (c *Client) CheckoutConfig(ctx context.Context) (donation.CheckoutConfig, error) {
	if c.ConfigURL == "" {
		return donation.CheckoutConfig{}, errors.New("checkout: config url not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ConfigURL, nil)
	if err != nil {
		return donation.CheckoutConfig{}, err
	}
	c.authorize(req)
	resp, err := c.Orders.Do(ctx, req)
	if err != nil {
		return donation.CheckoutConfig{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return donation.CheckoutConfig{}, fmt.Errorf("checkout config: status %d", resp.StatusCode)
	}
	var cfg donation.CheckoutConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return donation.CheckoutConfig{}, fmt.Errorf("decode checkout config: %w", err)
	}
	return cfg, nil
}

func (c *Client) post(ctx context.Context, hc resilience.HTTPClient, url string, body, out any) (int, error) {
	if url == "" {
		return 0, errors.New("checkout: endpoint url not set")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := hc.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
