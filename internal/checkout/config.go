package checkout

import (
	"errors"
	"strings"
	"time"
)

const (
	defaultTimeout = 20 * time.Second
	minTimeout     = 10 * time.Second
	maxTimeout     = 30 * time.Second
)

// Config parameterises an Orchestrator: which endpoints it talks to, the
// public key passed to the widget, and the branding shown in it. It never
// holds the gateway key secret.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.org/api/v1. The
	// endpoint URLs below default to paths under it.
	BaseURL          string
	CreateOrderURL   string
	VerifyPaymentURL string
	ConfigURL        string

	// KeyID is the gateway's public key id.
	KeyID string
	// APIKey is sent as a bearer token to the donation endpoints when set.
	APIKey string

	Name        string
	Description string
	ThemeColor  string
	Currency    string
	MinAmount   int64

	// Timeout bounds each network call. Clamped to 10-30s.
	Timeout time.Duration
}

// Normalise fills defaults and clamps the timeout.
func (c Config) Normalise() Config {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.CreateOrderURL == "" && base != "" {
		c.CreateOrderURL = base + "/donations/orders"
	}
	if c.VerifyPaymentURL == "" && base != "" {
		c.VerifyPaymentURL = base + "/donations/verify"
	}
	if c.ConfigURL == "" && base != "" {
		c.ConfigURL = base + "/donations/checkout-config"
	}
	if strings.TrimSpace(c.Currency) == "" {
		c.Currency = "INR"
	}
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.MinAmount < 1 {
		c.MinAmount = 100
	}
	switch {
	case c.Timeout <= 0:
		c.Timeout = defaultTimeout
	case c.Timeout < minTimeout:
		c.Timeout = minTimeout
	case c.Timeout > maxTimeout:
		c.Timeout = maxTimeout
	}
	return c
}

// Validate reports missing endpoint or key settings.
func (c Config) Validate() error {
	var errs []error
	if c.CreateOrderURL == "" {
		errs = append(errs, errors.New("checkout: create order url is required"))
	}
	if c.VerifyPaymentURL == "" {
		errs = append(errs, errors.New("checkout: verify payment url is required"))
	}
	if strings.TrimSpace(c.KeyID) == "" {
		errs = append(errs, errors.New("checkout: key id is required"))
	}
	return errors.Join(errs...)
}
