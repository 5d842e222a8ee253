package payment

import (
	"context"
	"errors"
	"fmt"
)

// Order mirrors the gateway-side order a checkout is opened against. Amount
// values are in minor currency units.
type Order struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	AmountDue  int64             `json:"amount_due"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Notes      map[string]string `json:"notes,omitempty"`
	CreatedAt  int64             `json:"created_at"`
}

// OrderRequest captures the information required to open an order with the gateway.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Gateway abstracts the server-side operations required from the payment gateway.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	FetchOrder(ctx context.Context, orderID string) (Order, error)
}

var (
	// ErrGatewayUnavailable is returned when the gateway could not be reached or
	// answered with a server error.
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	// ErrGatewayTimeout is returned when the gateway did not answer within the deadline.
	ErrGatewayTimeout = errors.New("payment: gateway timeout")
	// ErrOrderNotFound is returned when the gateway has no order with the given id.
	ErrOrderNotFound = errors.New("payment: order not found")
)

// APIError carries a 4xx error body returned by the gateway.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Field       string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("payment: gateway rejected request (%d %s): %s [%s]", e.StatusCode, e.Code, e.Description, e.Field)
	}
	return fmt.Sprintf("payment: gateway rejected request (%d %s): %s", e.StatusCode, e.Code, e.Description)
}
