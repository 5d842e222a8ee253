package donation

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// AmountInput accepts an amount sent either as a JSON string or a JSON number.
type AmountInput string

// UnmarshalJSON implements json.Unmarshaler.
func (a *AmountInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AmountInput(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*a = AmountInput(n.String())
	}
	return nil
}

// AmountString formats a whole amount the way the donation form submits it.
func AmountString(amount int64) AmountInput {
	return AmountInput(strconv.FormatInt(amount, 10))
}

// CreateOrderRequest is the body of POST /donations/orders.
type CreateOrderRequest struct {
	Amount  AmountInput `json:"amount"`
	Name    string      `json:"name"`
	Email   string      `json:"email"`
	Phone   string      `json:"phone,omitempty"`
	Purpose string      `json:"purpose,omitempty"`
}

// CreateOrderResponse is the envelope returned by POST /donations/orders.
type CreateOrderResponse struct {
	Success bool          `json:"success"`
	Order   *OrderSummary `json:"order,omitempty"`
	Error   string        `json:"error,omitempty"`
	Code    string        `json:"code,omitempty"`
	Field   string        `json:"field,omitempty"`
}

// VerifyPaymentRequest is the body of POST /donations/verify. The razorpay_*
// fields are the checkout callback values forwarded unmodified.
type VerifyPaymentRequest struct {
	PaymentID   string      `json:"razorpay_payment_id"`
	OrderID     string      `json:"razorpay_order_id"`
	Signature   string      `json:"razorpay_signature"`
	DonorName   string      `json:"donor_name"`
	DonorEmail  string      `json:"donor_email"`
	DonorPhone  string      `json:"donor_phone,omitempty"`
	Amount      AmountInput `json:"amount"`
	Purpose     string      `json:"purpose,omitempty"`
	IsAnonymous bool        `json:"is_anonymous"`
}

// VerifyPaymentResponse is the envelope returned by POST /donations/verify.
type VerifyPaymentResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// CheckoutConfig is the public widget configuration. It never carries secrets.
type CheckoutConfig struct {
	KeyID          string   `json:"key_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	ThemeColor     string   `json:"theme_color"`
	Currency       string   `json:"currency"`
	MinAmount      int64    `json:"min_amount"`
	DefaultPurpose string   `json:"default_purpose"`
	Presets        []Preset `json:"presets"`
}

// Response codes shared by the server handlers and the client orchestrator.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeOrderCreation    = "ORDER_CREATION_FAILED"
	CodeSignatureInvalid = "SIGNATURE_MISMATCH"
	CodeDuplicate        = "DUPLICATE_TRANSACTION"
	CodeRecordPending    = "PAYMENT_RECORD_PENDING"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInternal         = "INTERNAL"
)
