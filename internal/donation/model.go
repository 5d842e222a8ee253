package donation

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle state stored on a donation record.
type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusSuccess PaymentStatus = "success"
	StatusFailed  PaymentStatus = "failed"
)

// DonationTypeOneTime is the only donation type the checkout produces.
const DonationTypeOneTime = "one_time"

// PaymentMethodGateway is recorded for payments captured through the hosted checkout.
const PaymentMethodGateway = "razorpay"

// Record is a persisted donation row.
type Record struct {
	ID            uuid.UUID     `json:"id"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	DonationType  string        `json:"donation_type"`
	DonorName     string        `json:"donor_name"`
	DonorEmail    string        `json:"donor_email,omitempty"`
	DonorPhone    string        `json:"donor_phone,omitempty"`
	Purpose       string        `json:"purpose,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	IsAnonymous   bool          `json:"is_anonymous"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	TransactionID string        `json:"transaction_id"`
	OrderID       string        `json:"order_id,omitempty"`
	ReceiptSent   bool          `json:"receipt_sent"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Intent is the donor's checkout request before any gateway interaction.
// Amount is in whole currency units.
type Intent struct {
	Amount  int64  `json:"amount" validate:"gt=0,lte=10000000000"`
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=20"`
	Purpose string `json:"purpose,omitempty" validate:"omitempty,max=200"`
}

// OrderSummary is the order returned to the client to open the checkout widget.
// Amount is in minor units.
type OrderSummary struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Verification carries the gateway callback triple plus the donor metadata
// captured before checkout. It is also the payload of reconciliation tasks.
type Verification struct {
	PaymentID   string `json:"payment_id" validate:"required,max=64"`
	OrderID     string `json:"order_id" validate:"required,max=64"`
	Signature   string `json:"signature,omitempty"`
	DonorName   string `json:"donor_name" validate:"max=120"`
	DonorEmail  string `json:"donor_email" validate:"max=254"`
	DonorPhone  string `json:"donor_phone,omitempty" validate:"omitempty,max=20"`
	Amount      int64  `json:"amount,omitempty"`
	Purpose     string `json:"purpose,omitempty" validate:"omitempty,max=200"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// VerifyResult is returned once a verified payment has been recorded.
type VerifyResult struct {
	PaymentID string
	Amount    int64
	Currency  string
	Record    Record
}

// ListFilter narrows admin donation listings.
type ListFilter struct {
	Status PaymentStatus
	Limit  int
	Offset int
}

// Minor converts whole currency units into the gateway's minor units.
func Minor(amount int64) int64 {
	return amount * 100
}

// anonymousNote mirrors the note stored alongside each record for reporting.
func anonymousNote(anonymous bool) string {
	if anonymous {
		return "Anonymous: Yes"
	}
	return "Anonymous: No"
}
