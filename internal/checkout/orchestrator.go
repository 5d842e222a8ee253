package checkout

import (
	"cmp"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/donation"
)

// State is a step of the checkout flow.
type State int32

const (
	StateIdle State = iota
	StateCreatingOrder
	StateAwaitingGatewayResult
	StateVerifyingPayment
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreatingOrder:
		return "creating_order"
	case StateAwaitingGatewayResult:
		return "awaiting_gateway_result"
	case StateVerifyingPayment:
		return "verifying_payment"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

var (
	// ErrSubmissionInFlight is returned when Submit is called while another
	// submission on the same orchestrator has not finished.
	ErrSubmissionInFlight = errors.New("checkout: submission already in progress")
	// ErrCheckoutDismissed is returned by Session.Await when the donor closes
	// the widget without paying.
	ErrCheckoutDismissed = errors.New("checkout: widget dismissed")
	// ErrUserCancelled is returned by Submit after a dismissal. Callers treat
	// it as a silent return to the form.
	ErrUserCancelled = errors.New("checkout: cancelled by user")
)

// Donor is what the donation form collects. Amount is in whole currency units.
type Donor struct {
	Amount      int64
	Name        string
	Email       string
	Phone       string
	Purpose     string
	IsAnonymous bool
}

// Prefill is shown pre-populated inside the widget.
type Prefill struct {
	Name    string
	Email   string
	Contact string
}

// Options opens a hosted checkout for one order.
type Options struct {
	KeyID       string
	OrderID     string
	Amount      int64 // minor units
	Currency    string
	Name        string
	Description string
	ThemeColor  string
	Prefill     Prefill
	Notes       map[string]string
}

// Callback carries the values the gateway hands back after a successful payment.
type Callback struct {
	PaymentID string
	OrderID   string
	Signature string
}

// PaymentGateway opens the hosted payment widget.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, opts Options) (Session, error)
}

// Session is an open widget. Await blocks until the donor pays or dismisses
// it; dismissal yields ErrCheckoutDismissed.
type Session interface {
	Await(ctx context.Context) (Callback, error)
}

// Outcome describes a finished submission.
type Outcome struct {
	OrderID   string
	PaymentID string
	Amount    int64
	// Pending is set when the payment succeeded but the record is still
	// being written by reconciliation.
	Pending bool
}

// Orchestrator drives one donation form through order creation, the hosted
// widget, and server-side verification.
type Orchestrator struct {
	cfg     Config
	api     API
	gateway PaymentGateway
	logger  zerolog.Logger

	// OnTransition is called after every state change.
	OnTransition func(from, to State)

	busy  atomic.Bool
	mu    sync.Mutex
	state State
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithAPI replaces the HTTP client built from Config.
func WithAPI(api API) Option {
	return func(o *Orchestrator) { o.api = api }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New builds an orchestrator for cfg.
func New(cfg Config, gateway PaymentGateway, opts ...Option) (*Orchestrator, error) {
	cfg = cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, errors.New("checkout: payment gateway is required")
	}
	o := &Orchestrator{cfg: cfg, gateway: gateway, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.api == nil {
		o.api = NewClient(cfg, nil)
	}
	return o, nil
}

// State reports the current step.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset returns a completed orchestrator to Idle so the form can be reused.
func (o *Orchestrator) Reset() {
	if o.busy.Load() {
		return
	}
	o.transition(StateIdle)
}

// Submit runs the whole flow for one donation. Input is validated before any
// network call. Every failure leaves the orchestrator Idle.
func (o *Orchestrator) Submit(ctx context.Context, d Donor) (Outcome, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return Outcome{}, ErrSubmissionInFlight
	}
	defer o.busy.Store(false)

	d = normaliseDonor(d)
	intent := donation.Intent{Amount: d.Amount, Name: d.Name, Email: d.Email, Phone: d.Phone, Purpose: d.Purpose}
	if err := donation.ValidateIntent(intent, o.cfg.MinAmount); err != nil {
		o.transition(StateIdle)
		return Outcome{}, err
	}

	o.transition(StateCreatingOrder)
	order, err := o.createOrder(ctx, d)
	if err != nil {
		o.logger.Warn().Err(err).Int64("amount", d.Amount).Msg("checkout_order_failed")
		return Outcome{}, o.fail(err)
	}

	o.transition(StateAwaitingGatewayResult)
	cb, err := o.awaitPayment(ctx, d, order)
	if errors.Is(err, ErrCheckoutDismissed) {
		o.logger.Debug().Str("order_id", order.ID).Msg("checkout_dismissed")
		o.transition(StateIdle)
		return Outcome{}, ErrUserCancelled
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("order_id", order.ID).Msg("checkout_widget_failed")
		return Outcome{}, o.fail(err)
	}

	o.transition(StateVerifyingPayment)
	out, err := o.verify(ctx, d, cb)
	if err != nil {
		var perr *donation.PersistenceError
		if errors.As(err, &perr) {
			o.logger.Warn().Str("payment_id", cb.PaymentID).Str("order_id", cb.OrderID).Msg("checkout_record_pending")
			o.transition(StateIdle)
			return Outcome{OrderID: cb.OrderID, PaymentID: cb.PaymentID, Pending: true}, err
		}
		// The server only reports a duplicate after the signature checked out,
		// so the payment is already recorded. This happens when the first
		// response was lost and the retry reached the server again.
		if errors.Is(err, donation.ErrDuplicateTransaction) {
			o.logger.Info().Str("payment_id", cb.PaymentID).Str("order_id", cb.OrderID).Msg("checkout_verify_duplicate")
			o.transition(StateCompleted)
			amount := out.Amount
			if amount == 0 {
				amount = d.Amount
			}
			return Outcome{OrderID: cb.OrderID, PaymentID: cmp.Or(out.PaymentID, cb.PaymentID), Amount: amount}, nil
		}
		o.logger.Error().Err(err).Str("payment_id", cb.PaymentID).Str("order_id", cb.OrderID).Msg("checkout_verify_failed")
		return Outcome{}, o.fail(err)
	}

	o.transition(StateCompleted)
	return Outcome{OrderID: cb.OrderID, PaymentID: out.PaymentID, Amount: out.Amount}, nil
}

func (o *Orchestrator) createOrder(ctx context.Context, d Donor) (donation.OrderSummary, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	return o.api.CreateOrder(callCtx, donation.CreateOrderRequest{
		Amount:  donation.AmountString(d.Amount),
		Name:    d.Name,
		Email:   d.Email,
		Phone:   d.Phone,
		Purpose: d.Purpose,
	})
}

// awaitPayment opens the widget with the server-issued order. Only opening is
// bounded by Timeout; the donor may take as long as ctx allows to pay.
func (o *Orchestrator) awaitPayment(ctx context.Context, d Donor, order donation.OrderSummary) (Callback, error) {
	openCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	session, err := o.gateway.CreateCheckout(openCtx, Options{
		KeyID:       o.cfg.KeyID,
		OrderID:     order.ID,
		Amount:      order.Amount,
		Currency:    orDefault(order.Currency, o.cfg.Currency),
		Name:        o.cfg.Name,
		Description: o.cfg.Description,
		ThemeColor:  o.cfg.ThemeColor,
		Prefill:     Prefill{Name: d.Name, Email: d.Email, Contact: d.Phone},
		Notes: map[string]string{
			"purpose":      d.Purpose,
			"is_anonymous": boolNote(d.IsAnonymous),
		},
	})
	cancel()
	if err != nil {
		return Callback{}, err
	}
	return session.Await(ctx)
}

func (o *Orchestrator) verify(ctx context.Context, d Donor, cb Callback) (donation.VerifyPaymentResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	return o.api.VerifyPayment(callCtx, donation.VerifyPaymentRequest{
		PaymentID:   cb.PaymentID,
		OrderID:     cb.OrderID,
		Signature:   cb.Signature,
		DonorName:   d.Name,
		DonorEmail:  d.Email,
		DonorPhone:  d.Phone,
		Amount:      donation.AmountString(d.Amount),
		Purpose:     d.Purpose,
		IsAnonymous: d.IsAnonymous,
	})
}

func (o *Orchestrator) fail(err error) error {
	o.transition(StateIdle)
	return err
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	hook := o.OnTransition
	o.mu.Unlock()
	if from == to {
		return
	}
	o.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("checkout_state")
	if hook != nil {
		hook(from, to)
	}
}

func normaliseDonor(d Donor) Donor {
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.TrimSpace(d.Email)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Purpose = strings.TrimSpace(d.Purpose)
	return d
}

func boolNote(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
