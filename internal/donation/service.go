package donation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-donasi/internal/events"
	"github.com/noah-isme/backend-donasi/internal/obs"
	"github.com/noah-isme/backend-donasi/internal/payment"
	"github.com/noah-isme/backend-donasi/internal/queue"
)

// ReconcileKind is the queue kind for verified payments awaiting a record.
const ReconcileKind = "donation-reconcile"

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Enqueuer schedules background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Rules holds the checkout settings the service enforces.
type Rules struct {
	MinAmount         int64
	Currency          string
	ReceiptPrefix     string
	DefaultPurpose    string
	OrderCacheTTL     time.Duration
	VerifyLockTTL     time.Duration
	PersistTimeout    time.Duration
	ReconcileAttempts int
}

// Service implements order creation and payment verification.
type Service struct {
	Store          Store
	Gateway        payment.Gateway
	KeySecret      string
	Orders         OrderCache
	Locker         Locker
	ReconcileQueue Enqueuer
	Events         Emitter
	Rules          Rules
	Logger         zerolog.Logger
	Now            func() time.Time
}

// CreateOrder validates the intent and opens a gateway order for it. No
// donation row is written.
func (s *Service) CreateOrder(ctx context.Context, in Intent) (summary OrderSummary, err error) {
	ctx, span := otel.Tracer("donation.Service").Start(ctx, "DonationService.CreateOrder")
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.Int64("donation.amount", in.Amount),
			attribute.String("donation.result", result),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
		obs.Count(obs.DonationOrderTotal, result)
	}()

	in = normaliseIntent(in)
	if err := ValidateIntent(in, s.Rules.MinAmount); err != nil {
		result = "invalid"
		return OrderSummary{}, err
	}
	if s.Gateway == nil {
		return OrderSummary{}, &OrderCreationError{Err: errors.New("gateway not configured")}
	}

	purpose := in.Purpose
	if purpose == "" {
		purpose = s.Rules.DefaultPurpose
	}
	order, err := s.Gateway.CreateOrder(ctx, payment.OrderRequest{
		Amount:   Minor(in.Amount),
		Currency: s.currency(),
		Receipt:  s.newReceipt(),
		Notes: map[string]string{
			"donor_name":  in.Name,
			"donor_email": in.Email,
			"purpose":     purpose,
		},
	})
	if err != nil {
		timeout := errors.Is(err, payment.ErrGatewayTimeout) || errors.Is(err, context.DeadlineExceeded)
		if timeout {
			result = "timeout"
		}
		s.Logger.Error().Err(err).Int64("amount", in.Amount).Msg("donation_order_failed")
		return OrderSummary{}, &OrderCreationError{Timeout: timeout, Err: err}
	}

	if s.Orders != nil {
		if cacheErr := s.Orders.Remember(ctx, order, s.Rules.OrderCacheTTL); cacheErr != nil {
			s.Logger.Warn().Err(cacheErr).Str("order_id", order.ID).Msg("donation_order_cache_failed")
		}
	}
	result = "success"
	span.SetAttributes(attribute.String("donation.order_id", order.ID))
	s.Logger.Info().
		Str("order_id", order.ID).
		Int64("amount_minor", order.Amount).
		Str("receipt", order.Receipt).
		Msg("donation_order_created")
	return OrderSummary{
		ID:       order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  order.Receipt,
		Status:   order.Status,
	}, nil
}

// VerifyPayment authenticates a checkout callback and records the donation.
// The stored amount comes from the gateway order, never from the request.
func (s *Service) VerifyPayment(ctx context.Context, in Verification) (result VerifyResult, err error) {
	ctx, span := otel.Tracer("donation.Service").Start(ctx, "DonationService.VerifyPayment")
	outcome := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("donation.order_id", in.OrderID),
			attribute.String("donation.payment_id", in.PaymentID),
			attribute.String("donation.result", outcome),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		obs.Count(obs.DonationVerifyTotal, outcome)
	}()

	in = s.normaliseVerification(in)
	if verr := validateVerification(in); verr != nil {
		outcome = "invalid"
		return VerifyResult{}, verr
	}
	if !payment.VerifySignature(s.KeySecret, in.OrderID, in.PaymentID, in.Signature) {
		outcome = "signature_mismatch"
		s.Logger.Warn().
			Str("order_id", in.OrderID).
			Str("payment_id", in.PaymentID).
			Msg("donation_signature_mismatch")
		return VerifyResult{}, &SignatureVerificationError{OrderID: in.OrderID, PaymentID: in.PaymentID}
	}

	// The donor has paid at this point. Recording must outlive a client that
	// disconnects mid-request.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout())
	defer cancel()

	ran := false
	record := func(ctx context.Context) error {
		ran = true
		result, err = s.record(ctx, in, events.TopicDonationVerified)
		return err
	}
	if s.Locker != nil {
		lockErr := s.Locker.WithLock(persistCtx, "donation:verify:"+in.PaymentID, s.lockTTL(), record)
		if !ran {
			s.Logger.Warn().Err(lockErr).Str("payment_id", in.PaymentID).Msg("donation_verify_lock_unavailable")
			_ = record(persistCtx)
		}
	} else {
		_ = record(persistCtx)
	}

	var persistErr *PersistenceError
	switch {
	case err == nil:
		outcome = "success"
	case errors.Is(err, ErrDuplicateTransaction):
		outcome = "duplicate"
	case errors.As(err, &persistErr):
		outcome = "persistence_error"
	}
	return result, err
}

// Reconcile records a verified payment whose synchronous insert failed. A
// record that already exists counts as success.
func (s *Service) Reconcile(ctx context.Context, in Verification) error {
	in = s.normaliseVerification(in)
	_, err := s.insertVerified(ctx, in, events.TopicDonationReconciled)
	switch {
	case err == nil:
		obs.Count(obs.DonationReconcileTotal, "recorded")
		s.Logger.Info().Str("payment_id", in.PaymentID).Str("order_id", in.OrderID).Msg("donation_reconciled")
		return nil
	case errors.Is(err, ErrDuplicateTransaction):
		obs.Count(obs.DonationReconcileTotal, "already_recorded")
		return nil
	default:
		obs.Count(obs.DonationReconcileTotal, "retry")
		s.Logger.Warn().Err(err).Str("payment_id", in.PaymentID).Str("order_id", in.OrderID).Msg("donation_reconcile_retry")
		return err
	}
}

// Get returns a single donation.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.Store.GetDonation(ctx, id)
}

// List returns a page of donations and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, int64, error) {
	switch filter.Status {
	case "", StatusPending, StatusSuccess, StatusFailed:
	default:
		return nil, 0, &ValidationError{Field: "status", Message: "status must be pending, success or failed"}
	}
	return s.Store.ListDonations(ctx, filter)
}

func (s *Service) record(ctx context.Context, in Verification, topic string) (VerifyResult, error) {
	saved, err := s.insertVerified(ctx, in, topic)
	if err == nil {
		return VerifyResult{PaymentID: saved.TransactionID, Amount: saved.Amount, Currency: saved.Currency, Record: saved}, nil
	}
	if errors.Is(err, ErrDuplicateTransaction) {
		s.Logger.Info().Str("payment_id", in.PaymentID).Str("order_id", in.OrderID).Msg("donation_duplicate_callback")
		return s.existing(ctx, in), err
	}
	return VerifyResult{}, s.persistenceFailure(ctx, in, err)
}

// existing describes the record already stored for in's payment. It is empty
// when the lookup fails or the record belongs to another order.
func (s *Service) existing(ctx context.Context, in Verification) VerifyResult {
	rec, err := s.Store.GetDonationByTransaction(ctx, in.PaymentID)
	if err != nil {
		s.Logger.Warn().Err(err).Str("payment_id", in.PaymentID).Msg("donation_duplicate_lookup_failed")
		return VerifyResult{}
	}
	if rec.OrderID != in.OrderID {
		return VerifyResult{}
	}
	return VerifyResult{PaymentID: rec.TransactionID, Amount: rec.Amount, Currency: rec.Currency, Record: rec}
}

func (s *Service) insertVerified(ctx context.Context, in Verification, topic string) (Record, error) {
	if s.Store == nil {
		return Record{}, ErrStoreUnavailable
	}
	order, err := s.resolveOrder(ctx, in.OrderID)
	if err != nil {
		return Record{}, fmt.Errorf("resolve order: %w", err)
	}
	rec, err := s.buildRecord(in, order)
	if err != nil {
		return Record{}, err
	}
	if in.Amount != 0 && in.Amount != rec.Amount {
		s.Logger.Warn().
			Str("payment_id", in.PaymentID).
			Str("order_id", in.OrderID).
			Int64("claimed_amount", in.Amount).
			Int64("order_amount", rec.Amount).
			Msg("donation_amount_mismatch")
	}
	saved, err := s.Store.InsertDonation(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	s.afterRecorded(ctx, saved, topic)
	return saved, nil
}

// resolveOrder prefers the order cached at creation time and falls back to the gateway.
func (s *Service) resolveOrder(ctx context.Context, orderID string) (payment.Order, error) {
	if s.Orders != nil {
		order, ok, err := s.Orders.Lookup(ctx, orderID)
		if err != nil {
			s.Logger.Warn().Err(err).Str("order_id", orderID).Msg("donation_order_cache_lookup_failed")
		}
		if ok && order.ID == orderID && order.Amount > 0 {
			return order, nil
		}
	}
	if s.Gateway == nil {
		return payment.Order{}, errors.New("gateway not configured")
	}
	order, err := s.Gateway.FetchOrder(ctx, orderID)
	if err != nil {
		return payment.Order{}, err
	}
	if order.ID != orderID {
		return payment.Order{}, fmt.Errorf("gateway returned order %q for %q", order.ID, orderID)
	}
	return order, nil
}

func (s *Service) buildRecord(in Verification, order payment.Order) (Record, error) {
	if order.Amount <= 0 || order.Amount%100 != 0 {
		return Record{}, fmt.Errorf("order %s has unexpected amount %d", order.ID, order.Amount)
	}
	currency := strings.ToUpper(strings.TrimSpace(order.Currency))
	if currency == "" {
		currency = s.currency()
	}
	return Record{
		Amount:        order.Amount / 100,
		Currency:      currency,
		DonationType:  DonationTypeOneTime,
		DonorName:     in.DonorName,
		DonorEmail:    in.DonorEmail,
		DonorPhone:    in.DonorPhone,
		Purpose:       in.Purpose,
		Notes:         anonymousNote(in.IsAnonymous),
		IsAnonymous:   in.IsAnonymous,
		PaymentStatus: StatusSuccess,
		PaymentMethod: PaymentMethodGateway,
		TransactionID: in.PaymentID,
		OrderID:       in.OrderID,
	}, nil
}

func (s *Service) afterRecorded(ctx context.Context, rec Record, topic string) {
	obs.Add(obs.DonationAmountTotal, float64(rec.Amount), rec.Currency)
	s.Logger.Info().
		Str("donation_id", rec.ID.String()).
		Str("payment_id", rec.TransactionID).
		Str("order_id", rec.OrderID).
		Int64("amount", rec.Amount).
		Str("currency", rec.Currency).
		Bool("is_anonymous", rec.IsAnonymous).
		Msg("donation_verified")
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, rec.ID, eventPayload(rec)); err != nil {
		s.Logger.Warn().Err(err).Str("donation_id", rec.ID.String()).Str("topic", topic).Msg("donation_event_failed")
	}
}

// persistenceFailure logs everything needed for manual reconciliation and
// schedules an automatic retry.
func (s *Service) persistenceFailure(ctx context.Context, in Verification, cause error) error {
	perr := &PersistenceError{PaymentID: in.PaymentID, OrderID: in.OrderID, Err: cause}
	s.Logger.Error().
		Err(cause).
		Str("payment_id", in.PaymentID).
		Str("order_id", in.OrderID).
		Str("donor_name", in.DonorName).
		Str("donor_email", in.DonorEmail).
		Int64("claimed_amount", in.Amount).
		Str("purpose", in.Purpose).
		Msg("donation_persist_failed")

	if s.ReconcileQueue == nil {
		s.logReconciliationRequired(in, errors.New("reconcile queue not configured"))
		return perr
	}
	pending := in
	pending.Signature = ""
	payload, err := json.Marshal(pending)
	if err != nil {
		s.logReconciliationRequired(in, err)
		return perr
	}
	err = s.ReconcileQueue.Enqueue(ctx, queue.Task{
		Kind:           ReconcileKind,
		Payload:        payload,
		IdempotencyKey: in.PaymentID,
		MaxAttempts:    s.Rules.ReconcileAttempts,
	})
	if err != nil {
		s.logReconciliationRequired(in, err)
		return perr
	}
	perr.Queued = true
	obs.Count(obs.DonationReconcileTotal, "queued")
	return perr
}

func (s *Service) logReconciliationRequired(in Verification, err error) {
	obs.Count(obs.DonationReconcileTotal, "manual")
	s.Logger.Error().
		Err(err).
		Str("payment_id", in.PaymentID).
		Str("order_id", in.OrderID).
		Str("donor_name", in.DonorName).
		Str("donor_email", in.DonorEmail).
		Str("donor_phone", in.DonorPhone).
		Int64("claimed_amount", in.Amount).
		Str("purpose", in.Purpose).
		Bool("is_anonymous", in.IsAnonymous).
		Msg("donation_reconciliation_required")
}

func (s *Service) normaliseVerification(in Verification) Verification {
	in.PaymentID = strings.TrimSpace(in.PaymentID)
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.Signature = strings.TrimSpace(in.Signature)
	in.DonorName = strings.TrimSpace(in.DonorName)
	in.DonorEmail = strings.TrimSpace(in.DonorEmail)
	in.DonorPhone = strings.TrimSpace(in.DonorPhone)
	in.Purpose = strings.TrimSpace(in.Purpose)
	if in.DonorName == "" {
		in.DonorName = "Anonymous"
	}
	if in.Purpose == "" {
		in.Purpose = s.Rules.DefaultPurpose
	}
	return in
}

func normaliseIntent(in Intent) Intent {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Purpose = strings.TrimSpace(in.Purpose)
	return in
}

func (s *Service) newReceipt() string {
	prefix := strings.TrimSpace(s.Rules.ReceiptPrefix)
	if prefix == "" {
		prefix = "rcpt"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	// gateway receipts are capped at 40 characters
	receipt := fmt.Sprintf("%s_%d_%s", prefix, s.now().Unix(), suffix)
	if len(receipt) > 40 {
		receipt = receipt[:40]
	}
	return receipt
}

func (s *Service) currency() string {
	if c := strings.ToUpper(strings.TrimSpace(s.Rules.Currency)); c != "" {
		return c
	}
	return "INR"
}

func (s *Service) lockTTL() time.Duration {
	if s.Rules.VerifyLockTTL > 0 {
		return s.Rules.VerifyLockTTL
	}
	return 30 * time.Second
}

func (s *Service) persistTimeout() time.Duration {
	if s.Rules.PersistTimeout > 0 {
		return s.Rules.PersistTimeout
	}
	return 20 * time.Second
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func eventPayload(rec Record) map[string]any {
	return map[string]any{
		"donation_id":    rec.ID.String(),
		"transaction_id": rec.TransactionID,
		"order_id":       rec.OrderID,
		"amount":         rec.Amount,
		"currency":       rec.Currency,
		"donor_name":     rec.DonorName,
		"email":          rec.DonorEmail,
		"purpose":        rec.Purpose,
		"is_anonymous":   rec.IsAnonymous,
	}
}
