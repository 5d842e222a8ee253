package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/common"
	"github.com/noah-isme/backend-donasi/internal/donation"
	"github.com/noah-isme/backend-donasi/internal/obs"
)

// DonationReader loads and flags donation records for receipts.
type DonationReader interface {
	GetDonation(ctx context.Context, id uuid.UUID) (donation.Record, error)
	MarkReceiptSent(ctx context.Context, id uuid.UUID) error
}

// Locker serialises receipt sends for one donation.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// ReceiptWorker handles TaskDonationReceipt tasks.
type ReceiptWorker struct {
	Donations DonationReader
	Mail      common.Mailer
	Renderer  ReceiptRenderer
	Locker    Locker
	LockTTL   time.Duration
	Logger    zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (w ReceiptWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload ReceiptPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.DonationID == uuid.Nil {
		obs.Count(obs.ReceiptTotal, "invalid")
		return fmt.Errorf("receipt: bad payload: %w", asynq.SkipRetry)
	}
	if w.Donations == nil || w.Mail == nil {
		return errors.New("receipt: worker not configured")
	}
	if w.Locker == nil {
		return w.send(ctx, payload.DonationID)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, "receipt:"+payload.DonationID.String(), ttl, func(ctx context.Context) error {
		return w.send(ctx, payload.DonationID)
	})
}

func (w ReceiptWorker) send(ctx context.Context, id uuid.UUID) error {
	rec, err := w.Donations.GetDonation(ctx, id)
	if errors.Is(err, donation.ErrNotFound) {
		obs.Count(obs.ReceiptTotal, "missing")
		return fmt.Errorf("receipt: donation %s: %w", id, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if rec.ReceiptSent {
		obs.Count(obs.ReceiptTotal, "already_sent")
		return nil
	}
	to := strings.TrimSpace(rec.DonorEmail)
	if to == "" {
		obs.Count(obs.ReceiptTotal, "no_recipient")
		w.Logger.Info().Str("donation_id", id.String()).Msg("receipt_skipped_no_email")
		return nil
	}
	subject, body, err := w.Renderer.Render(rec)
	if err != nil {
		return err
	}
	if err := w.Mail.Send(ctx, common.Message{To: to, Subject: subject, HTML: body}); err != nil {
		obs.Count(obs.ReceiptTotal, "send_failed")
		w.Logger.Warn().Err(err).Str("donation_id", id.String()).Msg("receipt_send_failed")
		return err
	}
	if err := w.Donations.MarkReceiptSent(ctx, id); err != nil {
		// the email went out; a retry would send it twice
		w.Logger.Error().Err(err).Str("donation_id", id.String()).Msg("receipt_mark_failed")
	}
	obs.Count(obs.ReceiptTotal, "sent")
	w.Logger.Info().Str("donation_id", id.String()).Str("payment_id", rec.TransactionID).Msg("receipt_sent")
	return nil
}
