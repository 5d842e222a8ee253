package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-donasi/internal/events"
)

const (
	// TaskDonationReceipt is the asynq task type for receipt emails.
	TaskDonationReceipt = "donation:receipt"
	// ReceiptQueue is the asynq queue receipts are placed on.
	ReceiptQueue = "receipts"
)

// TaskEnqueuer is the subset of *asynq.Client used here.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ReceiptPayload identifies the donation a receipt is for.
type ReceiptPayload struct {
	DonationID uuid.UUID `json:"donation_id"`
}

// ReceiptEnqueuer turns recorded-donation events into receipt tasks.
type ReceiptEnqueuer struct {
	Client    TaskEnqueuer
	Enabled   bool
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// Notify implements events.Notifier.
func (e ReceiptEnqueuer) Notify(ctx context.Context, ev events.Event) error {
	if !e.Enabled || e.Client == nil {
		return nil
	}
	if !slices.Contains(events.RecordedTopics(), ev.Topic) {
		return nil
	}
	payload, err := json.Marshal(ReceiptPayload{DonationID: ev.AggregateID})
	if err != nil {
		return err
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retention := e.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	task := asynq.NewTask(TaskDonationReceipt, payload)
	_, err = e.Client.EnqueueContext(ctx, task,
		asynq.Queue(ReceiptQueue),
		asynq.TaskID("receipt:"+ev.AggregateID.String()),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.Retention(retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue receipt: %w", err)
	}
	return nil
}
