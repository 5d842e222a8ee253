package donation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/backend-donasi/internal/queue"
)

// HandleReconcileTask is the queue.Worker handler for ReconcileKind tasks.
func (s *Service) HandleReconcileTask(ctx context.Context, t queue.Task) error {
	var in Verification
	if err := json.Unmarshal(t.Payload, &in); err != nil {
		s.Logger.Error().Err(err).Str("payment_id", t.IdempotencyKey).Msg("donation_reconcile_payload_invalid")
		return fmt.Errorf("decode reconcile payload: %w", err)
	}
	err := s.Reconcile(ctx, in)
	if err != nil && t.LastAttempt() {
		s.logReconciliationRequired(in, err)
	}
	return err
}
