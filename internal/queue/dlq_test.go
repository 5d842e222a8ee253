package queue_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/queue"
)

func failingWorker(w queue.Worker, reason string) queue.Worker {
	w.Kind = reconcileKind
	w.PollInterval = 5 * time.Millisecond
	w.Logger = zerolog.New(io.Discard)
	w.Handler = func(context.Context, queue.Task) error { return errors.New(reason) }
	return w
}

func TestExhaustedTaskIsParked(t *testing.T) {
	client := newClient(t)
	store := newMemoryStore()
	runWorker(t, failingWorker(queue.Worker{
		R:                 client,
		Prefix:            "park",
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		Store:             store,
	}, "insert donation: connection refused"))

	enq := queue.Enqueuer{R: client, Prefix: "park", DedupTTL: time.Minute}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{
		Kind: reconcileKind, Payload: []byte(`{"payment_id":"pay_9"}`), IdempotencyKey: "pay_9", MaxAttempts: 2,
	}))

	require.Eventually(t, func() bool {
		n, err := store.Count(context.Background(), reconcileKind)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	parked := store.snapshot()
	require.Len(t, parked, 1)
	dl := parked[0]
	require.Equal(t, reconcileKind, dl.Kind)
	require.Equal(t, "pay_9", dl.IdempotencyKey)
	require.Equal(t, 2, dl.Attempts)
	require.NotNil(t, dl.LastError)
	require.Contains(t, *dl.LastError, "connection refused")
	require.Contains(t, string(dl.Payload), `"max_attempts":2`)

	// the dedup key is released so the payment can be queued again
	n, err := client.Exists(context.Background(), "park:dedup:donation-reconcile:pay_9").Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestExhaustedTaskFallsBackToRedisList(t *testing.T) {
	client := newClient(t)
	runWorker(t, failingWorker(queue.Worker{
		R:                 client,
		Prefix:            "nostore",
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
	}, "still failing"))

	enq := queue.Enqueuer{R: client, Prefix: "nostore"}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{
		Kind: reconcileKind, Payload: []byte(`{"payment_id":"pay_1"}`), IdempotencyKey: "pay_1", MaxAttempts: 1,
	}))

	require.Eventually(t, func() bool {
		n, err := client.LLen(context.Background(), "nostore:donation-reconcile:dlq").Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPanickingHandlerCountsAsFailure(t *testing.T) {
	client := newClient(t)
	store := newMemoryStore()
	w := failingWorker(queue.Worker{R: client, Prefix: "panic", VisibilityTimeout: time.Second, Store: store}, "")
	w.Handler = func(context.Context, queue.Task) error { panic("nil order") }
	runWorker(t, w)

	enq := queue.Enqueuer{R: client, Prefix: "panic"}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: reconcileKind, Payload: []byte("{}"), MaxAttempts: 1}))

	require.Eventually(t, func() bool {
		n, _ := store.Count(context.Background(), reconcileKind)
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Contains(t, *store.snapshot()[0].LastError, "nil order")
}
