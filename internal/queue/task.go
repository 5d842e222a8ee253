package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultMaxAttempts = 10

// Task is one unit of background work.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is the delivery number the handler is running (1-based).
	Attempt int
}

// LastAttempt reports whether a failure of this delivery parks the task.
func (t Task) LastAttempt() bool {
	return t.MaxAttempts > 0 && t.Attempt >= t.MaxAttempts
}

// taskMessage is the JSON envelope stored in the Redis sets and, for parked
// tasks, in queue_dlq.payload.
type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

func (m taskMessage) task() Task {
	return Task{Kind: m.Kind, Payload: m.Payload, IdempotencyKey: m.Key, MaxAttempts: m.MaxAttempts, Attempt: m.Attempt}
}

func (m taskMessage) encode() string {
	raw, _ := json.Marshal(m)
	return string(raw)
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	err := json.Unmarshal([]byte(raw), &msg)
	return msg, err
}

// Enqueuer publishes tasks into per-kind Redis sorted sets scored by due time.
type Enqueuer struct {
	R        redis.Cmdable
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue schedules t. A task carrying an IdempotencyKey is accepted once per
// DedupTTL (or until it completes); repeats return nil without enqueueing.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind must match [a-z0-9_:-]+")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = defaultMaxAttempts
	}
	k := keysFor(e.Prefix, kind)
	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := e.R.SetNX(ctx, k.dedup(msg.Key), "1", ttl).Result()
		if err != nil || !fresh {
			return err
		}
	}
	if err := e.R.ZAdd(ctx, k.ready, redis.Z{Score: float64(msg.AvailableAt), Member: msg.encode()}).Err(); err != nil {
		return err
	}
	QueueEnqueuedTotal.WithLabelValues(kind).Inc()
	return nil
}

// Depth returns the ready and in-flight counts for kind.
func (e Enqueuer) Depth(ctx context.Context, kind string) (ready, processing int64, err error) {
	if e.R == nil {
		return 0, 0, errors.New("queue: redis client not configured")
	}
	k := keysFor(e.Prefix, sanitizeKind(kind))
	pipe := e.R.Pipeline()
	readyCmd := pipe.ZCard(ctx, k.ready)
	processingCmd := pipe.ZCard(ctx, k.processing)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	return readyCmd.Val(), processingCmd.Val(), nil
}

// sanitizeKind returns kind when it only uses [a-z0-9_:-], else "".
func sanitizeKind(kind string) string {
	for _, c := range kind {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

// keys names the Redis structures of one kind. An empty prefix falls back to
// "queue".
type keys struct {
	prefix, kind string
	ready        string
	processing   string
	dlq          string
}

func keysFor(prefix, kind string) keys {
	if prefix == "" {
		return keys{
			prefix: "queue", kind: kind,
			ready:      "queue:" + kind,
			processing: "queue:" + kind + ":processing",
			dlq:        "queue:" + kind + ":dlq",
		}
	}
	return keys{
		prefix: prefix, kind: kind,
		ready:      prefix + ":queue:" + kind,
		processing: prefix + ":" + kind + ":processing",
		dlq:        prefix + ":" + kind + ":dlq",
	}
}

func (k keys) dedup(key string) string {
	return k.prefix + ":dedup:" + k.kind + ":" + key
}

func queueKey(prefix, kind string) string { return keysFor(prefix, kind).ready }

func dedupKey(prefix, kind, key string) string { return keysFor(prefix, kind).dedup(key) }
