package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/resilience"
)

// claimDue pops the earliest ready member whose score is not after ARGV[1].
var claimDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
return due[1]
`)

// reclaimExpired moves up to ARGV[2] in-flight members whose visibility
// deadline passed back to the ready set, due immediately.
var reclaimExpired = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(expired) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('ZADD', KEYS[2], ARGV[1], member)
end
return #expired
`)

// Handler runs one delivery. A nil error acks the task.
type Handler func(ctx context.Context, t Task) error

// Worker consumes one kind. Each delivery is leased for VisibilityTimeout:
// the handler context is cancelled at the deadline and a lease nobody acked
// is moved back to the ready set.
type Worker struct {
	R                 redis.Cmdable
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           Handler
	RetryBase         time.Duration
	RetryJitter       float64
	// Store receives tasks that exhausted MaxAttempts. Without one they are
	// pushed onto the kind's Redis dlq list.
	Store        Store
	Logger       zerolog.Logger
	PollInterval time.Duration
}

func (w Worker) withDefaults() Worker {
	if w.Concurrency <= 0 {
		w.Concurrency = 1
	}
	if w.VisibilityTimeout <= 0 {
		w.VisibilityTimeout = 30 * time.Second
	}
	if w.RetryBase <= 0 {
		w.RetryBase = 200 * time.Millisecond
	}
	if w.PollInterval <= 0 {
		w.PollInterval = 100 * time.Millisecond
	}
	return w
}

// Run blocks until ctx is cancelled, then waits for in-flight deliveries.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil || w.Handler == nil {
		return errors.New("queue: worker needs a redis client and a handler")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	w = w.withDefaults()
	k := keysFor(w.Prefix, kind)
	log := w.Logger.With().Str("kind", kind).Logger()

	reclaimEvery := max(min(w.VisibilityTimeout/2, time.Second), time.Millisecond)
	reclaim := time.NewTicker(reclaimEvery)
	defer reclaim.Stop()

	slots := make(chan struct{}, w.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reclaim.C:
			w.reclaim(ctx, k, log)
			continue
		case slots <- struct{}{}:
		}

		raw, err := claimDue.Run(ctx, w.R, []string{k.ready}, strconv.FormatInt(time.Now().UnixNano(), 10)).Text()
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, redis.Nil) {
				log.Warn().Err(err).Msg("queue_claim_failed")
			}
			if !sleepCtx(ctx, w.PollInterval) {
				return nil
			}
			continue
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			<-slots
			log.Error().Err(err).Msg("queue_message_undecodable")
			continue
		}
		msg.Kind = kind
		msg.Attempt++
		leased := msg.encode()
		deadline := time.Now().Add(w.VisibilityTimeout)
		if err := w.R.ZAdd(ctx, k.processing, redis.Z{Score: float64(deadline.UnixNano()), Member: leased}).Err(); err != nil {
			<-slots
			// put the claimed member back untouched
			_ = w.R.ZAdd(context.WithoutCancel(ctx), k.ready, redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("queue_lease_failed")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.deliver(ctx, k, leased, msg, deadline, log)
		}()
	}
}

func (w Worker) deliver(ctx context.Context, k keys, leased string, msg taskMessage, deadline time.Time, log zerolog.Logger) {
	jobCtx, cancel := context.WithDeadline(ctx, deadline)
	err := w.invoke(jobCtx, msg.task())
	cancel()

	// the lease outlives worker shutdown, so bookkeeping must too
	bg := context.WithoutCancel(ctx)
	owned, remErr := w.R.ZRem(bg, k.processing, leased).Result()
	if remErr != nil {
		log.Warn().Err(remErr).Msg("queue_release_failed")
	}
	if err == nil {
		if msg.Key != "" {
			_ = w.R.Del(bg, k.dedup(msg.Key)).Err()
		}
		QueueProcessedTotal.WithLabelValues(k.kind, "ok").Inc()
		return
	}
	if remErr == nil && owned == 0 {
		// reclaimed after the deadline; the redelivery owns the task now
		log.Debug().Err(err).Int("attempt", msg.Attempt).Msg("queue_lease_expired")
		return
	}
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		w.deadLetter(bg, k, msg, err, log)
		return
	}
	delay := resilience.Backoff(w.RetryBase, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	if zerr := w.R.ZAdd(bg, k.ready, redis.Z{Score: float64(msg.AvailableAt), Member: msg.encode()}).Err(); zerr != nil {
		log.Error().Err(zerr).Str("key", msg.Key).Msg("queue_retry_lost")
		return
	}
	QueueProcessedTotal.WithLabelValues(k.kind, "retry").Inc()
	log.Warn().Err(err).Str("key", msg.Key).Int("attempt", msg.Attempt).Dur("retry_in", delay).Msg("queue_task_retry")
}

// invoke runs the handler, turning a panic into an ordinary failure.
func (w Worker) invoke(ctx context.Context, t Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("queue: handler panic: %v", p)
		}
	}()
	return w.Handler(ctx, t)
}

func (w Worker) deadLetter(ctx context.Context, k keys, msg taskMessage, cause error, log zerolog.Logger) {
	QueueProcessedTotal.WithLabelValues(k.kind, "dead").Inc()
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Key)).Err()
	}
	payload := []byte(msg.encode())
	if w.Store != nil {
		reason := cause.Error()
		id, err := w.Store.Park(ctx, DeadLetter{
			Kind:           k.kind,
			IdempotencyKey: msg.Key,
			Payload:        payload,
			Attempts:       msg.Attempt,
			LastError:      &reason,
		})
		if err == nil {
			log.Error().Err(cause).Str("dlq_id", id.String()).Str("key", msg.Key).Int("attempts", msg.Attempt).Msg("queue_task_dead")
			return
		}
		log.Error().Err(err).Str("key", msg.Key).Msg("queue_park_failed")
	}
	if err := w.R.LPush(ctx, k.dlq, payload).Err(); err != nil {
		log.Error().Err(err).Str("key", msg.Key).Msg("queue_task_dropped")
		return
	}
	log.Error().Err(cause).Str("key", msg.Key).Int("attempts", msg.Attempt).Msg("queue_task_dead")
}

func (w Worker) reclaim(ctx context.Context, k keys, log zerolog.Logger) {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	n, err := reclaimExpired.Run(ctx, w.R, []string{k.processing, k.ready}, now, 100).Int()
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("queue_reclaim_failed")
		return
	}
	if n > 0 {
		log.Warn().Int("count", n).Msg("queue_leases_reclaimed")
	}
	if ready, err := w.R.ZCard(ctx, k.ready).Result(); err == nil {
		QueueDepth.WithLabelValues(k.kind).Set(float64(ready))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
