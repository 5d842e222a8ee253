package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position. Its numeric value is exported as the
// breaker_state gauge.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker trips when the failure ratio over the most recent calls reaches a
// threshold. After the cool-off it lets exactly one trial request through; the trial
// outcome decides between closing and re-opening.
type Breaker struct {
	mu        sync.Mutex
	state     State
	window    []bool // true marks a failure
	next      int
	filled    int
	minCalls  int
	ratio     float64
	openFor   time.Duration
	openedAt  time.Time
	probing   bool
	target    string
	logger    zerolog.Logger
	hasLogger bool
	now       func() time.Time
}

// NewBreaker builds a closed breaker. It evaluates the failure ratio over the
// last 2*minCalls outcomes once at least minCalls have been seen.
func NewBreaker(minCalls int, failureRatio float64, openFor time.Duration) *Breaker {
	minCalls = max(minCalls, 1)
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		window:   make([]bool, 2*minCalls),
		minCalls: minCalls,
		ratio:    min(failureRatio, 1),
		openFor:  openFor,
		now:      time.Now,
	}
}

// WithTarget names the upstream in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishStateLocked()
	return b
}

// WithLogger sets the logger used for state transitions.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	b.hasLogger = true
	return b
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by Report.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// Report records the outcome of an allowed call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.window[b.next] = !success
	b.next = (b.next + 1) % len(b.window)
	b.filled = min(b.filled+1, len(b.window))
	if b.filled < b.minCalls {
		return
	}
	failures := 0
	for i := range b.filled {
		if b.window[i] {
			failures++
		}
	}
	if float64(failures)/float64(b.filled) >= b.ratio {
		b.moveLocked(ctx, Open)
	}
}

func (b *Breaker) moveLocked(ctx context.Context, to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.next, b.filled = 0, 0
	clear(b.window)
	if to == Open {
		b.openedAt = b.now()
	}
	b.publishStateLocked()

	label := b.label()
	BreakerTransitions.WithLabelValues(label, from.String(), to.String()).Inc()
	if to == Open {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}
	evt := b.loggerFor(ctx).Info().Str("target", label).Str("from", from.String()).Str("to", to.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishStateLocked() {
	BreakerState.WithLabelValues(b.label()).Set(float64(b.state))
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if b.hasLogger {
		return &b.logger
	}
	return zerolog.Ctx(context.Background())
}
