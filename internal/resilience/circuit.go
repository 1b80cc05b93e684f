package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var breakerNopLogger = zerolog.Nop()

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen admits a single trial request.
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
	default:
		return "unknown"
	}
}

func (s State) gauge() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

// Breaker trips when the failure ratio over the observed window reaches the
// threshold. A nil *Breaker admits every request.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	minRequests  int
	failureRatio float64
	openedAt     time.Time
	openFor      time.Duration
	trial        bool
	target       string
	logger       *zerolog.Logger
	now          func() time.Time
}

// NewBreaker constructs a breaker that opens once at least minRequests
// outcomes were seen and failures make up failureRatio of them.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		now:          time.Now,
	}
}

// WithTarget sets the dependency label used in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishStateLocked()
	return b
}

// WithLogger configures the logger used for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &logger
	return b
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// Allow reports whether a request may be sent. Once the cool-off has elapsed
// the breaker admits exactly one trial request until its outcome is reported.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked(ctx)
	switch b.state {
	case Open:
		return false
	case HalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return true
	}
}

// Report records the outcome of an admitted request.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}
	total := b.failures + b.successes
	if total < b.minRequests {
		return
	}
	if float64(b.failures)/float64(total) >= b.failureRatio {
		b.moveLocked(ctx, Open)
		return
	}
	if total > b.minRequests*2 {
		// halve the window so old outcomes fade
		b.successes = (b.successes + 1) / 2
		b.failures = (b.failures + 1) / 2
	}
}

// State returns the current state. An open breaker whose cool-off has elapsed
// reports HalfOpen, so readiness recovers without waiting for traffic.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked(context.Background())
	return b.state
}

// Target returns the dependency label used for telemetry.
func (b *Breaker) Target() string {
	if b == nil {
		return "default"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.targetLabel()
}

func (b *Breaker) expireLocked(ctx context.Context) {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.openFor {
		b.moveLocked(ctx, HalfOpen)
	}
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.failures, b.successes = 0, 0
	b.trial = false
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.state = next
	b.publishStateLocked()
	if prev == next {
		return
	}

	label := b.targetLabel()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	}
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}
	evt := b.loggerFor(ctx).Info().
		Str("target", label).
		Str("from_state", prev.String()).
		Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishStateLocked() {
	if BreakerState != nil {
		BreakerState.WithLabelValues(b.targetLabel()).Set(b.state.gauge())
	}
}

func (b *Breaker) targetLabel() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

// loggerFor prefers the breaker's own logger; zerolog.Ctx never returns nil, so
// a context logger is only used when it is enabled.
func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if b.logger != nil {
		return b.logger
	}
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		return ctxLogger
	}
	return &breakerNopLogger
}

// Backoff returns the exponential delay before retry attempt+1. jitterPct is a
// fraction, 0.2 spreads the delay by ±20%.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * jitterPct
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
