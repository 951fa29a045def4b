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

// State represents the current breaker state.
type State int

const (
	// Closed passes every call and counts outcomes.
	Closed State = iota
	// Open refuses calls until the cool-off expires.
	Open
	// HalfOpen lets a single probe call through.
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

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// Target labels metrics and logs, e.g. "downstream" or "rates".
	Target string
	// MinCalls is how many outcomes are counted before the ratio applies.
	MinCalls int
	// FailureRatio opens the breaker once failures/calls reaches it.
	FailureRatio float64
	// Cooloff is how long the breaker stays open before probing.
	Cooloff time.Duration
	Logger  *zerolog.Logger
}

// Breaker stops calls to a failing dependency so a webhook can go straight
// to the fallback log instead of waiting out a timeout per delivery.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	calls    int
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	if cfg.MinCalls <= 0 {
		cfg.MinCalls = 1
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.Cooloff <= 0 {
		cfg.Cooloff = 30 * time.Second
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	b := &Breaker{cfg: cfg, state: Closed}
	b.recordState()
	return b
}

// Target returns the dependency label.
func (b *Breaker) Target() string {
	return b.cfg.Target
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.Cooloff {
		return HalfOpen
	}
	return b.state
}

// Execute runs fn unless the breaker is open and records the outcome.
// Errors for which ignore returns true count as successes.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error, ignore func(error) bool) error {
	probe, ok := b.admit(ctx)
	if !ok {
		return ErrOpenCircuit
	}
	err := fn(ctx)
	b.record(ctx, probe, err == nil || (ignore != nil && ignore(err)))
	return err
}

func (b *Breaker) admit(ctx context.Context) (probe bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, true
	case Open:
		if time.Since(b.openedAt) < b.cfg.Cooloff {
			return false, false
		}
		b.transition(ctx, HalfOpen)
	}
	if b.probing {
		return false, false
	}
	b.probing = true
	return true, true
}

func (b *Breaker) record(ctx context.Context, probe, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if success {
			b.transition(ctx, Closed)
		} else {
			b.transition(ctx, Open)
		}
		return
	}
	if b.state != Closed {
		return
	}
	b.calls++
	if !success {
		b.failures++
	}
	if b.calls < b.cfg.MinCalls {
		return
	}
	if float64(b.failures)/float64(b.calls) >= b.cfg.FailureRatio {
		b.transition(ctx, Open)
		return
	}
	// Halve the window so old outcomes fade.
	if b.calls > b.cfg.MinCalls*2 {
		b.calls = (b.calls + 1) / 2
		b.failures = (b.failures + 1) / 2
	}
}

func (b *Breaker) transition(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.calls, b.failures = 0, 0
	switch next {
	case Open:
		b.openedAt = time.Now()
		BreakerOpenedTotal.WithLabelValues(b.cfg.Target).Inc()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.recordState()
	BreakerTransitions.WithLabelValues(b.cfg.Target, prev.String(), next.String()).Inc()

	logger := b.cfg.Logger
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		logger = ctxLogger
	}
	evt := logger.Warn()
	if next == Closed {
		evt = logger.Info()
	}
	evt = evt.Str("target", b.cfg.Target).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) recordState() {
	BreakerState.WithLabelValues(b.cfg.Target).Set(float64(b.state))
}
