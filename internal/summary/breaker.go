package summary

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [BreakerStore.Append] while the breaker is
// open and the reset timeout has not yet elapsed.
var ErrBreakerOpen = errors.New("summary: store breaker is open")

// BreakerState is the operating mode of a [BreakerStore].
type BreakerState int

const (
	// BreakerClosed forwards every append.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects appends immediately with [ErrBreakerOpen] until the
	// reset timeout elapses.
	BreakerOpen

	// BreakerHalfOpen allows a limited number of probe appends; their outcome
	// decides whether the breaker closes or re-opens.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [BreakerStore]. Zero-value fields
// take the defaults documented per field.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed appends before the
	// breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing the
	// store again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe appends allowed in the half-open
	// state. Default: 3.
	HalfOpenMax int
}

// BreakerStore wraps a [Store] with a three-state circuit breaker so a stuck
// or misconfigured backend cannot slow every call's finalization down to its
// timeout. An open breaker fails appends fast; rows rejected while open are
// lost, matching the best-effort contract of the summary write.
//
// Safe for concurrent use.
type BreakerStore struct {
	inner Store
	log   *slog.Logger

	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

var _ Store = (*BreakerStore)(nil)

// NewBreakerStore wraps inner with breaker behaviour per cfg.
func NewBreakerStore(inner Store, cfg BreakerConfig, log *slog.Logger) *BreakerStore {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &BreakerStore{
		inner:        inner,
		log:          log,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        BreakerClosed,
	}
}

// Append implements [Store]. In the open state it returns [ErrBreakerOpen]
// without touching the wrapped store.
func (b *BreakerStore) Append(ctx context.Context, row Row) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		b.log.Info("summary store breaker half-open")

	case BreakerHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMax {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	inHalfOpen := b.state == BreakerHalfOpen
	if inHalfOpen {
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := b.inner.Append(ctx, row)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure(inHalfOpen)
	} else {
		b.recordSuccess(inHalfOpen)
	}
	return err
}

// recordFailure must be called with b.mu held.
func (b *BreakerStore) recordFailure(inHalfOpen bool) {
	b.lastFailure = time.Now()

	if inHalfOpen {
		b.halfOpenFails++
		// Any failure during probing re-opens immediately.
		b.state = BreakerOpen
		b.consecutiveFail = b.maxFailures
		b.log.Warn("summary store breaker re-opened")
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures {
		b.state = BreakerOpen
		b.log.Warn("summary store breaker opened",
			"consecutive_failures", b.consecutiveFail)
	}
}

// recordSuccess must be called with b.mu held.
func (b *BreakerStore) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		if b.halfOpenCalls-b.halfOpenFails >= b.halfOpenMax {
			b.state = BreakerClosed
			b.consecutiveFail = 0
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			b.log.Info("summary store breaker closed")
		}
		return
	}
	b.consecutiveFail = 0
}

// State returns the breaker's current state. When the reset timeout has
// elapsed on an open breaker the reported state is half-open; the actual
// transition happens on the next Append.
func (b *BreakerStore) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}
