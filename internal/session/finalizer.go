package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/internal/summary"
)

// defaultAppendTimeout bounds the summary write so a stuck store cannot hold
// call teardown open.
const defaultAppendTimeout = 10 * time.Second

// Finalizer turns a finished call into its summary row. Every shutdown path
// (provider stop frame, either socket closing, backend error) funnels through
// [Finalizer.Finalize]; the call's own finalized flag guarantees the row is
// written at most once no matter how many paths fire.
type Finalizer struct {
	store    summary.Store
	registry *Registry
	log      *slog.Logger
	metrics  *observe.Metrics
	timeout  time.Duration
}

// NewFinalizer builds a Finalizer writing to store and removing finalized
// calls from registry. A nil metrics falls back to [observe.DefaultMetrics].
func NewFinalizer(store summary.Store, registry *Registry, log *slog.Logger, metrics *observe.Metrics) *Finalizer {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Finalizer{
		store:    store,
		registry: registry,
		log:      log,
		metrics:  metrics,
		timeout:  defaultAppendTimeout,
	}
}

// Finalize writes the call's summary row and removes it from the registry.
// It returns true for the one invocation that performed the work and false
// for every duplicate. A failed store append is logged and counted, not
// retried; the call is removed either way so the registry cannot leak.
func (f *Finalizer) Finalize(ctx context.Context, call *Call, reason string) bool {
	if call == nil {
		return false
	}
	if !call.BeginFinalize() {
		return false
	}

	name, phone := call.Contact()
	row := summary.Row{
		Timestamp:       time.Now(),
		CallID:          call.ID,
		Name:            name,
		Phone:           phone,
		UserTranscript:  call.UserTranscript(),
		AgentTranscript: call.AgentTranscript(),
	}

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	if err := f.store.Append(appendCtx, row); err != nil {
		f.metrics.RecordSummaryWrite(appendCtx, "error")
		f.log.Error("summary append failed",
			"call_id", call.ID,
			"reason", reason,
			"error", err)
	} else {
		f.metrics.RecordSummaryWrite(appendCtx, "ok")
		f.log.Info("call finalized",
			"call_id", call.ID,
			"reason", reason,
			"duration", time.Since(call.StartedAt))
	}

	f.registry.Remove(call.ID)
	return true
}
