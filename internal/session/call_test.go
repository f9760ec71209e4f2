package session_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/internal/session"
	summarymock "github.com/trunkline/trunkline/internal/summary/mock"
)

func TestCall_UserTranscript_JoinsUtterancesWithSpaces(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	call := reg.GetOrCreate("CA1")

	call.AddUserDelta("He")
	call.AddUserDelta("llo")
	call.CompleteUserUtterance("")
	call.AddUserDelta("there")
	call.CompleteUserUtterance("")

	if got := call.UserTranscript(); got != "Hello there" {
		t.Errorf("UserTranscript() = %q; want %q", got, "Hello there")
	}
}

func TestCall_CompleteUserUtterance_PrefersFullTranscript(t *testing.T) {
	t.Parallel()

	call := session.NewRegistry().GetOrCreate("CA1")

	call.AddUserDelta("partial ver")
	call.CompleteUserUtterance("  The full rendering.  ")

	if got := call.UserTranscript(); got != "The full rendering." {
		t.Errorf("UserTranscript() = %q; want trimmed full rendering", got)
	}
}

func TestCall_CompleteUserUtterance_EmptyIsDiscarded(t *testing.T) {
	t.Parallel()

	call := session.NewRegistry().GetOrCreate("CA1")

	call.AddUserDelta("   ")
	call.CompleteUserUtterance("")
	call.CompleteUserUtterance("")

	if got := call.UserTranscript(); got != "" {
		t.Errorf("UserTranscript() = %q; want empty", got)
	}
}

func TestCall_CompleteUserUtterance_ResetsPartialBuffer(t *testing.T) {
	t.Parallel()

	call := session.NewRegistry().GetOrCreate("CA1")

	call.AddUserDelta("first")
	call.CompleteUserUtterance("")
	call.AddUserDelta("second")
	call.CompleteUserUtterance("")

	if got := call.UserTranscript(); got != "first second" {
		t.Errorf("UserTranscript() = %q; want %q", got, "first second")
	}
}

func TestCall_AgentTranscript_ConcatenatesFragments(t *testing.T) {
	t.Parallel()

	call := session.NewRegistry().GetOrCreate("CA1")

	call.RecordAgentFragment("Hi, th")
	call.RecordAgentFragment("is is Alice")
	call.RecordAgentFragment(".")

	if got := call.AgentTranscript(); got != "Hi, this is Alice." {
		t.Errorf("AgentTranscript() = %q; want %q", got, "Hi, this is Alice.")
	}
}

func TestCall_Fallback_RecordsWhenPrimaryNeverFired(t *testing.T) {
	t.Parallel()

	call := session.NewRegistry().GetOrCreate("CA1")

	call.RecordUserUtteranceFallback([]string{"Yes,", "sounds good"})

	if got := call.UserTranscript(); got != "Yes, sounds good" {
		t.Errorf("UserTranscript() = %q; want fallback text", got)
	}
}

func TestCall_Fallback_SuppressedAfterPrimary(t *testing.T) {
	t.Parallel()

	call := session.NewRegistry().GetOrCreate("CA1")

	call.CompleteUserUtterance("I can talk now.")
	call.RecordUserUtteranceFallback([]string{"I can talk now."})

	if got := call.UserTranscript(); got != "I can talk now." {
		t.Errorf("UserTranscript() = %q; duplicate fallback should be suppressed", got)
	}
}

func TestCall_BeginFinalize_ExactlyOnce(t *testing.T) {
	t.Parallel()

	call := session.NewRegistry().GetOrCreate("CA1")

	const racers = 16
	wins := make(chan bool, racers)

	var wg sync.WaitGroup
	for range racers {
		wg.Go(func() {
			wins <- call.BeginFinalize()
		})
	}
	wg.Wait()
	close(wins)

	var winners int
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d; want exactly 1", winners)
	}
	if !call.Finalized() {
		t.Error("Finalized() should report true")
	}
}

func TestRegistry_GetOrCreate_ReturnsSameInstance(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	a := reg.GetOrCreate("CA1")
	b := reg.GetOrCreate("CA1")
	if a != b {
		t.Error("GetOrCreate should return the same instance for the same ID")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d; want 1", reg.Len())
	}
}

func TestRegistry_GetAndRemove(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	reg.GetOrCreate("CA1")

	if reg.Get("CA1") == nil {
		t.Error("Get should find registered call")
	}
	if reg.Get("CA2") != nil {
		t.Error("Get should return nil for unknown call")
	}

	reg.Remove("CA1")
	reg.Remove("CA1") // no-op
	if reg.Len() != 0 {
		t.Errorf("Len() = %d; want 0 after removal", reg.Len())
	}
}

func TestFinalizer_WritesRowOnceAndRemovesCall(t *testing.T) {
	t.Parallel()

	store := &summarymock.Store{}
	reg := session.NewRegistry()
	fin := session.NewFinalizer(store, reg, slog.Default(), nil)

	call := reg.GetOrCreate("CA9")
	call.SetContact("Maria Lopez", "+15550100")
	call.CompleteUserUtterance("Hello.")
	call.RecordAgentFragment("Hi Maria!")

	if !fin.Finalize(context.Background(), call, "stream stop") {
		t.Fatal("first Finalize should perform the work")
	}
	if fin.Finalize(context.Background(), call, "socket closed") {
		t.Fatal("second Finalize should be a duplicate")
	}

	rows := store.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d; want 1", len(rows))
	}
	row := rows[0]
	if row.CallID != "CA9" || row.Name != "Maria Lopez" || row.Phone != "+15550100" {
		t.Errorf("row identity = %+v", row)
	}
	if row.UserTranscript != "Hello." || row.AgentTranscript != "Hi Maria!" {
		t.Errorf("row transcripts = %+v", row)
	}
	if reg.Get("CA9") != nil {
		t.Error("finalized call should be removed from registry")
	}
}

func TestFinalizer_StoreErrorStillRemovesCall(t *testing.T) {
	t.Parallel()

	store := &summarymock.Store{AppendError: context.DeadlineExceeded}
	reg := session.NewRegistry()
	fin := session.NewFinalizer(store, reg, slog.Default(), nil)

	call := reg.GetOrCreate("CA1")
	if !fin.Finalize(context.Background(), call, "backend error") {
		t.Fatal("Finalize should still claim the work")
	}
	if reg.Get("CA1") != nil {
		t.Error("call should be removed even when the append fails")
	}
}

func TestFinalizer_CountsWriteOutcomes(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	reg := session.NewRegistry()
	okStore := &summarymock.Store{}
	fin := session.NewFinalizer(okStore, reg, slog.Default(), metrics)
	fin.Finalize(context.Background(), reg.GetOrCreate("CA1"), "stream stop")
	fin.Finalize(context.Background(), reg.GetOrCreate("CA2"), "stream stop")

	failStore := &summarymock.Store{AppendError: context.DeadlineExceeded}
	fin = session.NewFinalizer(failStore, reg, slog.Default(), metrics)
	fin.Finalize(context.Background(), reg.GetOrCreate("CA3"), "backend error")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "trunkline.summary.writes" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("summary writes metric is not a sum")
			}
			for _, dp := range sum.DataPoints {
				for _, kv := range dp.Attributes.ToSlice() {
					if string(kv.Key) == "status" {
						counts[kv.Value.AsString()] = dp.Value
					}
				}
			}
		}
	}
	if counts["ok"] != 2 {
		t.Errorf("ok writes = %d; want 2", counts["ok"])
	}
	if counts["error"] != 1 {
		t.Errorf("error writes = %d; want 1", counts["error"])
	}
}

func TestFinalizer_ConcurrentCallers_OneRow(t *testing.T) {
	t.Parallel()

	store := &summarymock.Store{}
	reg := session.NewRegistry()
	fin := session.NewFinalizer(store, reg, slog.Default(), nil)
	call := reg.GetOrCreate("CA1")

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			fin.Finalize(context.Background(), call, "race")
		})
	}
	wg.Wait()

	if got := len(store.Rows()); got != 1 {
		t.Errorf("rows = %d; want exactly 1", got)
	}
}
