package bridge_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trunkline/trunkline/internal/bridge"
)

// fakeSender records outbound frames and can fail a chosen SendMedia call.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	marks  []string
	calls  int
	failAt int // 1-based SendMedia call that fails; 0 disables
}

func (s *fakeSender) SendMedia(_ context.Context, _ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAt != 0 && s.calls == s.failAt {
		return errors.New("write failed")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.frames = append(s.frames, buf)
	return nil
}

func (s *fakeSender) SendMark(_ context.Context, _ string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = append(s.marks, name)
	return nil
}

func (s *fakeSender) snapshot() (frames [][]byte, marks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames = make([][]byte, len(s.frames))
	copy(frames, s.frames)
	marks = append([]string(nil), s.marks...)
	return frames, marks
}

func startPacer(t *testing.T, sender bridge.FrameSender) *bridge.Pacer {
	t.Helper()
	p := bridge.NewPacer(sender, 160, time.Millisecond, testMetrics(t), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
	return p
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPacer_SplitsPayloadIntoOrderedFrames(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	p := startPacer(t, sender)

	audio := make([]byte, 1600)
	for i := range audio {
		audio[i] = byte(i / 160)
	}
	if !p.Enqueue(bridge.Payload{StreamID: "MZ1", Audio: audio}) {
		t.Fatal("enqueue rejected")
	}

	waitFor(t, func() bool {
		_, marks := sender.snapshot()
		return len(marks) == 1
	})

	frames, marks := sender.snapshot()
	if len(frames) != 10 {
		t.Fatalf("frame count = %d, want 10", len(frames))
	}
	for i, frame := range frames {
		want := bytes.Repeat([]byte{byte(i)}, 160)
		if !bytes.Equal(frame, want) {
			t.Errorf("frame %d out of order or corrupted", i)
		}
	}
	if len(marks) != 1 {
		t.Errorf("mark count = %d, want 1", len(marks))
	}
}

func TestPacer_ShortFinalFrame(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	p := startPacer(t, sender)

	p.Enqueue(bridge.Payload{StreamID: "MZ1", Audio: make([]byte, 400)})

	waitFor(t, func() bool {
		_, marks := sender.snapshot()
		return len(marks) == 1
	})

	frames, _ := sender.snapshot()
	if len(frames) != 3 {
		t.Fatalf("frame count = %d, want 3", len(frames))
	}
	if len(frames[2]) != 80 {
		t.Errorf("final frame length = %d, want 80", len(frames[2]))
	}
}

func TestPacer_SendErrorAbortsRestOfPayload(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{failAt: 3}
	p := startPacer(t, sender)

	p.Enqueue(bridge.Payload{StreamID: "MZ1", Audio: make([]byte, 1600)})
	// A later payload still flows; the pacer only drops the failed one.
	p.Enqueue(bridge.Payload{StreamID: "MZ1", Audio: make([]byte, 160)})

	waitFor(t, func() bool {
		_, marks := sender.snapshot()
		return len(marks) == 1
	})

	frames, marks := sender.snapshot()
	// 2 frames before the failure, then 1 from the second payload.
	if len(frames) != 3 {
		t.Errorf("frame count = %d, want 3", len(frames))
	}
	if len(marks) != 1 {
		t.Errorf("mark count = %d, want 1 (no mark for the aborted payload)", len(marks))
	}
}

func TestPacer_EnqueueRejectsWhenFull(t *testing.T) {
	t.Parallel()
	// Run is never started, so the queue fills.
	p := bridge.NewPacer(&fakeSender{}, 160, time.Millisecond, testMetrics(t), testLogger())

	pl := bridge.Payload{StreamID: "MZ1", Audio: make([]byte, 160)}
	accepted := 0
	for range 64 {
		if p.Enqueue(pl) {
			accepted++
		}
	}
	if accepted == 64 {
		t.Error("queue never reported full")
	}
	if accepted == 0 {
		t.Error("queue rejected everything")
	}
}
