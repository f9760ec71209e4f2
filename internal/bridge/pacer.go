package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/trunkline/trunkline/internal/observe"
)

// outboundMarkName labels the mark sent after each paced payload. The
// provider echoes it back once the audio before it has played out.
const outboundMarkName = "playback"

// FrameSender is the outbound half of a media stream: paced audio frames and
// the marks that trail them.
type FrameSender interface {
	SendMedia(ctx context.Context, streamID string, payload []byte) error
	SendMark(ctx context.Context, streamID, name string) error
}

// Payload is one backend audio chunk queued for paced delivery.
type Payload struct {
	StreamID string
	Audio    []byte
}

// Pacer drains queued backend audio into fixed-size frames sent at a steady
// cadence, so a large chunk does not flood the provider's jitter buffer.
// Frames of one payload are sent in order; a send failure aborts the rest of
// that payload.
type Pacer struct {
	sender     FrameSender
	frameBytes int
	frameDelay time.Duration
	metrics    *observe.Metrics
	log        *slog.Logger

	queue chan Payload
}

// NewPacer returns a pacer writing to sender. Run must be started before
// enqueued payloads flow.
func NewPacer(sender FrameSender, frameBytes int, frameDelay time.Duration, m *observe.Metrics, log *slog.Logger) *Pacer {
	return &Pacer{
		sender:     sender,
		frameBytes: frameBytes,
		frameDelay: frameDelay,
		metrics:    m,
		log:        log,
		queue:      make(chan Payload, 32),
	}
}

// Enqueue queues a payload without blocking. It returns false when the queue
// is full and the payload was dropped.
func (p *Pacer) Enqueue(pl Payload) bool {
	select {
	case p.queue <- pl:
		return true
	default:
		return false
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Pacer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pl := <-p.queue:
			p.send(ctx, pl)
		}
	}
}

func (p *Pacer) send(ctx context.Context, pl Payload) {
	for off := 0; off < len(pl.Audio); off += p.frameBytes {
		end := min(off+p.frameBytes, len(pl.Audio))
		if err := p.sender.SendMedia(ctx, pl.StreamID, pl.Audio[off:end]); err != nil {
			if ctx.Err() == nil {
				p.log.Warn("outbound frame send failed, dropping rest of payload",
					slog.String("stream_id", pl.StreamID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		p.metrics.FramesOut.Add(ctx, 1)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.frameDelay):
		}
	}

	if err := p.sender.SendMark(ctx, pl.StreamID, outboundMarkName); err != nil && ctx.Err() == nil {
		p.log.Warn("outbound mark send failed",
			slog.String("stream_id", pl.StreamID),
			slog.String("error", err.Error()),
		)
	}
}
