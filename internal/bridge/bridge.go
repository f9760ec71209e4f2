// Package bridge relays audio between one telephony media stream and one
// realtime AI backend session, per call.
//
// Inbound caller audio accumulates until a threshold, then is appended to the
// backend and committed after a short settle delay. Commits are gated by the
// response-in-flight flag so the backend never receives a commit while it is
// already speaking. After the first commit a single bootstrap response-create
// is scheduled to open the conversation; thereafter the backend's own voice
// activity detection drives turns.
//
// Outbound backend audio is paced to the provider as fixed-size frames, and
// transcripts of both speakers aggregate on the call record until the call
// finalizes.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/internal/session"
	"github.com/trunkline/trunkline/internal/telephony"
	"github.com/trunkline/trunkline/pkg/audio/mulaw"
	"github.com/trunkline/trunkline/pkg/realtime"
)

// MediaStream is the bridge's view of one accepted provider connection.
type MediaStream interface {
	Read(ctx context.Context) (telephony.Event, error)
	SendMedia(ctx context.Context, streamID string, payload []byte) error
	SendMark(ctx context.Context, streamID, name string) error
	Ping(ctx context.Context) error
	Close() error
}

var _ MediaStream = (*telephony.StreamConn)(nil)

// Tunables are the timing and sizing parameters of the relay. The defaults
// match 8 kHz mu-law telephony audio in 20 ms provider frames.
type Tunables struct {
	// AccumBytes is how much caller audio to buffer before appending it to
	// the backend. 800 bytes is 100 ms at 8 kHz mu-law.
	AccumBytes int

	// SettleDelay is the pause between an append and its commit, giving the
	// backend time to ingest the audio.
	SettleDelay time.Duration

	// BootstrapDelay is how long after the first commit the opening
	// response-create fires, unless a response is already in flight.
	BootstrapDelay time.Duration

	// FrameBytes and FrameDelay shape outbound pacing: 160 bytes every 20 ms
	// matches the provider's own media cadence.
	FrameBytes int
	FrameDelay time.Duration

	// KeepAliveInterval is the ping cadence on the provider connection.
	KeepAliveInterval time.Duration

	// SelfTestTone, when set, plays a short tone to the caller as soon as the
	// stream starts, to verify the outbound audio path end to end.
	SelfTestTone bool
}

// DefaultTunables returns the production parameters.
func DefaultTunables() Tunables {
	return Tunables{
		AccumBytes:        800,
		SettleDelay:       90 * time.Millisecond,
		BootstrapDelay:    140 * time.Millisecond,
		FrameBytes:        160,
		FrameDelay:        20 * time.Millisecond,
		KeepAliveInterval: 15 * time.Second,
	}
}

func (t Tunables) withDefaults() Tunables {
	def := DefaultTunables()
	if t.AccumBytes <= 0 {
		t.AccumBytes = def.AccumBytes
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = def.SettleDelay
	}
	if t.BootstrapDelay <= 0 {
		t.BootstrapDelay = def.BootstrapDelay
	}
	if t.FrameBytes <= 0 {
		t.FrameBytes = def.FrameBytes
	}
	if t.FrameDelay <= 0 {
		t.FrameDelay = def.FrameDelay
	}
	if t.KeepAliveInterval <= 0 {
		t.KeepAliveInterval = def.KeepAliveInterval
	}
	return t
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithTunables overrides the relay timing parameters. Zero fields keep their
// defaults.
func WithTunables(t Tunables) Option {
	return func(b *Bridge) { b.tun = t.withDefaults() }
}

// WithInstructions sets the instruction template. {name} placeholders are
// substituted with the caller's name per call.
func WithInstructions(template string) Option {
	return func(b *Bridge) { b.instructions = template }
}

// WithBootstrapText sets the synthetic caller message that prompts the
// agent's opening turn. Empty disables the injection.
func WithBootstrapText(text string) Option {
	return func(b *Bridge) { b.bootstrapText = text }
}

// WithVoice sets the synthesised voice requested from the backend.
func WithVoice(voice string) Option {
	return func(b *Bridge) { b.voice = voice }
}

// WithTranscriptionModel sets the model used to transcribe caller speech.
func WithTranscriptionModel(model string) Option {
	return func(b *Bridge) { b.transcriptionModel = model }
}

// Bridge connects media streams to backend sessions. One Bridge serves all
// calls; per-call state lives in the link created by [Bridge.Handle].
type Bridge struct {
	client    realtime.Client
	registry  *session.Registry
	finalizer *session.Finalizer

	log     *slog.Logger
	metrics *observe.Metrics
	tun     Tunables

	// agentMu guards the hot-reloadable agent settings below. Calls in
	// flight keep the values they started with.
	agentMu            sync.RWMutex
	instructions       string
	bootstrapText      string
	voice              string
	transcriptionModel string
}

// UpdateAgent swaps the agent settings for future calls. Empty arguments
// keep the current value.
func (b *Bridge) UpdateAgent(instructions, bootstrapText, voice string) {
	b.agentMu.Lock()
	defer b.agentMu.Unlock()
	if instructions != "" {
		b.instructions = instructions
	}
	if bootstrapText != "" {
		b.bootstrapText = bootstrapText
	}
	if voice != "" {
		b.voice = voice
	}
}

func (b *Bridge) agentSettings() (instructions, bootstrapText, voice, transcriptionModel string) {
	b.agentMu.RLock()
	defer b.agentMu.RUnlock()
	return b.instructions, b.bootstrapText, b.voice, b.transcriptionModel
}

// New returns a Bridge placing backend sessions through client and recording
// finished calls through finalizer.
func New(client realtime.Client, registry *session.Registry, finalizer *session.Finalizer, opts ...Option) *Bridge {
	b := &Bridge{
		client:             client,
		registry:           registry,
		finalizer:          finalizer,
		log:                slog.Default(),
		tun:                DefaultTunables(),
		instructions:       DefaultInstructions,
		bootstrapText:      DefaultBootstrapText,
		voice:              "alloy",
		transcriptionModel: "gpt-4o-mini-transcribe",
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Handle runs one call end to end: it opens a backend session, relays audio
// both ways, and returns once the call has ended and its summary finalized.
// callerName may be empty when the callee's identity is unknown up front.
func (b *Bridge) Handle(ctx context.Context, stream MediaStream, callerName string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	instructions, bootstrapText, voice, transcriptionModel := b.agentSettings()

	sess, err := b.client.Connect(ctx, realtime.SessionConfig{
		Voice:              voice,
		Instructions:       RenderInstructions(instructions, callerName),
		TranscriptionModel: transcriptionModel,
	})
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("bridge: connect backend: %w", err)
	}

	link := &callLink{
		bridge:       b,
		stream:       stream,
		sess:         sess,
		ctx:          ctx,
		cancel:       cancel,
		callerName:   callerName,
		instructions: instructions,
		pacer:        NewPacer(stream, b.tun.FrameBytes, b.tun.FrameDelay, b.metrics, b.log),
	}

	if bootstrapText != "" {
		if err := sess.InjectBootstrapText(ctx, bootstrapText); err != nil {
			b.log.Warn("bootstrap text injection failed", slog.String("error", err.Error()))
		}
	}

	var wg sync.WaitGroup
	wg.Go(func() { link.pacer.Run(ctx) })
	wg.Go(link.backendLoop)
	wg.Go(link.keepAliveLoop)

	link.telephonyLoop()
	link.end("stream ended")
	wg.Wait()
	return nil
}

// callLink is the per-call actor state shared by the telephony read loop, the
// backend event loop and the pacer.
type callLink struct {
	bridge *Bridge
	stream MediaStream
	sess   realtime.Session
	pacer  *Pacer
	ctx    context.Context
	cancel context.CancelFunc

	// accum is owned by the telephony loop.
	accum accumulator

	// inFlight tracks whether the backend is generating a response. Commits
	// and the bootstrap response are suppressed while it is set.
	inFlight atomic.Bool

	// committing serialises the append-settle-commit sequence so overlapping
	// media bursts produce one commit, not several.
	committing    atomic.Bool
	bootstrapOnce sync.Once
	endOnce       sync.Once

	// instructions is the template this call started with; hot reloads only
	// affect later calls.
	instructions string

	mu         sync.Mutex
	streamID   string
	call       *session.Call
	callerName string
	started    bool
	lastCommit time.Time
}

func (l *callLink) telephonyLoop() {
	for {
		evt, err := l.stream.Read(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				l.bridge.log.Debug("media stream read ended", slog.String("error", err.Error()))
			}
			return
		}

		switch e := evt.(type) {
		case telephony.EventConnected:
			l.bridge.log.Debug("media stream connected",
				slog.String("protocol", e.Protocol),
				slog.String("version", e.Version),
			)
		case telephony.EventStart:
			l.handleStart(e)
		case telephony.EventMedia:
			l.handleMedia(e.Payload)
		case telephony.EventStop:
			l.end("caller hung up")
			return
		case telephony.EventMark:
			l.bridge.log.Debug("mark played out", slog.String("name", e.Name))
		case telephony.EventDTMF:
			l.bridge.log.Info("dtmf digit received", slog.String("digit", e.Digit))
		case telephony.EventUnknown:
			l.bridge.log.Debug("unhandled stream event", slog.String("name", e.Name))
		}
	}
}

func (l *callLink) handleStart(e telephony.EventStart) {
	call := l.bridge.registry.GetOrCreate(e.CallID)
	call.SetStreamID(e.StreamID)

	l.mu.Lock()
	l.streamID = e.StreamID
	l.call = call
	l.started = true
	if e.CallerName != "" {
		l.callerName = e.CallerName
	}
	l.mu.Unlock()

	observe.AnnotateCall(l.ctx, e.CallID, e.StreamID)
	l.bridge.metrics.ActiveCalls.Add(l.ctx, 1)
	l.bridge.log.Info("media stream started",
		slog.String("call_id", e.CallID),
		slog.String("stream_id", e.StreamID),
	)

	// A name arriving as a stream parameter supersedes whatever was known at
	// session setup, so refresh the backend instructions with it.
	if e.CallerName != "" {
		call.SetCallerName(e.CallerName)
		rendered := RenderInstructions(l.instructions, e.CallerName)
		if err := l.sess.UpdateInstructions(l.ctx, rendered); err != nil {
			l.bridge.log.Warn("instruction refresh failed", slog.String("error", err.Error()))
		}
	}

	if l.bridge.tun.SelfTestTone {
		tone := mulaw.Tone(440, 2000, 8000, 6000)
		l.pacer.Enqueue(Payload{StreamID: e.StreamID, Audio: tone})
	}
}

func (l *callLink) handleMedia(payload []byte) {
	l.bridge.metrics.FramesIn.Add(l.ctx, 1)
	l.accum.Add(payload)
	if l.accum.Len() < l.bridge.tun.AccumBytes {
		return
	}
	if l.inFlight.Load() {
		return
	}
	if !l.committing.CompareAndSwap(false, true) {
		return
	}
	audio := l.accum.Take()
	go l.commitTurn(audio)
}

// commitTurn ships one accumulated audio batch: append, settle, commit. The
// first successful commit arms the one-shot bootstrap response.
func (l *callLink) commitTurn(audio []byte) {
	defer l.committing.Store(false)

	if err := l.sess.Append(l.ctx, audio); err != nil {
		if l.ctx.Err() == nil {
			l.bridge.log.Warn("audio append failed", slog.String("error", err.Error()))
		}
		return
	}

	select {
	case <-time.After(l.bridge.tun.SettleDelay):
	case <-l.ctx.Done():
		return
	}

	if err := l.sess.Commit(l.ctx); err != nil {
		if l.ctx.Err() == nil {
			l.bridge.log.Warn("audio commit failed", slog.String("error", err.Error()))
		}
		return
	}
	l.bridge.metrics.Commits.Add(l.ctx, 1)

	l.mu.Lock()
	l.lastCommit = time.Now()
	l.mu.Unlock()

	l.bootstrapOnce.Do(func() {
		time.AfterFunc(l.bridge.tun.BootstrapDelay, l.bootstrapResponse)
	})
}

// bootstrapResponse asks for the agent's opening turn, unless the backend's
// own turn detection already started one. The in-flight flag is raised as soon
// as the request is issued so commits stay suppressed while the backend's
// acknowledgment is still in transit.
func (l *callLink) bootstrapResponse() {
	if l.ctx.Err() != nil || l.inFlight.Load() {
		return
	}
	if err := l.sess.CreateResponse(l.ctx); err != nil {
		if l.ctx.Err() == nil {
			l.bridge.log.Warn("bootstrap response failed", slog.String("error", err.Error()))
		}
		return
	}
	l.inFlight.Store(true)
}

func (l *callLink) backendLoop() {
	for evt := range l.sess.Events() {
		switch e := evt.(type) {
		case realtime.EventSessionUpdated:
			l.bridge.log.Debug("backend session configured")

		case realtime.EventResponseCreated:
			l.inFlight.Store(true)
			l.mu.Lock()
			lastCommit := l.lastCommit
			l.mu.Unlock()
			if !lastCommit.IsZero() {
				l.bridge.metrics.RecordTurnLatency(l.ctx, time.Since(lastCommit))
			}

		case realtime.EventResponseCompleted:
			l.inFlight.Store(false)

		case realtime.EventResponseError:
			l.inFlight.Store(false)
			l.bridge.metrics.RecordBackendError(l.ctx, e.Code)
			l.bridge.log.Warn("backend response error",
				slog.String("code", e.Code),
				slog.String("message", e.Message),
			)

		case realtime.EventAudioDelta:
			l.mu.Lock()
			streamID := l.streamID
			l.mu.Unlock()
			if streamID == "" {
				// No start event yet, nowhere to play this.
				continue
			}
			if !l.pacer.Enqueue(Payload{StreamID: streamID, Audio: e.Audio}) {
				l.bridge.log.Warn("outbound queue full, dropping audio chunk",
					slog.Int("bytes", len(e.Audio)),
				)
			}

		case realtime.EventAgentTranscriptDelta:
			if call := l.currentCall(); call != nil {
				call.RecordAgentFragment(e.Text)
			}

		case realtime.EventUserTranscriptionDelta:
			if call := l.currentCall(); call != nil {
				call.AddUserDelta(e.Text)
			}

		case realtime.EventUserTranscriptionCompleted:
			if call := l.currentCall(); call != nil {
				call.CompleteUserUtterance(e.Transcript)
			}

		case realtime.EventItemCreated:
			if e.Role != "user" || e.Bootstrap {
				continue
			}
			if call := l.currentCall(); call != nil {
				call.RecordUserUtteranceFallback(e.Texts)
			}

		case realtime.EventIgnored:
			l.bridge.log.Debug("backend event ignored", slog.String("type", e.Type))
		}
	}

	if err := l.sess.Err(); err != nil && l.ctx.Err() == nil {
		l.bridge.log.Error("backend session failed", slog.String("error", err.Error()))
	}
	l.end("backend session ended")
}

func (l *callLink) currentCall() *session.Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.call
}

func (l *callLink) keepAliveLoop() {
	ticker := time.NewTicker(l.bridge.tun.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.stream.Ping(l.ctx); err != nil {
				if l.ctx.Err() == nil {
					l.bridge.log.Debug("stream ping failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// end tears the call down exactly once: finalize the summary, close both
// sides, cancel the link context.
func (l *callLink) end(reason string) {
	l.endOnce.Do(func() {
		l.mu.Lock()
		call := l.call
		started := l.started
		l.mu.Unlock()

		if call != nil {
			l.bridge.finalizer.Finalize(l.ctx, call, reason)
			l.bridge.metrics.RecordCallDuration(l.ctx, time.Since(call.StartedAt))
		}
		if started {
			l.bridge.metrics.ActiveCalls.Add(l.ctx, -1)
		}

		l.cancel()
		_ = l.sess.Close()
		_ = l.stream.Close()
	})
}
