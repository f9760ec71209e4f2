// Package openai implements the realtime.Client interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio crosses the wire as base64-encoded G.711 μ-law in both directions,
// matching the telephony leg, so no resampling happens in between. Incoming
// events are decoded once into the realtime.Event variants and delivered on
// the session's event channel.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/trunkline/trunkline/pkg/realtime"
)

// Compile-time assertions that Client and session satisfy the realtime interfaces.
var _ realtime.Client = (*Client)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview-2025-06-03"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// defaultKeepAlive is the ping interval that keeps the connection open
	// through intermediaries during long silences.
	defaultKeepAlive = 15 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the OpenAI Realtime model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithOrganization sets the OpenAI-Organization header on the dial request.
func WithOrganization(org string) Option {
	return func(c *Client) { c.org = org }
}

// WithKeepAliveInterval overrides the WebSocket ping interval. A zero or
// negative value disables keepalives.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *Client) { c.keepAlive = d }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client implements realtime.Client for OpenAI's Realtime API.
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	org       string
	keepAlive time.Duration
}

// New creates a new OpenAI Realtime client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		model:     defaultModel,
		baseURL:   defaultBaseURL,
		keepAlive: defaultKeepAlive,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect establishes a new OpenAI Realtime session with the given
// configuration. The returned Session is ready to accept audio immediately
// after the session.update message is sent.
func (c *Client) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	header := http.Header{
		"Authorization": []string{"Bearer " + c.apiKey},
		"OpenAI-Beta":   []string{"realtime=v1"},
	}
	if c.org != "" {
		header.Set("OpenAI-Organization", c.org)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan realtime.Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendInitialSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()
	if c.keepAlive > 0 {
		go sess.keepAliveLoop(c.keepAlive)
	}

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	TurnDetection      *turnDetection       `json:"turn_detection,omitempty"`
	InputAudioFormat   string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat  string               `json:"output_audio_format,omitempty"`
	Voice              string               `json:"voice,omitempty"`
	Instructions       string               `json:"instructions,omitempty"`
	Modalities         []string             `json:"modalities,omitempty"`
	Temperature        float64              `json:"temperature,omitempty"`
	InputTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded μ-law
}

type createResponseMessage struct {
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type responseParams struct {
	Modalities []string `json:"modalities"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type     string             `json:"type"`
	Role     string             `json:"role,omitempty"`
	Content  []conversationPart `json:"content,omitempty"`
	Metadata *itemMetadata      `json:"metadata,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type itemMetadata struct {
	Bootstrap bool `json:"bootstrap,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// response.audio.delta under its alternate field name
	Audio string `json:"audio,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// conversation.item.created
	Item *serverItem `json:"item,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverItem struct {
	Role     string             `json:"role,omitempty"`
	Content  []conversationPart `json:"content,omitempty"`
	Metadata *itemMetadata      `json:"metadata,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendInitialSessionUpdate configures the session for telephony: μ-law audio
// in both directions, server-side voice activity detection, and a realtime
// transcription model for caller speech.
func (s *session) sendInitialSessionUpdate(cfg realtime.SessionConfig) error {
	params := sessionParams{
		TurnDetection:     &turnDetection{Type: "server_vad"},
		InputAudioFormat:  "g711_ulaw",
		OutputAudioFormat: "g711_ulaw",
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		Modalities:        []string{"text", "audio"},
		Temperature:       0.8,
	}
	if cfg.TranscriptionModel != "" {
		params.InputTranscription = &transcriptionParams{Model: cfg.TranscriptionModel}
	}
	return s.writeJSON(s.ctx, sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// the event channel: it closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.emit(decodeServerEvent(&evt))
	}
}

// keepAliveLoop pings the peer at a fixed interval until the session ends.
func (s *session) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.conn.Ping(s.ctx)
		}
	}
}

// decodeServerEvent maps one wire event onto the closed realtime.Event set.
// Anything unrecognised becomes EventIgnored so the caller sees it happened.
func decodeServerEvent(evt *serverEvent) realtime.Event {
	switch evt.Type {
	case "session.updated":
		return realtime.EventSessionUpdated{}

	case "response.created":
		return realtime.EventResponseCreated{}

	case "response.completed", "response.done":
		return realtime.EventResponseCompleted{}

	case "response.error", "error":
		out := realtime.EventResponseError{Message: "unknown error"}
		if evt.Error != nil {
			out.Code = evt.Error.Code
			if evt.Error.Message != "" {
				out.Message = evt.Error.Message
			}
		}
		return out

	case "response.audio.delta":
		// The delta field name has varied across API revisions.
		b64 := evt.Delta
		if b64 == "" {
			b64 = evt.Audio
		}
		if b64 == "" {
			return realtime.EventIgnored{Type: evt.Type}
		}
		audio, err := base64.StdEncoding.DecodeString(b64)
		if err != nil || len(audio) == 0 {
			return realtime.EventIgnored{Type: evt.Type}
		}
		return realtime.EventAudioDelta{Audio: audio}

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return realtime.EventIgnored{Type: evt.Type}
		}
		return realtime.EventAgentTranscriptDelta{Text: evt.Delta}

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return realtime.EventIgnored{Type: evt.Type}
		}
		return realtime.EventUserTranscriptionDelta{Text: evt.Delta}

	case "conversation.item.input_audio_transcription.completed":
		return realtime.EventUserTranscriptionCompleted{Transcript: evt.Transcript}

	case "conversation.item.created":
		if evt.Item == nil {
			return realtime.EventIgnored{Type: evt.Type}
		}
		out := realtime.EventItemCreated{Role: evt.Item.Role}
		if evt.Item.Metadata != nil {
			out.Bootstrap = evt.Item.Metadata.Bootstrap
		}
		for _, part := range evt.Item.Content {
			if (part.Type == "input_text" || part.Type == "text") && part.Text != "" {
				out.Texts = append(out.Texts, part.Text)
			}
		}
		return out

	default:
		return realtime.EventIgnored{Type: evt.Type}
	}
}

func (s *session) emit(evt realtime.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("openai: session closed")
	}
	return nil
}

// ── Session methods ────────────────────────────────────────────────────────────

// Append delivers a μ-law audio chunk to the model's input buffer.
func (s *session) Append(ctx context.Context, audio []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(audio),
	})
}

// Commit marks the audio appended so far as a complete unit of caller speech.
func (s *session) Commit(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(ctx, map[string]string{"type": "input_audio_buffer.commit"})
}

// CreateResponse asks the model to produce a spoken turn.
func (s *session) CreateResponse(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(ctx, createResponseMessage{
		Type:     "response.create",
		Response: responseParams{Modalities: []string{"audio", "text"}},
	})
}

// InjectBootstrapText inserts a synthetic user message marked with bootstrap
// metadata so the transcript fallback path can skip it.
func (s *session) InjectBootstrapText(ctx context.Context, text string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(ctx, createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:     "message",
			Role:     "user",
			Content:  []conversationPart{{Type: "input_text", Text: text}},
			Metadata: &itemMetadata{Bootstrap: true},
		},
	})
}

// UpdateInstructions replaces the system instructions by sending a
// session.update event.
func (s *session) UpdateInstructions(ctx context.Context, instructions string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(ctx, sessionUpdateMessage{
		Type:    "session.update",
		Session: sessionParams{Instructions: instructions},
	})
}

// Events returns the channel on which decoded backend events arrive.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
