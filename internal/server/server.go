// Package server exposes Trunkline's HTTP surface: the telephony webhook
// that answers with connect-stream TwiML, the media-stream WebSocket the
// provider dials back to, the outbound call API, and the health and metrics
// endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trunkline/trunkline/internal/bridge"
	"github.com/trunkline/trunkline/internal/health"
	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/internal/session"
	"github.com/trunkline/trunkline/internal/telephony"
)

// CallPlacer places outbound calls. Implemented by [dialer.Dialer].
type CallPlacer interface {
	Dial(ctx context.Context, to, webhookURL string) (string, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGreeting sets the message spoken before the media stream connects.
func WithGreeting(greeting string) Option {
	return func(s *Server) { s.greeting = greeting }
}

// WithCallPlacer enables the outbound call API. Without it, POST /api/call
// returns 503.
func WithCallPlacer(p CallPlacer) Option {
	return func(s *Server) { s.placer = p }
}

// WithHealth sets the health handler. Defaults to one with no readiness
// checks.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// Server routes provider webhooks and API calls into the bridge and registry.
type Server struct {
	publicHost string
	bridge     *bridge.Bridge
	registry   *session.Registry
	placer     CallPlacer
	health     *health.Handler
	metrics    *observe.Metrics
	log        *slog.Logger

	// greetingMu guards the hot-reloadable greeting.
	greetingMu sync.RWMutex
	greeting   string
}

// New returns a Server whose webhook answers point back at publicHost.
func New(publicHost string, b *bridge.Bridge, registry *session.Registry, opts ...Option) *Server {
	s := &Server{
		publicHost: publicHost,
		bridge:     b,
		registry:   registry,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	return s
}

// UpdateGreeting swaps the webhook greeting for future calls.
func (s *Server) UpdateGreeting(greeting string) {
	s.greetingMu.Lock()
	defer s.greetingMu.Unlock()
	s.greeting = greeting
}

func (s *Server) currentGreeting() string {
	s.greetingMu.RLock()
	defer s.greetingMu.RUnlock()
	return s.greeting
}

// Handler returns the full route tree wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /incoming-call", s.handleIncomingCall)
	mux.HandleFunc("POST /incoming-call", s.handleIncomingCall)
	mux.HandleFunc("GET /media-stream", s.handleMediaStream)
	mux.HandleFunc("POST /api/call", s.handlePlaceCall)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// handleIncomingCall answers the provider's webhook with TwiML that greets
// the caller and connects the call audio to the media-stream WebSocket.
// The provider fetches this for inbound calls and for outbound calls once
// the callee answers.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	streamURL := "wss://" + s.publicHost + "/media-stream"
	if name != "" {
		streamURL += "?name=" + url.QueryEscape(name)
	}

	xml, err := telephony.ConnectStreamTwiML(streamURL, s.currentGreeting(), name)
	if err != nil {
		s.log.Error("twiml build failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write([]byte(xml))
}

// handleMediaStream upgrades the provider's callback connection and hands it
// to the bridge. The handler blocks for the lifetime of the call.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The provider's media callbacks carry no browser origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("media stream upgrade failed", slog.String("error", err.Error()))
		return
	}

	stream := telephony.NewStreamConn(conn)
	if err := s.bridge.Handle(r.Context(), stream, name); err != nil {
		s.log.Error("call bridging failed", slog.String("error", err.Error()))
	}
}

type placeCallRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type placeCallResponse struct {
	CallID string `json:"call_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handlePlaceCall dials the requested number and pre-registers the call with
// the callee's identity, so the summary carries name and phone even though
// the media stream only learns the first name.
func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	if s.placer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "outbound dialing is not configured"})
		return
	}

	var req placeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Phone == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "phone is required"})
		return
	}

	webhookURL := "https://" + s.publicHost + "/incoming-call"
	if req.Name != "" {
		webhookURL += "?name=" + url.QueryEscape(req.Name)
	}

	callID, err := s.placer.Dial(r.Context(), req.Phone, webhookURL)
	if err != nil {
		s.log.Error("outbound dial failed",
			slog.String("phone", req.Phone),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "call could not be placed"})
		return
	}

	call := s.registry.GetOrCreate(callID)
	call.SetContact(req.Name, req.Phone)

	s.log.Info("outbound call placed",
		slog.String("call_id", callID),
		slog.String("phone", req.Phone),
	)
	writeJSON(w, http.StatusCreated, placeCallResponse{CallID: callID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
