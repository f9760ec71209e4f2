// Package mock provides in-memory mock implementations of [realtime.Client]
// and [realtime.Session] for use in unit tests.
//
// The mocks record every method call and allow the test to configure return
// values via exported fields. Tests drive the backend side of a conversation
// by pushing events through [Session.Emit]. Both types are safe for
// concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/trunkline/trunkline/pkg/realtime"
)

// Compile-time interface assertions.
var _ realtime.Client = (*Client)(nil)
var _ realtime.Session = (*Session)(nil)

// Client is a mock implementation of [realtime.Client]. It hands out
// SessionResult on every Connect call, recording the configs it saw.
type Client struct {
	mu sync.Mutex

	// SessionResult is returned by [Client.Connect]. If nil and ConnectError
	// is nil, a fresh [NewSession] is returned instead.
	SessionResult *Session

	// ConnectError is the error returned by [Client.Connect].
	ConnectError error

	// ConnectCalls records the session configs passed to Connect.
	ConnectCalls []realtime.SessionConfig
}

// Connect implements [realtime.Client].
func (c *Client) Connect(_ context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls = append(c.ConnectCalls, cfg)
	if c.ConnectError != nil {
		return nil, c.ConnectError
	}
	if c.SessionResult != nil {
		return c.SessionResult, nil
	}
	return NewSession(), nil
}

// Session is a mock implementation of [realtime.Session].
// All exported *Error fields control return values. All exported *Calls
// fields accumulate invocation records.
type Session struct {
	mu sync.Mutex

	// AppendError is the error returned by [Session.Append].
	AppendError error

	// CommitError is the error returned by [Session.Commit].
	CommitError error

	// CreateResponseError is the error returned by [Session.CreateResponse].
	CreateResponseError error

	// InjectError is the error returned by [Session.InjectBootstrapText].
	InjectError error

	// UpdateError is the error returned by [Session.UpdateInstructions].
	UpdateError error

	// CloseError is the error returned by [Session.Close].
	CloseError error

	// ErrResult is returned by [Session.Err].
	ErrResult error

	// AppendCalls records the audio buffers passed to Append. Buffers are
	// copied, so the caller may reuse its slice.
	AppendCalls [][]byte

	// CommitCount records how many times Commit was called.
	CommitCount int

	// CreateResponseCount records how many times CreateResponse was called.
	CreateResponseCount int

	// InjectCalls records the texts passed to InjectBootstrapText.
	InjectCalls []string

	// UpdateCalls records the instruction strings passed to UpdateInstructions.
	UpdateCalls []string

	// CloseCount records how many times Close was called.
	CloseCount int

	events    chan realtime.Event
	closeOnce sync.Once
}

// NewSession returns a Session whose event channel is ready for [Session.Emit].
func NewSession() *Session {
	return &Session{events: make(chan realtime.Event, 64)}
}

// Emit delivers evt on the session's event channel, simulating the backend.
func (s *Session) Emit(evt realtime.Event) {
	s.events <- evt
}

// CloseEvents closes the event channel, simulating backend termination.
// Idempotent.
func (s *Session) CloseEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

// Append implements [realtime.Session].
func (s *Session) Append(_ context.Context, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(audio))
	copy(buf, audio)
	s.AppendCalls = append(s.AppendCalls, buf)
	return s.AppendError
}

// Commit implements [realtime.Session].
func (s *Session) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommitCount++
	return s.CommitError
}

// CreateResponse implements [realtime.Session].
func (s *Session) CreateResponse(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateResponseCount++
	return s.CreateResponseError
}

// InjectBootstrapText implements [realtime.Session].
func (s *Session) InjectBootstrapText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InjectCalls = append(s.InjectCalls, text)
	return s.InjectError
}

// UpdateInstructions implements [realtime.Session].
func (s *Session) UpdateInstructions(_ context.Context, instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateCalls = append(s.UpdateCalls, instructions)
	return s.UpdateError
}

// Events implements [realtime.Session].
func (s *Session) Events() <-chan realtime.Event { return s.events }

// Err implements [realtime.Session]. Returns ErrResult.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close implements [realtime.Session]. Returns CloseError and closes the
// event channel.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCount++
	err := s.CloseError
	s.mu.Unlock()
	s.CloseEvents()
	return err
}

// Snapshot returns copies of the recorded Append payloads concatenated in
// order. Useful for asserting on accumulated audio.
func (s *Session) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, b := range s.AppendCalls {
		out = append(out, b...)
	}
	return out
}
