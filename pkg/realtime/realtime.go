// Package realtime defines the provider-neutral boundary to a streaming
// speech-to-speech AI backend: a dialer that opens one session per call, the
// turn-control operations a session accepts, and the closed set of events a
// session emits.
//
// Events are decoded once at the transport boundary into the tagged variants
// below and consumed with a type switch; payloads the backend sends that the
// bridge does not understand surface as [EventIgnored] rather than vanishing.
package realtime

import "context"

// SessionConfig carries the one-time configuration sent when a session is
// opened: audio encoding for both directions, the synthesised voice, the
// behavioural instructions, and the model used to transcribe caller speech.
// Instructions content is opaque to this package.
type SessionConfig struct {
	Voice              string
	Instructions       string
	TranscriptionModel string
}

// Client opens backend sessions. One session serves exactly one call.
type Client interface {
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is one live streaming connection to the AI backend.
//
// Append, Commit and CreateResponse are the three turn-control operations:
// buffered caller audio is appended, a commit marks it ready for
// interpretation, and a response-create asks the backend to speak. The
// response-in-flight discipline (at most one outstanding response per call)
// is the caller's responsibility; the session only reports the backend's
// response lifecycle through [EventResponseCreated], [EventResponseCompleted]
// and [EventResponseError].
type Session interface {
	// Append delivers an encoded audio unit to the backend's input buffer.
	Append(ctx context.Context, audio []byte) error

	// Commit marks the audio appended since the previous commit as ready to
	// be interpreted.
	Commit(ctx context.Context) error

	// CreateResponse asks the backend to produce a spoken turn.
	CreateResponse(ctx context.Context) error

	// InjectBootstrapText inserts a synthetic user message, marked so the
	// transcript fallback path can tell it apart from real caller speech.
	// Used once per call to prompt the agent's opening turn.
	InjectBootstrapText(ctx context.Context, text string) error

	// UpdateInstructions replaces the behavioural instructions mid-session,
	// e.g. after the caller's name becomes known.
	UpdateInstructions(ctx context.Context, instructions string) error

	// Events returns the stream of decoded backend events. The channel is
	// closed when the session terminates from either side; Err reports the
	// terminating error, if any.
	Events() <-chan Event

	// Err returns the first error that terminated the session, or nil.
	Err() error

	// Close terminates the session and releases its resources. Idempotent.
	Close() error
}

// Event is one decoded backend event. The concrete types below form a closed
// set; consumers switch exhaustively and treat [EventIgnored] as the explicit
// "unknown" arm.
type Event interface{ event() }

// EventSessionUpdated acknowledges a configuration update. Informational.
type EventSessionUpdated struct{}

// EventResponseCreated reports that the backend started generating a spoken
// turn.
type EventResponseCreated struct{}

// EventResponseCompleted reports that the current spoken turn finished.
type EventResponseCompleted struct{}

// EventResponseError reports that the current spoken turn failed. The call
// survives; the in-flight gate clears so the next turn can proceed.
type EventResponseError struct {
	Code    string
	Message string
}

// EventAudioDelta carries one chunk of synthesised audio in the transport
// encoding declared at session setup.
type EventAudioDelta struct {
	Audio []byte
}

// EventAgentTranscriptDelta carries one raw text delta of the agent's own
// speech. Deltas are token-level; join by concatenation, not spaces.
type EventAgentTranscriptDelta struct {
	Text string
}

// EventUserTranscriptionDelta carries a partial transcription of caller
// speech, to be accumulated until [EventUserTranscriptionCompleted].
type EventUserTranscriptionDelta struct {
	Text string
}

// EventUserTranscriptionCompleted closes one caller utterance. Transcript
// carries the backend's full rendering when provided; it may be empty, in
// which case the accumulated deltas stand alone.
type EventUserTranscriptionCompleted struct {
	Transcript string
}

// EventItemCreated reports a conversation item materialising backend-side.
// It doubles as the fallback path for caller utterances that never produced
// transcription deltas. Bootstrap marks items the bridge injected itself.
type EventItemCreated struct {
	Role      string
	Bootstrap bool
	Texts     []string
}

// EventIgnored is the explicit variant for event kinds this package does not
// interpret.
type EventIgnored struct {
	Type string
}

func (EventSessionUpdated) event()             {}
func (EventResponseCreated) event()            {}
func (EventResponseCompleted) event()          {}
func (EventResponseError) event()              {}
func (EventAudioDelta) event()                 {}
func (EventAgentTranscriptDelta) event()       {}
func (EventUserTranscriptionDelta) event()     {}
func (EventUserTranscriptionCompleted) event() {}
func (EventItemCreated) event()                {}
func (EventIgnored) event()                    {}
