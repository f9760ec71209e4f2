// Package session tracks per-call state: identity, transcripts of both
// speakers, and the exactly-once finalization that turns a live call into a
// summary row.
//
// A [Call] is created either when the outbound API places the call (carrying
// the callee's name and phone) or lazily when the media stream starts. All
// methods are safe for concurrent use; the bridge goroutines and the HTTP
// layer share the same instances through the [Registry].
package session

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Call is the state of one phone call.
type Call struct {
	// ID is the provider's call identifier, fixed at creation.
	ID string

	// StartedAt is when the call entered the registry.
	StartedAt time.Time

	mu         sync.Mutex
	streamID   string
	callerName string
	phone      string

	// userUtterances holds completed caller utterances; userPartial
	// accumulates transcription deltas for the utterance in progress.
	userUtterances []string
	userPartial    string

	// primaryRecorded is set once the transcription path has produced an
	// utterance. From then on the item-created fallback is suppressed so the
	// same speech is not recorded twice.
	primaryRecorded bool

	// agentFragments holds the agent's transcript deltas. These are
	// token-level, so they join by plain concatenation.
	agentFragments []string

	finalized atomic.Bool
}

func newCall(id string) *Call {
	return &Call{ID: id, StartedAt: time.Now()}
}

// SetStreamID records the media stream bound to this call.
func (c *Call) SetStreamID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamID = id
}

// StreamID returns the bound media stream ID, or "" before the stream starts.
func (c *Call) StreamID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

// SetContact records the callee identity captured when the call was placed.
func (c *Call) SetContact(name, phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callerName = name
	c.phone = phone
}

// SetCallerName updates only the name, e.g. from a stream custom parameter.
func (c *Call) SetCallerName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callerName = name
}

// Contact returns the callee's name and phone.
func (c *Call) Contact() (name, phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callerName, c.phone
}

// AddUserDelta appends a partial transcription of the utterance in progress.
func (c *Call) AddUserDelta(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userPartial += text
}

// CompleteUserUtterance closes the utterance in progress. transcript is the
// backend's full rendering and wins when non-empty; otherwise the accumulated
// deltas stand. The result is trimmed, and discarded when empty. The partial
// buffer resets either way.
func (c *Call) CompleteUserUtterance(transcript string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text := transcript
	if text == "" {
		text = c.userPartial
	}
	c.userPartial = ""

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.userUtterances = append(c.userUtterances, text)
	c.primaryRecorded = true
}

// RecordUserUtteranceFallback records caller speech surfaced as a created
// conversation item rather than through transcription events. texts are
// joined with spaces and trimmed. The record is dropped once the primary
// transcription path has fired for this call, so the same utterance cannot
// land twice.
func (c *Call) RecordUserUtteranceFallback(texts []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.primaryRecorded {
		return
	}
	text := strings.TrimSpace(strings.Join(texts, " "))
	if text == "" {
		return
	}
	c.userUtterances = append(c.userUtterances, text)
}

// RecordAgentFragment appends one agent transcript delta.
func (c *Call) RecordAgentFragment(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentFragments = append(c.agentFragments, text)
}

// UserTranscript returns the caller's utterances joined with single spaces.
func (c *Call) UserTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(strings.Join(c.userUtterances, " "))
}

// AgentTranscript returns the agent's fragments concatenated in order.
func (c *Call) AgentTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(strings.Join(c.agentFragments, ""))
}

// BeginFinalize flips the call into the finalized state. It returns true for
// exactly one caller; every later call returns false no matter which shutdown
// path raced it there.
func (c *Call) BeginFinalize() bool {
	return c.finalized.CompareAndSwap(false, true)
}

// Finalized reports whether finalization has begun.
func (c *Call) Finalized() bool {
	return c.finalized.Load()
}
