// Package summary persists the end-of-call record: who was called, when, and
// the full transcripts of both sides of the conversation.
//
// One [Row] is written per call, exactly once, when the call finalizes. The
// write is best-effort: a failed append is logged by the caller and the call
// still shuts down cleanly.
package summary

import (
	"context"
	"time"
)

// Row is one finalized call record.
type Row struct {
	// Timestamp is when the call finalized.
	Timestamp time.Time

	// CallID is the provider's call identifier.
	CallID string

	// Name and Phone identify the callee when the call was placed through
	// the outbound API. Both are empty for calls without a pre-registered
	// session.
	Name  string
	Phone string

	// UserTranscript is the caller's utterances joined with single spaces.
	UserTranscript string

	// AgentTranscript is the agent's speech fragments concatenated in order.
	AgentTranscript string
}

// Store persists call summary rows.
type Store interface {
	// Append writes one row. Implementations must be safe for concurrent use.
	Append(ctx context.Context, row Row) error
}

// Discard drops every row. It backs deployments running without a summary
// backend configured.
var Discard Store = discardStore{}

type discardStore struct{}

func (discardStore) Append(context.Context, Row) error { return nil }
