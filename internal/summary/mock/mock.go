// Package mock provides an in-memory mock implementation of [summary.Store]
// for use in unit tests.
//
// The mock records every appended row and allows the test to configure the
// returned error via an exported field. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/trunkline/trunkline/internal/summary"
)

// Compile-time interface assertion.
var _ summary.Store = (*Store)(nil)

// Store is a mock implementation of [summary.Store].
type Store struct {
	mu sync.Mutex

	// AppendError is the error returned by [Store.Append].
	AppendError error

	// AppendCalls records all appended rows in order.
	AppendCalls []summary.Row
}

// Append implements [summary.Store].
func (s *Store) Append(_ context.Context, row summary.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendCalls = append(s.AppendCalls, row)
	return s.AppendError
}

// Rows returns a copy of all appended rows.
func (s *Store) Rows() []summary.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]summary.Row, len(s.AppendCalls))
	copy(out, s.AppendCalls)
	return out
}
