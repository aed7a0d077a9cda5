package search

import (
	"context"
	"sync/atomic"
)

// Session tracks one in-flight search on behalf of an interactive
// caller. Issuing a new search under the same key supersedes the old
// one: its context is cancelled and its stream closes without a
// completion update. Workers poll Cancelled at batch boundaries, so a
// superseded search stops quickly but never mid-batch.
type Session struct {
	key       string
	raw       string
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func newSession(key, raw string, cancel context.CancelFunc) *Session {
	return &Session{key: key, raw: raw, cancel: cancel}
}

// Cancelled reports whether the session was superseded or cancelled.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

func (s *Session) supersede() {
	s.cancelled.Store(true)
	s.cancel()
}
