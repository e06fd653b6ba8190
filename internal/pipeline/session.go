// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is the cancellation cause recorded on a run that was
// replaced by a newer run of the same session.
var ErrSuperseded = errors.New("superseded by a newer run")

// Session serializes runs for one user. Starting a run cancels the
// session's in-flight run, so only the latest run updates display state.
// The zero value is ready to use.
type Session struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelCauseFunc
}

// Run cancels any in-flight run of this session and executes req on r.
// A superseded run returns an error matching both context.Canceled and
// ErrSuperseded.
func (s *Session) Run(ctx context.Context, r *Runner, req Request) (*Result, error) {
	ctx, seq := s.begin(ctx)
	defer s.end(seq)

	res, err := r.Run(ctx, req)
	if err != nil && errors.Is(err, context.Canceled) {
		if cause := context.Cause(ctx); errors.Is(cause, ErrSuperseded) {
			err = errors.Join(err, cause)
		}
	}
	return res, err
}

// Cancel stops the in-flight run, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(context.Canceled)
		s.cancel = nil
	}
}

// Busy reports whether a run is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Session) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(ErrSuperseded)
	}
	s.seq++
	s.cancel = cancel
	return ctx, s.seq
}

func (s *Session) end(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == seq && s.cancel != nil {
		s.cancel(nil)
		s.cancel = nil
	}
}

// Sessions maps session keys to Sessions. Idle sessions are removed when
// their run finishes.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*sessionRef
}

type sessionRef struct {
	session Session
	active  int
}

// Run executes req in the session named key, cancelling that session's
// in-flight run. An empty key runs without a session.
func (m *Sessions) Run(ctx context.Context, key string, r *Runner, req Request) (*Result, error) {
	if key == "" {
		return r.Run(ctx, req)
	}
	ref := m.acquire(key)
	defer m.release(key, ref)
	return ref.session.Run(ctx, r, req)
}

// Cancel stops the in-flight run of the session named key and reports
// whether there was one.
func (m *Sessions) Cancel(key string) bool {
	m.mu.Lock()
	ref, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok || !ref.session.Busy() {
		return false
	}
	ref.session.Cancel()
	return true
}

// Len returns the number of sessions with a run in flight.
func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Sessions) acquire(key string) *sessionRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]*sessionRef)
	}
	ref, ok := m.sessions[key]
	if !ok {
		ref = &sessionRef{}
		m.sessions[key] = ref
	}
	ref.active++
	return ref
}

func (m *Sessions) release(key string, ref *sessionRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref.active--
	if ref.active == 0 {
		delete(m.sessions, key)
	}
}
