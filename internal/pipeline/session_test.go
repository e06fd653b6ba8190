// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

func slowRunner() *Runner {
	src := &fakeSource{ids: types.IdentifierBatch{"1"}, articles: articles("1")}
	sum := &fakeSummarizer{delay: map[string]time.Duration{"1": time.Minute}}
	r, _ := newRunner(src, sum)
	return r
}

func TestSessionSupersedesInFlightRun(t *testing.T) {
	var s Session
	slow := slowRunner()

	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), slow, Request{Question: "first", Mode: types.ModeSingle, NoSynthesis: true})
		errc <- err
	}()
	require.Eventually(t, s.Busy, time.Second, time.Millisecond)

	fast, _ := newRunner(&fakeSource{ids: types.IdentifierBatch{"2"}, articles: articles("2")}, &fakeSummarizer{})
	res, err := s.Run(context.Background(), fast, Request{Question: "second"})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Question)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("first run was not cancelled")
	}
	assert.False(t, s.Busy())
}

func TestSessionCancel(t *testing.T) {
	var s Session
	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), slowRunner(), Request{Question: "q", Mode: types.ModeSingle, NoSynthesis: true})
		errc <- err
	}()
	require.Eventually(t, s.Busy, time.Second, time.Millisecond)

	s.Cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled")
	}
}

func TestSessionsRemovesIdle(t *testing.T) {
	var m Sessions
	r, _ := newRunner(&fakeSource{ids: types.IdentifierBatch{}}, &fakeSummarizer{})

	_, err := m.Run(context.Background(), "alice", r, Request{Question: "q"})
	require.NoError(t, err)
	assert.Zero(t, m.Len())

	_, err = m.Run(context.Background(), "", r, Request{Question: "q"})
	require.NoError(t, err)
	assert.Zero(t, m.Len())
}

func TestSessionsIsolatesKeys(t *testing.T) {
	var m Sessions
	errc := make(chan error, 1)
	go func() {
		_, err := m.Run(context.Background(), "alice", slowRunner(), Request{Question: "q", Mode: types.ModeSingle, NoSynthesis: true})
		errc <- err
	}()
	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, time.Millisecond)

	r, _ := newRunner(&fakeSource{ids: types.IdentifierBatch{}}, &fakeSummarizer{})
	_, err := m.Run(context.Background(), "bob", r, Request{Question: "q"})
	require.NoError(t, err)

	select {
	case <-errc:
		t.Fatal("run in another session was cancelled")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = m.Run(context.Background(), "alice", r, Request{Question: "q"})
	require.NoError(t, err)
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not superseded")
	}
}

func TestSessionsCancel(t *testing.T) {
	var m Sessions
	assert.False(t, m.Cancel("alice"))

	errc := make(chan error, 1)
	go func() {
		_, err := m.Run(context.Background(), "alice", slowRunner(), Request{Question: "q", Mode: types.ModeSingle, NoSynthesis: true})
		errc <- err
	}()
	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return m.Cancel("alice") }, time.Second, time.Millisecond)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled")
	}
	assert.Zero(t, m.Len())
}
