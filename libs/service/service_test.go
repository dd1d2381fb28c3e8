package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testService struct {
	BaseService
	startErr error
	stops    int
}

func newTestService(name string) *testService {
	ts := &testService{}
	ts.BaseService = *NewBaseService(nil, name, ts)
	return ts
}

func (ts *testService) OnStart(context.Context) error { return ts.startErr }
func (ts *testService) OnStop()                       { ts.stops++ }

func TestBaseServiceWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService("TestService")
	require.NoError(t, ts.Start(ctx))

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		close(waitFinished)
	}()

	go ts.Stop() //nolint:errcheck // ignore for tests

	select {
	case <-waitFinished:
		// all good
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected Wait() to finish within 100 ms.")
	}
}

func TestBaseServiceStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ts := newTestService("TestService")
	require.NoError(t, ts.Start(ctx))
	require.True(t, ts.IsRunning())

	cancel()

	select {
	case <-ts.quit:
	case <-time.After(time.Second):
		t.Fatal("service did not stop after context cancellation")
	}
	require.False(t, ts.IsRunning())
	require.ErrorIs(t, ts.Stop(), ErrAlreadyStopped)
}

func TestBaseServiceLifecycleErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService("TestService")
	require.ErrorIs(t, ts.Stop(), ErrNotStarted)

	ts.startErr = errors.New("boom")
	require.Error(t, ts.Start(ctx))
	require.False(t, ts.IsRunning())

	ts.startErr = nil
	require.NoError(t, ts.Start(ctx))
	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, ts.Stop())
	require.Equal(t, 1, ts.stops)
}

func TestGroupStartsAndStopsMembers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newTestService("a"), newTestService("b")
	g := NewGroup(nil, "group", a, b)
	require.NoError(t, g.Start(ctx))
	require.True(t, a.IsRunning())
	require.True(t, b.IsRunning())

	require.NoError(t, g.Stop())
	require.False(t, a.IsRunning())
	require.False(t, b.IsRunning())
}

func TestGroupRollsBackOnFailedStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newTestService("a"), newTestService("b")
	b.startErr = errors.New("boom")
	g := NewGroup(nil, "group", a, b)
	require.Error(t, g.Start(ctx))
	require.False(t, a.IsRunning())
	require.Equal(t, 1, a.stops)
}
