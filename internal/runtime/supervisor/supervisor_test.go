package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("boom", func(context.Context) { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom: panic: kaboom")

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, uint64(1), snap.Tasks[0].Panics)
	assert.Equal(t, "kaboom", snap.Tasks[0].LastPanic)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("bad") })
	s.Go("waits", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, "fails: bad", err.Error())
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t))
	assert.Equal(t, int32(3), runs.Load())
	assert.EqualError(t, err, "flaky: transient")

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, uint64(2), snap.Tasks[0].Restarts)
	assert.Equal(t, uint64(3), snap.Tasks[0].Started)
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("doomed", func(context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	assert.EqualError(t, s.Wait(waitCtx(t)), "doomed: nope")
	assert.Equal(t, int32(3), runs.Load())
}

func TestRestartOnCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart0("poll", func(context.Context) {
		if runs.Add(1) == 3 {
			s.Cancel()
		}
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithStopOnCleanExit(false))

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Equal(t, int32(3), runs.Load())
}

func TestStopCancelsTasks(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.GoRestart0("loop", func(ctx context.Context) { <-ctx.Done() })

	require.NoError(t, s.Stop(waitCtx(t)))
	assert.Zero(t, s.Snapshot().Active)
}
