package async

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetOutput(io.Discard)
	return log, hook
}

func TestGo_Success(t *testing.T) {
	log, hook := newTestLogger()
	var wg sync.WaitGroup
	executed := atomic.Bool{}

	Go(context.Background(), &wg, log, "test task", 0, func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})
	wg.Wait()

	assert.True(t, executed.Load())
	assert.Empty(t, hook.AllEntries())
}

func TestGo_WithError(t *testing.T) {
	log, hook := newTestLogger()
	var wg sync.WaitGroup

	Go(context.Background(), &wg, log, "test task", 0, func(ctx context.Context) error {
		return errors.New("test error")
	})
	wg.Wait()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "test task", hook.LastEntry().Data["task"])
	assert.Equal(t, "Background task failed", hook.LastEntry().Message)
}

func TestGo_PanicRecovery(t *testing.T) {
	log, hook := newTestLogger()
	var wg sync.WaitGroup

	Go(context.Background(), &wg, log, "test task", 0, func(ctx context.Context) error {
		panic("test panic")
	})
	wg.Wait()

	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "test panic")
}

func TestGo_Timeout(t *testing.T) {
	log, _ := newTestLogger()
	var wg sync.WaitGroup
	completed := atomic.Bool{}

	Go(context.Background(), &wg, log, "test task", 50*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	wg.Wait()

	assert.False(t, completed.Load())
}

func TestGo_ContextCancellation(t *testing.T) {
	log, _ := newTestLogger()
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	Go(ctx, &wg, log, "test task", 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	<-started
	cancel()
	wg.Wait()
}

func TestSafeGo(t *testing.T) {
	log, _ := newTestLogger()
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, log, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
}

func TestGo_TaskContext(t *testing.T) {
	log, _ := newTestLogger()
	var wg sync.WaitGroup
	var timed, untimed context.Context

	Go(context.Background(), &wg, log, "timed task", time.Minute, func(ctx context.Context) error {
		timed = ctx
		return nil
	})
	Go(context.Background(), &wg, log, "untimed task", 0, func(ctx context.Context) error {
		untimed = ctx
		return nil
	})
	wg.Wait()

	_, ok := timed.Deadline()
	assert.True(t, ok)
	_, ok = untimed.Deadline()
	assert.False(t, ok)

	// Released as soon as the task returns
	assert.ErrorIs(t, timed.Err(), context.Canceled)
	assert.ErrorIs(t, untimed.Err(), context.Canceled)
}
