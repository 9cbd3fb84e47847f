package async

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/crew/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a bytes.Buffer for logs written from other goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*observability.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return observability.NewLogger(observability.DebugLevel, buf), buf
}

func TestRun_Success(t *testing.T) {
	logger, logs := testLogger()

	err := Run(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Contains(t, logs.String(), "task completed")
}

func TestRun_WithError(t *testing.T) {
	logger, logs := testLogger()
	boom := errors.New("test error")

	err := Run(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, logs.String(), "task failed")
	assert.Contains(t, logs.String(), "test error")
}

func TestRun_Timeout(t *testing.T) {
	logger, _ := testLogger()

	err := Run(context.Background(), logger, 20*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_PanicRecovery(t *testing.T) {
	logger, logs := testLogger()

	err := Run(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in test task: test panic")
	assert.Contains(t, logs.String(), "PANIC in test task")
}

func TestRun_ParentCancellation(t *testing.T) {
	logger, _ := testLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, logger, time.Second, "test task", func(ctx context.Context) error {
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSafeGo(t *testing.T) {
	logger, _ := testLogger()
	executed := atomic.Bool{}
	done := make(chan struct{})

	SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		defer close(done)
		executed.Store(true)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
	assert.True(t, executed.Load())
}

func TestSafeGo_PanicDoesNotCrash(t *testing.T) {
	logger, logs := testLogger()
	done := make(chan struct{})

	SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		defer close(done)
		panic("test panic")
	})

	<-done
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("PANIC in test task"))
	}, time.Second, 10*time.Millisecond)
}
