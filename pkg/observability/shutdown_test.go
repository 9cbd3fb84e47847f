package observability

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
}

func TestShutdownManager_RunsFunctions(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	var calls int32
	for _, name := range []string{"redis", "database", "otel"} {
		sm.RegisterShutdownFunc(name, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}
	sm.RegisterShutdownFunc("ignored", nil)

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)
	errRedis := errors.New("redis close failed")

	sm.RegisterShutdownFunc("redis", func(ctx context.Context) error { return errRedis })
	sm.RegisterShutdownFunc("database", func(ctx context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errRedis)
	assert.Contains(t, err.Error(), "1 errors")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)
	release := make(chan struct{})
	defer close(release)

	sm.RegisterShutdownFunc("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sm.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownManager_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	sm := NewShutdownManager(NewLogger(InfoLevel, &buf), time.Second)
	sm.RegisterShutdownFunc("cron", func(ctx context.Context) error { panic("boom") })

	assert.NotPanics(t, func() {
		assert.NoError(t, sm.Shutdown(context.Background()))
	})
	assert.Contains(t, buf.String(), "PANIC recovered")
}

func TestShutdownManager_DrainsServers(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})}
	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()

	resp, err := http.Get("http://" + listener.Addr().String())
	require.NoError(t, err)
	resp.Body.Close()

	var funcRan atomic.Bool
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second, server)
	sm.RegisterShutdownFunc("after", func(ctx context.Context) error {
		funcRan.Store(true)
		return nil
	})

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.True(t, funcRan.Load())
	assert.ErrorIs(t, <-served, http.ErrServerClosed)
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "token cleanup")
		panic("nil map")
	}()

	assert.Contains(t, buf.String(), "token cleanup")
	assert.Contains(t, buf.String(), "nil map")
}
