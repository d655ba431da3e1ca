package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pong() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
}

func loopback(t *testing.T, name string) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	m := NewManager(name, pong(), cfg, zap.NewNop())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// fetch 返回响应体，连接失败时返回 ""
func fetch(m *Manager) string {
	resp, err := http.Get("http://" + m.Addr() + "/")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, 5*time.Minute, cfg.WriteTimeout, "SSE replies need a long write window")
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestManager_ServesUntilShutdown(t *testing.T) {
	m := loopback(t, "api")
	assert.Equal(t, "127.0.0.1:0", m.Addr())

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.NotEqual(t, "127.0.0.1:0", m.Addr(), "Addr reports the bound port")
	assert.Equal(t, "pong", fetch(m))

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.Empty(t, fetch(m))
}

func TestManager_StartPhases(t *testing.T) {
	m := loopback(t, "api")
	require.NoError(t, m.Start())
	assert.ErrorContains(t, m.Start(), "api server already started")

	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorContains(t, m.Start(), "api server is closed")
}

func TestManager_RunUntilCancel(t *testing.T) {
	m := loopback(t, "metrics")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return fetch(m) == "pong" }, 2*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_RunPortInUse(t *testing.T) {
	first := loopback(t, "a")
	require.NoError(t, first.Start())

	cfg := DefaultConfig()
	cfg.Addr = first.Addr()
	second := NewManager("b", pong(), cfg, nil)

	assert.ErrorContains(t, second.Run(context.Background()), "b server: listen")
}

func TestManager_NoErrorsWhileIdle(t *testing.T) {
	m := loopback(t, "api")
	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

func TestWatch(t *testing.T) {
	t.Run("returns nil on cancel", func(t *testing.T) {
		m := loopback(t, "api")
		require.NoError(t, m.Start())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.NoError(t, Watch(ctx, m, nil))
	})

	t.Run("returns first serve error", func(t *testing.T) {
		m := loopback(t, "metrics")
		m.errCh <- errors.New("accept: too many open files")

		err := Watch(context.Background(), m)
		assert.ErrorContains(t, err, "metrics server: accept")
	})

	t.Run("no managers", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, Watch(ctx))
	})
}
