package tcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T, cfg ServerConfig, h Handler) (int, func()) {
	t.Helper()
	cfg.Address = "127.0.0.1"
	if cfg.Port == 0 {
		cfg.Port = freePort(t)
	}
	srv := NewServer(cfg, h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	// Give the listener a moment to bind.
	time.Sleep(30 * time.Millisecond)
	return cfg.Port, func() {
		cancel()
		_ = srv.Shutdown(context.Background())
	}
}

func echoHandler(_ context.Context, req json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(req, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func TestEchoScenario(t *testing.T) {
	var calls int64
	handler := func(ctx context.Context, req json.RawMessage) (any, error) {
		atomic.AddInt64(&calls, 1)
		return echoHandler(ctx, req)
	}
	port, stop := startServer(t, ServerConfig{Memoized: true}, handler)
	defer stop()

	client := NewClient(ClientConfig{Host: "127.0.0.1", Port: port, ReadTimeout: 2 * time.Second})
	resp, err := client.Send(map[string]string{"foo": "bar"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"foo":"bar"}`, string(resp))

	// Second identical request with memoization on must not re-enter the handler.
	resp2, err := client.Send(map[string]string{"foo": "bar"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"foo":"bar"}`, string(resp2))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "memoized handler must run exactly once")
}

func TestFragmentedRequest(t *testing.T) {
	port, stop := startServer(t, ServerConfig{}, echoHandler)
	defer stop()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"foo":`))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write([]byte(`"bar"}`))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"foo":"bar"}`, string(buf[:n]))
}

func TestInvalidJSONNeverReplies(t *testing.T) {
	port, stop := startServer(t, ServerConfig{}, echoHandler)
	defer stop()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"foo":"ba}`))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 1024)
	_, err = conn.Read(buf)
	require.Error(t, err)
	var ne net.Error
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Timeout())
}

func TestHandlerExceptionYieldsNull(t *testing.T) {
	handler := func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	}
	port, stop := startServer(t, ServerConfig{}, handler)
	defer stop()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 1024)
	for i := 0; i < 3; i++ {
		_, err := conn.Write([]byte(`{"x":"y"}`))
		require.NoError(t, err)
		n, err := conn.Read(buf)
		require.NoError(t, err, "connection must stay open across handler errors")
		assert.Equal(t, "null", string(buf[:n]))
	}
}
