package echorelay

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type closedEvent struct {
	info   ConnInfo
	reason CloseReason
	err    error
}

// recordingObserver запоминает события сервера для проверок в тестах.
type recordingObserver struct {
	mu         sync.Mutex
	accepted   []ConnInfo
	acceptErrs []error
	transient  []bool

	closedCh chan closedEvent
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	chunksIn atomic.Int64
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{closedCh: make(chan closedEvent, 4096)}
}

func (o *recordingObserver) ConnectionAccepted(conn ConnInfo) {
	o.mu.Lock()
	o.accepted = append(o.accepted, conn)
	o.mu.Unlock()
}

func (o *recordingObserver) ConnectionClosed(conn ConnInfo, reason CloseReason, err error) {
	o.closedCh <- closedEvent{info: conn, reason: reason, err: err}
}

func (o *recordingObserver) BytesRelayed(_ ConnInfo, dir Direction, n int) {
	if dir == DirectionIn {
		o.bytesIn.Add(int64(n))
		o.chunksIn.Add(1)
	} else {
		o.bytesOut.Add(int64(n))
	}
}

func (o *recordingObserver) AcceptError(err error, transient bool) {
	o.mu.Lock()
	o.acceptErrs = append(o.acceptErrs, err)
	o.transient = append(o.transient, transient)
	o.mu.Unlock()
}

func (o *recordingObserver) acceptedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.accepted)
}

func (o *recordingObserver) acceptErrors() ([]error, []bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.acceptErrs...), append([]bool(nil), o.transient...)
}

// waitClosed ждет события connection_closed.
func (o *recordingObserver) waitClosed(t *testing.T, timeout time.Duration) closedEvent {
	t.Helper()
	select {
	case ev := <-o.closedCh:
		return ev
	case <-time.After(timeout):
		t.Fatal("timeout waiting for connection_closed event")
		return closedEvent{}
	}
}

// startTestServer запускает сервер на случайном порту loopback интерфейса.
func startTestServer(t *testing.T, cfg Config) (*Server, *recordingObserver) {
	t.Helper()
	obs := newRecordingObserver()
	if cfg.Observer == nil {
		cfg.Observer = obs
	}
	if cfg.Logger == nil {
		cfg.Logger = newTestLogger()
	}

	server, err := NewServer(cfg)
	require.NoError(t, err)

	done, err := server.Start(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Shutdown()
		<-done
	})
	return server, obs
}

func dialTestServer(t *testing.T, server *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Dial(ctx, server.GetAddress(), ClientConfig{
		ConnectTimeout:       5 * time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// startPipeConnection запускает супервизор поверх conn без сервера.
func startPipeConnection(t *testing.T, conn net.Conn, cfg Config) (*Connection, *recordingObserver) {
	t.Helper()
	obs := newRecordingObserver()
	cfg.Observer = obs
	cfg.Logger = newTestLogger()
	cfg.LogLevel = LogLevelDebug3
	cfg = cfg.withDefaults()

	c := newConnection(context.Background(), conn, cfg, newDebugLogger(cfg.Logger, cfg.LogLevel), nil)
	c.start()
	t.Cleanup(func() {
		_ = c.Close()
		<-c.Done()
	})
	return c, obs
}

// countingConn считает вызовы Close.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// faultyConn возвращает заданные ошибки чтения или записи.
type faultyConn struct {
	net.Conn
	readErr  error
	writeErr error
}

func (c *faultyConn) Read(b []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	return c.Conn.Read(b)
}

func (c *faultyConn) Write(b []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.Conn.Write(b)
}
