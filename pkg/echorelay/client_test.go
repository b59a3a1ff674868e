package echorelay

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// closedAddress возвращает адрес порта, на котором никто не слушает.
func closedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// TestClientEchoRoundTrip проверяет отправку и получение эха через клиент
func TestClientEchoRoundTrip(t *testing.T) {
	server, _ := startTestServer(t, Config{})
	client := dialTestServer(t, server)
	require.Equal(t, server.GetAddress(), client.GetAddress())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := client.Echo(ctx, []byte("round trip"))
	require.NoError(t, err)
	require.Equal(t, "round trip", string(reply))

	require.NoError(t, client.Verify(ctx, []byte("verified")))
}

// TestClientMaxReconnectAttempts проверяет ошибку после исчерпания попыток подключения
func TestClientMaxReconnectAttempts(t *testing.T) {
	addr := closedAddress(t)

	start := time.Now()
	_, err := Dial(context.Background(), addr, ClientConfig{
		ConnectTimeout:       time.Second,
		MaxReconnectAttempts: 2,
		ReconnectBaseDelay:   20 * time.Millisecond,
		Logger:               newTestLogger(),
	})
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.ErrorIs(t, err, syscall.ECONNREFUSED)
	// 20ms + 40ms задержки между попытками
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

// TestClientContextCancellation проверяет прерывание ожидания переподключения
func TestClientContextCancellation(t *testing.T) {
	addr := closedAddress(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, addr, ClientConfig{
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   time.Second,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestClientReceiveCancelled проверяет, что отмена контекста прерывает чтение
func TestClientReceiveCancelled(t *testing.T) {
	server, _ := startTestServer(t, Config{})
	client := dialTestServer(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	// Сервер ничего не пришлет, пока клиент ничего не отправил
	_, err := client.Receive(ctx, 4)
	require.ErrorIs(t, err, context.Canceled)
}

// TestClientNotConnected проверяет операции на закрытом клиенте
func TestClientNotConnected(t *testing.T) {
	server, _ := startTestServer(t, Config{})
	client := dialTestServer(t, server)

	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Close(), ErrClientNotConnected)
	require.ErrorIs(t, client.Send([]byte("x")), ErrClientNotConnected)
	require.ErrorIs(t, client.CloseWrite(), ErrClientNotConnected)

	_, err := client.Receive(context.Background(), 1)
	require.ErrorIs(t, err, ErrClientNotConnected)
}

// TestClientHalfClose проверяет получение эха после CloseWrite
func TestClientHalfClose(t *testing.T) {
	server, _ := startTestServer(t, Config{})
	client := dialTestServer(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Send([]byte("last words")))
	require.NoError(t, client.CloseWrite())

	reply, err := client.Receive(ctx, len("last words"))
	require.NoError(t, err)
	require.Equal(t, "last words", string(reply))
}

// TestCalculateReconnectDelay проверяет экспоненциальную задержку с ограничением
func TestCalculateReconnectDelay(t *testing.T) {
	c := &Client{config: ClientConfig{
		ReconnectBaseDelay: 100 * time.Millisecond,
		ReconnectMaxDelay:  time.Second,
	}}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, c.calculateReconnectDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}
