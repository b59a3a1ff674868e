package echorelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"
)

var (
	// ErrClientNotConnected возвращается при попытке использовать закрытый клиент
	ErrClientNotConnected = errors.New("client: not connected")

	// ErrConnectionFailed возвращается, когда исчерпаны все попытки подключения
	ErrConnectionFailed = errors.New("client: connection failed")

	// ErrEchoMismatch возвращается Verify, если эхо отличается от отправленного
	ErrEchoMismatch = errors.New("client: echo mismatch")
)

// ClientConfig содержит параметры конфигурации клиента эхо-сервера.
type ClientConfig struct {
	// ConnectTimeout таймаут для установки соединения.
	// Если 0, используется таймаут по умолчанию (10 секунд).
	ConnectTimeout time.Duration

	// MaxReconnectAttempts - количество повторных попыток подключения после первой неудачи.
	MaxReconnectAttempts int

	// ReconnectBaseDelay базовая задержка перед первой повторной попыткой.
	// Задержка увеличивается экспоненциально: baseDelay * 2^(attempt-1).
	// Если 0, используется значение по умолчанию (100 миллисекунд).
	ReconnectBaseDelay time.Duration

	// ReconnectMaxDelay максимальная задержка между попытками.
	// Если 0, используется значение по умолчанию (5 секунд).
	ReconnectMaxDelay time.Duration

	// Logger используется для логгирования событий клиента.
	Logger *slog.Logger
}

// Client - простой клиент для проверки эхо-сервера: отправляет данные
// и читает ровно столько же байт обратно.
type Client struct {
	address string
	config  ClientConfig
	logger  *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// Dial подключается к эхо-серверу, повторяя попытки с экспоненциальной задержкой.
//
// Пример:
//
//	client, err := Dial(ctx, "localhost:8080", ClientConfig{MaxReconnectAttempts: 3})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	reply, err := client.Echo(ctx, []byte("hello"))
func Dial(ctx context.Context, address string, config ClientConfig) (*Client, error) {
	if config.Logger == nil {
		config.Logger = NewNoopLogger()
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ReconnectBaseDelay == 0 {
		config.ReconnectBaseDelay = 100 * time.Millisecond
	}
	if config.ReconnectMaxDelay == 0 {
		config.ReconnectMaxDelay = 5 * time.Second
	}

	c := &Client{
		address: address,
		config:  config,
		logger:  config.Logger.With("address", address),
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxReconnectAttempts; attempt++ {
		if attempt > 0 {
			delay := c.calculateReconnectDelay(attempt)
			c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		conn, err := c.connect(ctx)
		if err == nil {
			c.conn = conn
			return c, nil
		}
		lastErr = err
		c.logger.Warn("connect attempt failed", "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, lastErr)
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	return d.DialContext(connectCtx, "tcp", c.address)
}

// calculateReconnectDelay вычисляет задержку для попытки переподключения.
func (c *Client) calculateReconnectDelay(attempt int) time.Duration {
	delay := float64(c.config.ReconnectBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.config.ReconnectMaxDelay) {
		delay = float64(c.config.ReconnectMaxDelay)
	}
	return time.Duration(delay)
}

// Send записывает payload в соединение.
func (c *Client) Send(payload []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	_, err = conn.Write(payload)
	return err
}

// Receive читает ровно n байт. Отмена ctx прерывает ожидание.
func (c *Client) Receive(ctx context.Context, n int) ([]byte, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return buf, nil
}

// Echo отправляет payload и возвращает ответ той же длины.
func (c *Client) Echo(ctx context.Context, payload []byte) ([]byte, error) {
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	return c.Receive(ctx, len(payload))
}

// Verify выполняет Echo и сравнивает ответ с отправленными данными.
func (c *Client) Verify(ctx context.Context, payload []byte) error {
	reply, err := c.Echo(ctx, payload)
	if err != nil {
		return err
	}
	if string(reply) != string(payload) {
		return fmt.Errorf("%w: sent %d bytes, got %q", ErrEchoMismatch, len(payload), reply)
	}
	return nil
}

// CloseWrite закрывает пишущую сторону соединения (half-close), если транспорт это поддерживает.
func (c *Client) CloseWrite() error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return conn.Close()
}

// Close закрывает соединение. Повторные вызовы возвращают ErrClientNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return ErrClientNotConnected
	}
	return conn.Close()
}

// GetAddress возвращает адрес сервера.
func (c *Client) GetAddress() string {
	return c.address
}

func (c *Client) current() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrClientNotConnected
	}
	return c.conn, nil
}
