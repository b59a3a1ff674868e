package echorelay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// connectionIDCounter - глобальный счетчик для генерации уникальных ID соединений
var connectionIDCounter atomic.Uint64

// ConnState - состояние супервизора соединения.
type ConnState int32

const (
	ConnActive ConnState = iota
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnActive:
		return "active"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection - супервизор одного TCP соединения.
//
// Connection владеет net.Conn, очередью ретрансляции и парой горутин:
// read горутина читает чанки из сокета в очередь, write горутина отправляет
// их обратно клиенту. Завершение любой из них приводит к остановке второй,
// однократному закрытию сокета и удалению соединения из сервера.
type Connection struct {
	// id - уникальный идентификатор соединения
	id   uint64
	info ConnInfo

	// conn - базовое TCP соединение
	conn  net.Conn
	queue *RelayQueue

	cfg      Config
	logger   debugLogger
	observer Observer

	// Управление жизненным циклом
	ctx           context.Context
	cancel        context.CancelFunc
	state         atomic.Int32
	closeOnce     sync.Once
	closeErr      error
	shutdownOnce  sync.Once
	shutdownCh    chan struct{} // канал для сигнала graceful shutdown
	flushDeadline atomic.Int64  // unix nano, 0 если досылка не идет
	done          chan struct{}

	// cleanupFunc вызывается супервизором после остановки обеих горутин
	cleanupFunc func(*Connection)
}

// newConnection создает супервизор соединения. Горутины запускаются методом start,
// чтобы сервер успел зарегистрировать соединение до его возможного завершения.
func newConnection(
	parentCtx context.Context,
	conn net.Conn,
	cfg Config,
	logger debugLogger,
	cleanupFunc func(*Connection),
) *Connection {
	ctx, cancel := context.WithCancel(parentCtx)

	id := connectionIDCounter.Add(1)
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}

	return &Connection{
		id:          id,
		info:        ConnInfo{ID: id, Addr: addr},
		conn:        conn,
		queue:       NewRelayQueue(cfg.QueueCapacity),
		cfg:         cfg,
		logger:      logger.with("conn_id", id, "remote_addr", addr),
		observer:    cfg.Observer,
		ctx:         ctx,
		cancel:      cancel,
		shutdownCh:  make(chan struct{}),
		done:        make(chan struct{}),
		cleanupFunc: cleanupFunc,
	}
}

func (c *Connection) start() {
	go c.supervise()
}

// supervise ждет первого сигнала завершения и выполняет полную остановку соединения.
func (c *Connection) supervise() {
	// Внутренний WaitGroup для read/write горутин
	var ioWg sync.WaitGroup
	readErr := make(chan error, 1)
	writeErr := make(chan error, 1)

	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		readErr <- c.readLoop()
	}()
	go func() {
		defer ioWg.Done()
		writeErr <- c.writeLoop()
	}()

	var (
		reason CloseReason
		cause  error
	)

	select {
	case cause = <-readErr:
		switch {
		case cause == nil:
			c.logger.debug(LogLevelDebug1, "peer finished sending, flushing queue", "queued", c.queue.Len())
			reason = ReasonPeerClosed
			if err := c.flush(writeErr); err != nil {
				reason, cause = reasonFor(err), err
			}
		case errors.Is(cause, ErrQueueClosed) && c.IsShuttingDown():
			// read горутина заметила shutdownCh раньше супервизора
			reason, cause = c.shutdown(writeErr)
		default:
			reason = reasonFor(cause)
		}

	case cause = <-writeErr:
		reason = reasonFor(cause)

	case <-c.shutdownCh:
		reason, cause = c.shutdown(writeErr)

	case <-c.ctx.Done():
		reason = ReasonCancelled
		if c.IsShuttingDown() {
			reason = ReasonShutdown
		}
	}

	_ = c.terminate()

	// Ждем завершения read/write горутин
	ioWg.Wait()

	if dropped := c.queue.Drain(); dropped > 0 {
		c.logger.debug(LogLevelDebug1, "discarded queued chunks", "chunks", dropped)
	}

	c.logger.debug(LogLevelDebug1, "connection closed", "reason", reason, "error", cause)

	c.observer.ConnectionClosed(c.info, reason, cause)
	c.state.Store(int32(ConnClosed))
	close(c.done)

	// Cleanup функция вызывается последней: после нее сервер считает соединение остановленным
	if c.cleanupFunc != nil {
		c.cleanupFunc(c)
	}
}

// shutdown останавливает чтение и досылает очередь после сигнала NotifyShutdown.
func (c *Connection) shutdown(writeErr <-chan error) (CloseReason, error) {
	c.logger.debug(LogLevelDebug1, "graceful shutdown, flushing queue", "queued", c.queue.Len())
	// Будим read горутину; она увидит закрытый shutdownCh и завершится.
	_ = c.conn.SetReadDeadline(time.Now())
	if err := c.flush(writeErr); err != nil && reasonFor(err) != ReasonCancelled {
		return ReasonShutdown, err
	}
	return ReasonShutdown, nil
}

// flush запечатывает очередь и ждет, пока write горутина отправит накопленные чанки.
// Досылка ограничена FlushTimeout и отменой контекста.
func (c *Connection) flush(writeErr <-chan error) error {
	c.queue.Seal()
	deadline := time.Now().Add(c.cfg.FlushTimeout)
	c.flushDeadline.Store(deadline.UnixNano())
	_ = c.conn.SetWriteDeadline(deadline)

	select {
	case err := <-writeErr:
		return err
	case <-c.ctx.Done():
		return ErrQueueCancelled
	}
}

// terminate отменяет контекст, закрывает очередь и сокет. Сокет закрывается ровно один раз.
func (c *Connection) terminate() error {
	c.cancel()
	c.queue.Close()
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(int32(ConnActive), int32(ConnClosing))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Close принудительно закрывает соединение, прерывая чтение и запись.
// Метод идемпотентен и потокобезопасен; повторные вызовы возвращают результат первого закрытия.
func (c *Connection) Close() error {
	return c.terminate()
}

// NotifyShutdown уведомляет соединение о graceful shutdown: чтение прекращается,
// уже принятые данные досылаются клиенту в пределах FlushTimeout.
func (c *Connection) NotifyShutdown() {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})
}

// IsShuttingDown возвращает true, если соединение получило сигнал graceful shutdown.
func (c *Connection) IsShuttingDown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

// Done возвращает канал, который закрывается после полной остановки соединения.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// State возвращает текущее состояние супервизора.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// IsClosed возвращает true, если соединение полностью остановлено.
func (c *Connection) IsClosed() bool {
	return c.State() == ConnClosed
}

// GetID возвращает уникальный идентификатор соединения.
func (c *Connection) GetID() uint64 {
	return c.id
}

// RemoteAddr возвращает удаленный адрес соединения.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr возвращает локальный адрес соединения.
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// QueueLen возвращает количество чанков, ожидающих отправки.
func (c *Connection) QueueLen() int {
	return c.queue.Len()
}
