package echorelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ServerState - состояние жизненного цикла сервера.
type ServerState int32

const (
	StateStopped ServerState = iota
	StateListening
	StateShuttingDown
)

func (s ServerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server представляет конкурентный TCP эхо-сервер.
//
// Каждое принятое соединение обслуживается собственным супервизором (Connection)
// с парой горутин чтения и записи и ограниченной очередью между ними.
// Сервер поддерживает graceful shutdown с таймаутом и ограничение числа подключений.
type Server struct {
	config   Config
	logger   debugLogger
	observer Observer

	// listen открывает listener; подменяется в тестах
	listen func(ctx context.Context, address string) (net.Listener, error)

	// Состояние сервера. lifecycle защищает запуск: Shutdown во время Start
	// ждет, пока listener будет открыт или Start завершится ошибкой.
	lifecycle sync.Mutex
	listener  net.Listener
	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
	done      chan struct{}

	// Управление соединениями
	mu          sync.Mutex
	connections map[uint64]*Connection
	acceptWg    sync.WaitGroup // для ожидания завершения acceptLoop
	connWg      sync.WaitGroup // для ожидания завершения всех соединений
	connCount   atomic.Int64   // счётчик для GetConnectionCount()
}

// NewServer создает новый сервер с указанной конфигурацией.
// Нулевые поля конфигурации заменяются значениями по умолчанию.
//
// Пример:
//
//	server, err := NewServer(Config{
//	    MaxConnections: 1000,
//	    QueueCapacity:  128,
//	    Logger:         slog.Default(),
//	})
func NewServer(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	return &Server{
		config:      config,
		logger:      newDebugLogger(config.Logger, config.LogLevel),
		observer:    config.Observer,
		connections: make(map[uint64]*Connection),
		listen: func(ctx context.Context, address string) (net.Listener, error) {
			var lc net.ListenConfig
			return lc.Listen(ctx, "tcp", address)
		},
	}, nil
}

// Start открывает listener на address и запускает прием подключений в фоне.
//
// Параметры:
//   - ctx: контекст жизненного цикла сервера (при завершении сервер автоматически останавливается)
//   - address: адрес в формате "host:port" (":0" выбирает свободный порт)
//
// Возвращает:
//   - <-chan struct{}: канал, который закрывается при полной остановке сервера
//   - error: *BindError, если адрес недоступен, или ошибка состояния
//
// Метод возвращается, когда listener уже принимает подключения.
func (s *Server) Start(ctx context.Context, address string) (<-chan struct{}, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		if s.State() == StateStopped {
			return nil, ErrServerClosed
		}
		return nil, ErrServerAlreadyStarted
	}

	listener, err := s.listen(ctx, address)
	if err != nil {
		return nil, &BindError{Addr: address, Err: err}
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.listener = listener
	s.state.Store(int32(StateListening))

	s.logger.Info("echo server started", "address", listener.Addr().String())

	s.acceptWg.Add(1)
	go s.acceptLoop()

	// Запускаем монитор контекста для автоматической остановки
	go s.contextMonitor()

	return s.done, nil
}

// acceptLoop принимает новые подключения в отдельной горутине.
func (s *Server) acceptLoop() {
	defer s.acceptWg.Done()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}

			if errors.Is(err, net.ErrClosed) {
				// Listener закрыт не через Shutdown - сервер дальше работать не может
				s.logger.Error("listener closed unexpectedly", "error", err)
				s.observer.AcceptError(fmt.Errorf("%w: %w", ErrAcceptFatal, err), false)
				go func() { _ = s.Shutdown() }()
				return
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.Warn("accept error, retrying", "error", err, "backoff", backoff)
			s.observer.AcceptError(fmt.Errorf("%w: %w", ErrAcceptTransient, err), true)

			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		backoff = 0

		// Проверяем лимит подключений
		if s.config.MaxConnections > 0 && s.connCount.Load() >= int64(s.config.MaxConnections) {
			s.logger.Warn("max connections reached, rejecting connection", "remote_addr", conn.RemoteAddr().String())
			s.observer.AcceptError(fmt.Errorf("%w: %s", ErrMaxConnectionsReached, conn.RemoteAddr()), true)
			_ = conn.Close()
			continue
		}

		s.handleConnection(conn)
	}
}

// contextMonitor отслеживает завершение контекста и автоматически останавливает сервер.
func (s *Server) contextMonitor() {
	select {
	case <-s.ctx.Done():
		s.logger.Info("context cancelled, stopping server")
		_ = s.Shutdown()
	case <-s.done:
	}
}

// handleConnection регистрирует соединение и запускает его супервизор.
func (s *Server) handleConnection(conn net.Conn) {
	s.connWg.Add(1)
	s.connCount.Add(1)

	// Соединения не наследуют отмену контекста сервера: при остановке они сначала
	// получают graceful сигнал и закрываются принудительно только по таймауту.
	connCtx := context.WithoutCancel(s.ctx)
	connection := newConnection(connCtx, conn, s.config, s.logger, s.removeConnection)

	s.mu.Lock()
	s.connections[connection.id] = connection
	s.mu.Unlock()

	s.observer.ConnectionAccepted(connection.info)
	s.logger.debug(LogLevelDebug1, "connection accepted", "conn_id", connection.id, "remote_addr", connection.info.Addr)

	connection.start()
}

// removeConnection вызывается супервизором после остановки соединения.
func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	delete(s.connections, c.id)
	s.mu.Unlock()

	s.connCount.Add(-1)
	s.connWg.Done()
}

// Shutdown останавливает сервер.
//
// Процесс остановки:
//  1. Закрывает listener (новые подключения не принимаются)
//  2. Уведомляет все соединения о graceful shutdown (досылка накопленных данных)
//  3. Ждет ShutdownTimeout или пока все соединения не закроются
//  4. Принудительно закрывает оставшиеся соединения и ждет остановки всех горутин
//  5. Закрывает канал done
//
// Метод идемпотентен: повторные вызовы дожидаются завершения первой остановки и возвращают nil.
func (s *Server) Shutdown() error {
	s.lifecycle.Lock()
	started := s.done != nil
	s.lifecycle.Unlock()
	if !started {
		return ErrServerNotStarted
	}

	var stopErr error
	first := false
	s.stopOnce.Do(func() {
		first = true
		s.state.Store(int32(StateShuttingDown))
		s.logger.Info("stopping echo server")

		// Отменяем контекст сервера первым делом, чтобы acceptLoop корректно завершился
		s.cancel()

		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("error closing listener", "error", err)
			stopErr = err
		}
		s.acceptWg.Wait()

		s.ForEachConnection(func(c *Connection) bool {
			c.NotifyShutdown()
			return true
		})

		done := make(chan struct{})
		go func() {
			s.connWg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("all connections closed gracefully")
		case <-time.After(s.config.ShutdownTimeout):
			s.logger.Warn("graceful shutdown timeout, forcefully closing remaining connections",
				"remaining", s.GetConnectionCount())
			s.ForEachConnection(func(c *Connection) bool {
				_ = c.Close()
				return true
			})
			<-done
		}

		s.state.Store(int32(StateStopped))
		s.logger.Info("echo server stopped")
		close(s.done)
	})

	if !first {
		<-s.done
	}
	return stopErr
}

// State возвращает текущее состояние сервера.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// IsRunning возвращает true, если сервер принимает подключения.
func (s *Server) IsRunning() bool {
	return s.State() == StateListening
}

// GetConnectionCount возвращает текущее количество активных подключений.
func (s *Server) GetConnectionCount() int64 {
	return s.connCount.Load()
}

// GetAddress возвращает адрес, на котором работает сервер.
func (s *Server) GetAddress() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ForEachConnection выполняет fn для каждого активного соединения.
// Если fn возвращает false, обход прерывается.
// fn вызывается вне блокировки, поэтому может закрывать соединения.
func (s *Server) ForEachConnection(fn func(*Connection) bool) {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if !fn(c) {
			return
		}
	}
}
