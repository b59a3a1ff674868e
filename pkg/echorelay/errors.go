package echorelay

import (
	"errors"
	"fmt"
)

var (
	// ErrServerNotStarted возвращается при попытке остановить незапущенный сервер
	ErrServerNotStarted = errors.New("server: not started")

	// ErrServerAlreadyStarted возвращается при попытке запустить уже работающий сервер
	ErrServerAlreadyStarted = errors.New("server: already started")

	// ErrServerClosed возвращается при попытке повторно запустить остановленный сервер
	ErrServerClosed = errors.New("server: closed")

	// ErrInvalidConfig возвращается при некорректной конфигурации
	ErrInvalidConfig = errors.New("server: invalid config")

	// ErrBind - базовая ошибка привязки к адресу, см. BindError
	ErrBind = errors.New("listener: bind failed")

	// ErrAcceptTransient помечает временную ошибку accept, цикл продолжает работу
	ErrAcceptTransient = errors.New("listener: transient accept error")

	// ErrAcceptFatal помечает ошибку, после которой listener непригоден
	ErrAcceptFatal = errors.New("listener: fatal accept error")

	// ErrMaxConnectionsReached возвращается когда достигнут лимит подключений
	ErrMaxConnectionsReached = errors.New("listener: maximum connections reached")

	ErrReadFailure  = errors.New("relay: read failure")
	ErrWriteFailure = errors.New("relay: write failure")
	ErrIdleTimeout  = errors.New("relay: idle timeout")

	// ErrQueueCancelled не является ошибкой ввода-вывода: операция с очередью
	// прервана отменой контекста супервизора.
	ErrQueueCancelled = errors.New("queue: cancelled")

	// ErrQueueClosed возвращается операциями над закрытой очередью
	ErrQueueClosed = errors.New("queue: closed")
)

// BindError возвращается Start, если не удалось открыть listener.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("listener: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}

// CloseReason описывает, почему супервизор закрыл соединение.
type CloseReason uint8

const (
	ReasonUnknown CloseReason = iota
	ReasonPeerClosed
	ReasonReadFailure
	ReasonWriteFailure
	ReasonIdleTimeout
	ReasonShutdown
	ReasonCancelled
)

func (r CloseReason) String() string {
	switch r {
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonReadFailure:
		return "read_failure"
	case ReasonWriteFailure:
		return "write_failure"
	case ReasonIdleTimeout:
		return "idle_timeout"
	case ReasonShutdown:
		return "shutdown"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// reasonFor сопоставляет ошибку завершения задачи с причиной закрытия.
// nil означает чистое завершение.
func reasonFor(err error) CloseReason {
	switch {
	case err == nil:
		return ReasonPeerClosed
	case errors.Is(err, ErrIdleTimeout):
		return ReasonIdleTimeout
	case errors.Is(err, ErrReadFailure):
		return ReasonReadFailure
	case errors.Is(err, ErrWriteFailure):
		return ReasonWriteFailure
	case errors.Is(err, ErrQueueCancelled), errors.Is(err, ErrQueueClosed):
		return ReasonCancelled
	default:
		return ReasonUnknown
	}
}
