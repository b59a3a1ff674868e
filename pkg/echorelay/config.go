package echorelay

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultQueueCapacity - ёмкость очереди ретрансляции по умолчанию (в чанках).
	DefaultQueueCapacity = 64

	// DefaultMaxChunkSize - максимальный размер одного чанка по умолчанию (в байтах).
	DefaultMaxChunkSize = 2048

	// DefaultFlushTimeout - время на досылку уже принятых данных после EOF или graceful shutdown.
	DefaultFlushTimeout = 5 * time.Second

	// DefaultShutdownTimeout - время ожидания graceful shutdown перед принудительным закрытием.
	DefaultShutdownTimeout = 5 * time.Second
)

// LogLevel определяет уровень детализации debug логов библиотеки.
// Info, Warn и Error логи выводятся всегда.
type LogLevel int

const (
	// LogLevelInfo отключает все debug логи.
	LogLevelInfo LogLevel = 0

	// LogLevelDebug1 включает события жизненного цикла:
	// - закрытие соединений и причина закрытия
	// - graceful shutdown отдельных соединений
	LogLevelDebug1 LogLevel = 1

	// LogLevelDebug2 дополнительно включает запуск/остановку read/write горутин
	// и переходы супервизора соединения.
	LogLevelDebug2 LogLevel = 2

	// LogLevelDebug3 дополнительно включает каждый прочитанный и записанный чанк.
	// ВНИМАНИЕ: Генерирует большой объем логов!
	LogLevelDebug3 LogLevel = 3
)

// String возвращает строковое представление уровня логирования.
func (l LogLevel) String() string {
	switch l {
	case LogLevelInfo:
		return "Info"
	case LogLevelDebug1:
		return "Debug1"
	case LogLevelDebug2:
		return "Debug2"
	case LogLevelDebug3:
		return "Debug3"
	default:
		return "Unknown"
	}
}

// Config содержит параметры конфигурации эхо-сервера.
// Нулевые значения полей означают значения по умолчанию.
type Config struct {
	// MaxConnections ограничивает максимальное количество одновременных подключений.
	// 0 означает отсутствие ограничения.
	MaxConnections int

	// QueueCapacity - ёмкость очереди ретрансляции каждого соединения в чанках.
	// Когда очередь заполнена, чтение из сокета приостанавливается (backpressure).
	QueueCapacity int

	// MaxChunkSize - максимальное количество байт, читаемых из сокета за один раз.
	MaxChunkSize int

	// IdleTimeout закрывает соединение, если чтение или запись не продвигаются
	// дольше указанного времени. 0 отключает таймаут.
	IdleTimeout time.Duration

	// FlushTimeout ограничивает досылку данных из очереди после EOF клиента
	// или при graceful shutdown.
	FlushTimeout time.Duration

	// ShutdownTimeout - сколько Shutdown ждет добровольного завершения соединений
	// перед их принудительным закрытием.
	ShutdownTimeout time.Duration

	// Logger используется для логгирования событий сервера.
	// Если nil, логи отбрасываются.
	Logger *slog.Logger

	// LogLevel управляет детализацией debug логов.
	LogLevel LogLevel

	// Observer получает структурированные события сервера.
	// Если nil, события отбрасываются.
	Observer Observer
}

// Validate проверяет, что конфигурация не содержит отрицательных значений.
func (c Config) Validate() error {
	switch {
	case c.MaxConnections < 0:
		return fmt.Errorf("%w: MaxConnections must not be negative", ErrInvalidConfig)
	case c.QueueCapacity < 0:
		return fmt.Errorf("%w: QueueCapacity must not be negative", ErrInvalidConfig)
	case c.MaxChunkSize < 0:
		return fmt.Errorf("%w: MaxChunkSize must not be negative", ErrInvalidConfig)
	case c.IdleTimeout < 0, c.FlushTimeout < 0, c.ShutdownTimeout < 0:
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// withDefaults возвращает копию конфигурации с подставленными значениями по умолчанию.
func (c Config) withDefaults() Config {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = NewNoopLogger()
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	return c
}
