// Package echorelay предоставляет конкурентный TCP эхо-сервер, который возвращает
// каждому клиенту ровно те байты, которые от него получил, в том же порядке.
//
// Основные возможности:
//   - Независимый супервизор на каждое соединение (горутины чтения и записи)
//   - Ограниченная очередь чанков между чтением и записью (backpressure)
//   - Однократное закрытие сокета при любом сценарии завершения
//   - Досылка накопленных данных после EOF клиента и при graceful shutdown
//   - Отказоустойчивый цикл accept с экспоненциальной задержкой
//   - Ограничение максимального количества подключений
//   - Структурированные события через интерфейс Observer
//
// Основные компоненты:
//
// Server - слушающий сокет и реестр соединений
// Connection - супервизор одного соединения
// RelayQueue - ограниченная FIFO очередь чанков
// Observer - получатель событий сервера (см. пакет telemetry)
// Client - клиент для проверки эха
//
// Пример использования:
//
//	server, err := echorelay.NewServer(echorelay.Config{
//	    MaxConnections: 1000,
//	    IdleTimeout:    time.Minute,
//	    Logger:         slog.Default(),
//	})
//	if err != nil {
//	    return err
//	}
//
//	done, err := server.Start(ctx, ":7007")
//	if err != nil {
//	    return err
//	}
//
//	// Graceful shutdown
//	server.Shutdown()
//	<-done // Ждем полной остановки
//
// Причины закрытия соединений:
//
// Каждое соединение завершается ровно один раз с одной из причин CloseReason:
// peer_closed, read_failure, write_failure, idle_timeout, shutdown или cancelled.
// Сбой одного соединения никогда не влияет на остальные.
package echorelay
