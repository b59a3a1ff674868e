package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/example/tcpecho/pkg/echorelay"
	"github.com/example/tcpecho/pkg/echorelay/telemetry"
)

func main() {
	// Параметры командной строки
	var (
		host           = flag.String("host", "0.0.0.0", "Host to listen on")
		port           = flag.Int("port", 8080, "Port to listen on (1-65535)")
		maxConnections = flag.Int("max-conn", 0, "Maximum number of connections, 0 = unlimited")
		queueCapacity  = flag.Int("queue", echorelay.DefaultQueueCapacity, "Relay queue capacity in chunks")
		maxChunk       = flag.Int("chunk", echorelay.DefaultMaxChunkSize, "Maximum chunk size in bytes")
		idleTimeout    = flag.Duration("idle", 0, "Idle timeout per connection, 0 = disabled")
		flushTimeout   = flag.Duration("flush", echorelay.DefaultFlushTimeout, "Time to flush queued data after EOF or shutdown")
		shutdownTime   = flag.Duration("shutdown", echorelay.DefaultShutdownTimeout, "Graceful shutdown timeout")
		logLevel       = flag.Int("log-level", 0, "Log level: 0=Info, 1=Debug1, 2=Debug2, 3=Debug3")
		probe          = flag.String("probe", "", "Send this payload to a running server, verify the echo and exit")
	)
	flag.Parse()

	logger, relayLogLevel := newLogger(os.Stdout, *logLevel)

	if *port < 1 || *port > 65535 {
		logger.Error("invalid port", "port", *port)
		os.Exit(2)
	}
	address := net.JoinHostPort(*host, strconv.Itoa(*port))

	if *probe != "" {
		if err := runProbe(logger, address, *probe); err != nil {
			logger.Error("probe failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Метрики в памяти; SIGUSR1 выводит текущие значения в stderr
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	sig := metrics.DefaultInmemSignal(sink)
	defer sig.Stop()

	config := echorelay.Config{
		MaxConnections:  *maxConnections,
		QueueCapacity:   *queueCapacity,
		MaxChunkSize:    *maxChunk,
		IdleTimeout:     *idleTimeout,
		FlushTimeout:    *flushTimeout,
		ShutdownTimeout: *shutdownTime,
		Logger:          logger,
		LogLevel:        relayLogLevel,
		Observer: telemetry.Multi{
			telemetry.NewLogObserver(logger.Handler()),
			telemetry.NewMetricsObserver(sink),
		},
	}

	server, err := echorelay.NewServer(config)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting echo server", "address", address)
	logger.Info("configuration",
		"max_connections", config.MaxConnections,
		"queue_capacity", config.QueueCapacity,
		"max_chunk", config.MaxChunkSize,
		"idle_timeout", config.IdleTimeout,
		"shutdown_timeout", config.ShutdownTimeout,
		"log_level", relayLogLevel.String(),
	)

	done, err := server.Start(ctx, address)
	if err != nil {
		var bindErr *echorelay.BindError
		if errors.As(err, &bindErr) {
			logger.Error("failed to bind", "address", bindErr.Addr, "error", bindErr.Err)
		} else {
			logger.Error("failed to start server", "error", err)
		}
		os.Exit(1)
	}

	logger.Info("server is running, press Ctrl+C to stop")
	logger.Info("test connection", "command", fmt.Sprintf("nc %s %d", *host, *port))

	// Сервер сам вызывает Shutdown при отмене ctx
	<-done
	logger.Info("server stopped", "remaining_connections", server.GetConnectionCount())
}

// runProbe подключается к серверу и проверяет эхо payload.
func runProbe(logger *slog.Logger, address, payload string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := echorelay.Dial(ctx, address, echorelay.ClientConfig{
		ConnectTimeout:       2 * time.Second,
		MaxReconnectAttempts: 3,
		Logger:               logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	start := time.Now()
	if err := client.Verify(ctx, []byte(payload)); err != nil {
		return err
	}
	logger.Info("echo verified", "address", address, "bytes", len(payload), "rtt", time.Since(start))
	return nil
}
