package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/hashicorp/go-metrics"

	"github.com/example/tcpecho/pkg/echorelay"
)

// LogObserver пишет события сервера как структурированные записи slog.
// bytes_relayed пишется на уровне Debug, остальные события - на Info/Warn.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(handler slog.Handler) *LogObserver {
	if handler == nil {
		return &LogObserver{logger: slog.Default()}
	}
	return &LogObserver{logger: slog.New(handler)}
}

func (o *LogObserver) ConnectionAccepted(conn echorelay.ConnInfo) {
	o.logger.LogAttrs(context.Background(), slog.LevelInfo, "connection_accepted",
		LabelConnID.L(conn.ID),
		LabelPeerAddr.L(conn.Addr),
	)
}

func (o *LogObserver) ConnectionClosed(conn echorelay.ConnInfo, reason echorelay.CloseReason, err error) {
	attrs := []slog.Attr{
		LabelConnID.L(conn.ID),
		LabelPeerAddr.L(conn.Addr),
		LabelReason.L(reason.String()),
	}
	level := slog.LevelInfo
	if err != nil {
		attrs = append(attrs, LabelError.L(err.Error()))
		if reason == echorelay.ReasonReadFailure || reason == echorelay.ReasonWriteFailure {
			level = slog.LevelWarn
		}
	}
	o.logger.LogAttrs(context.Background(), level, "connection_closed", attrs...)
}

func (o *LogObserver) BytesRelayed(conn echorelay.ConnInfo, dir echorelay.Direction, n int) {
	o.logger.LogAttrs(context.Background(), slog.LevelDebug, "bytes_relayed",
		LabelConnID.L(conn.ID),
		LabelPeerAddr.L(conn.Addr),
		LabelDirection.L(dir.String()),
		LabelBytes.L(n),
	)
}

func (o *LogObserver) AcceptError(err error, transient bool) {
	level := slog.LevelError
	if transient {
		level = slog.LevelWarn
	}
	o.logger.LogAttrs(context.Background(), level, "accept_error",
		LabelError.L(err.Error()),
		LabelTransient.L(transient),
	)
}

// MetricsObserver публикует события сервера в metrics.MetricSink.
type MetricsObserver struct {
	sink   metrics.MetricSink
	labels []metrics.Label
	active atomic.Int64
}

// NewMetricsObserver создает наблюдатель поверх sink. Если sink == nil,
// используется глобальный sink go-metrics. labels добавляются ко всем метрикам.
func NewMetricsObserver(sink metrics.MetricSink, labels ...metrics.Label) *MetricsObserver {
	if sink == nil {
		sink = metrics.Default()
	}
	return &MetricsObserver{sink: sink, labels: labels}
}

func (o *MetricsObserver) with(extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(o.labels)+len(extra))
	out = append(out, o.labels...)
	return append(out, extra...)
}

func (o *MetricsObserver) ConnectionAccepted(echorelay.ConnInfo) {
	o.sink.IncrCounterWithLabels(MetricConnAcceptedCount, 1.0, o.labels)
	o.sink.SetGaugeWithLabels(MetricConnActive, float32(o.active.Add(1)), o.labels)
}

func (o *MetricsObserver) ConnectionClosed(_ echorelay.ConnInfo, reason echorelay.CloseReason, err error) {
	mLabels := o.with(LabelReason.M(reason.String()))
	o.sink.IncrCounterWithLabels(MetricConnClosedCount, 1.0, mLabels)
	if err != nil && (reason == echorelay.ReasonReadFailure || reason == echorelay.ReasonWriteFailure) {
		o.sink.IncrCounterWithLabels(MetricConnErrorCount, 1.0, mLabels)
	}
	o.sink.SetGaugeWithLabels(MetricConnActive, float32(o.active.Add(-1)), o.labels)
}

func (o *MetricsObserver) BytesRelayed(_ echorelay.ConnInfo, dir echorelay.Direction, n int) {
	key := MetricBytesInBytes
	if dir == echorelay.DirectionOut {
		key = MetricBytesOutBytes
	}
	o.sink.IncrCounterWithLabels(key, float32(n), o.labels)
	if dir == echorelay.DirectionIn {
		o.sink.AddSampleWithLabels(MetricChunkSizeBytes, float32(n), o.labels)
	}
}

func (o *MetricsObserver) AcceptError(err error, transient bool) {
	if errors.Is(err, echorelay.ErrMaxConnectionsReached) {
		o.sink.IncrCounterWithLabels(MetricAcceptRejectedCount, 1.0, o.labels)
		return
	}
	o.sink.IncrCounterWithLabels(
		MetricAcceptErrorCount,
		1.0,
		o.with(LabelTransient.M(strconv.FormatBool(transient))),
	)
}

// Active возвращает количество соединений, открытых по данным наблюдателя.
func (o *MetricsObserver) Active() int64 {
	return o.active.Load()
}

// Multi рассылает каждое событие всем наблюдателям по порядку.
type Multi []echorelay.Observer

func (m Multi) ConnectionAccepted(conn echorelay.ConnInfo) {
	for _, o := range m {
		o.ConnectionAccepted(conn)
	}
}

func (m Multi) ConnectionClosed(conn echorelay.ConnInfo, reason echorelay.CloseReason, err error) {
	for _, o := range m {
		o.ConnectionClosed(conn, reason, err)
	}
}

func (m Multi) BytesRelayed(conn echorelay.ConnInfo, dir echorelay.Direction, n int) {
	for _, o := range m {
		o.BytesRelayed(conn, dir, n)
	}
}

func (m Multi) AcceptError(err error, transient bool) {
	for _, o := range m {
		o.AcceptError(err, transient)
	}
}
