// Package telemetry превращает события echorelay.Observer в структурированные
// логи slog и метрики go-metrics. Сам сервер событий не форматирует.
package telemetry

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricConnAcceptedCount   = []string{"echorelay", "connection", "accepted", "count"}
	MetricConnClosedCount     = []string{"echorelay", "connection", "closed", "count"}
	MetricConnActive          = []string{"echorelay", "connection", "active"}
	MetricBytesInBytes        = []string{"echorelay", "relay", "in", "bytes"}
	MetricBytesOutBytes       = []string{"echorelay", "relay", "out", "bytes"}
	MetricAcceptErrorCount    = []string{"echorelay", "accept", "error", "count"}
	MetricChunkSizeBytes      = []string{"echorelay", "relay", "chunk", "size", "bytes"}
	MetricConnErrorCount      = []string{"echorelay", "connection", "error", "count"}
	MetricAcceptRejectedCount = []string{"echorelay", "accept", "rejected", "count"}
)

type TelemetryLabel string

var (
	LabelConnID    TelemetryLabel = "conn_id"
	LabelPeerAddr  TelemetryLabel = "peer_addr"
	LabelReason    TelemetryLabel = "reason"
	LabelDirection TelemetryLabel = "direction"
	LabelTransient TelemetryLabel = "transient"
	LabelError     TelemetryLabel = "error"
	LabelBytes     TelemetryLabel = "bytes"
)

// M строит метку go-metrics.
func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L строит атрибут slog.
func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
