package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/example/tcpecho/pkg/echorelay"
)

func labelsMatch(got []metrics.Label, want ...metrics.Label) bool {
	for _, w := range want {
		found := false
		for _, g := range got {
			if g == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// counterSum суммирует значения счетчика по всем интервалам sink.
func counterSum(sink *metrics.InmemSink, key []string, labels ...metrics.Label) float64 {
	name := strings.Join(key, ".")
	var sum float64
	for _, intv := range sink.Data() {
		intv.RLock()
		for _, v := range intv.Counters {
			if v.Name == name && labelsMatch(v.Labels, labels...) {
				sum += v.Sum
			}
		}
		intv.RUnlock()
	}
	return sum
}

func gaugeValue(sink *metrics.InmemSink, key []string) (float32, bool) {
	name := strings.Join(key, ".")
	data := sink.Data()
	if len(data) == 0 {
		return 0, false
	}
	intv := data[len(data)-1]
	intv.RLock()
	defer intv.RUnlock()
	for _, v := range intv.Gauges {
		if v.Name == name {
			return v.Value, true
		}
	}
	return 0, false
}

func TestMetricsObserver(t *testing.T) {
	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	obs := NewMetricsObserver(sink, metrics.Label{Name: "instance", Value: "test"})

	a := echorelay.ConnInfo{ID: 1, Addr: "127.0.0.1:1000"}
	b := echorelay.ConnInfo{ID: 2, Addr: "127.0.0.1:1001"}

	obs.ConnectionAccepted(a)
	obs.ConnectionAccepted(b)
	require.EqualValues(t, 2, obs.Active())

	obs.BytesRelayed(a, echorelay.DirectionIn, 100)
	obs.BytesRelayed(a, echorelay.DirectionOut, 60)
	obs.BytesRelayed(b, echorelay.DirectionIn, 20)

	obs.ConnectionClosed(a, echorelay.ReasonPeerClosed, nil)
	obs.ConnectionClosed(b, echorelay.ReasonWriteFailure, errors.New("broken pipe"))
	require.EqualValues(t, 0, obs.Active())

	obs.AcceptError(fmt.Errorf("%w: x", echorelay.ErrAcceptTransient), true)
	obs.AcceptError(fmt.Errorf("%w: y", echorelay.ErrMaxConnectionsReached), true)

	instance := metrics.Label{Name: "instance", Value: "test"}
	require.EqualValues(t, 2, counterSum(sink, MetricConnAcceptedCount, instance))
	require.EqualValues(t, 120, counterSum(sink, MetricBytesInBytes))
	require.EqualValues(t, 60, counterSum(sink, MetricBytesOutBytes))
	require.EqualValues(t, 1, counterSum(sink, MetricConnClosedCount, LabelReason.M("peer_closed")))
	require.EqualValues(t, 1, counterSum(sink, MetricConnClosedCount, LabelReason.M("write_failure")))
	require.EqualValues(t, 1, counterSum(sink, MetricConnErrorCount))
	require.EqualValues(t, 1, counterSum(sink, MetricAcceptErrorCount, LabelTransient.M("true")))
	require.EqualValues(t, 1, counterSum(sink, MetricAcceptRejectedCount))

	active, ok := gaugeValue(sink, MetricConnActive)
	require.True(t, ok)
	require.EqualValues(t, 0, active)
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, sc.Err())
	return records
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	conn := echorelay.ConnInfo{ID: 7, Addr: "10.0.0.1:5555"}
	obs.ConnectionAccepted(conn)
	obs.BytesRelayed(conn, echorelay.DirectionIn, 42)
	obs.ConnectionClosed(conn, echorelay.ReasonReadFailure, errors.New("connection reset by peer"))
	obs.AcceptError(errors.New("listener gone"), false)

	records := decodeRecords(t, &buf)
	require.Len(t, records, 4)

	require.Equal(t, "connection_accepted", records[0]["msg"])
	require.Equal(t, "INFO", records[0]["level"])
	require.EqualValues(t, 7, records[0]["conn_id"])
	require.Equal(t, "10.0.0.1:5555", records[0]["peer_addr"])

	require.Equal(t, "bytes_relayed", records[1]["msg"])
	require.Equal(t, "DEBUG", records[1]["level"])
	require.Equal(t, "in", records[1]["direction"])
	require.EqualValues(t, 42, records[1]["bytes"])

	require.Equal(t, "connection_closed", records[2]["msg"])
	require.Equal(t, "WARN", records[2]["level"])
	require.Equal(t, "read_failure", records[2]["reason"])
	require.Equal(t, "connection reset by peer", records[2]["error"])

	require.Equal(t, "accept_error", records[3]["msg"])
	require.Equal(t, "ERROR", records[3]["level"])
	require.Equal(t, false, records[3]["transient"])
}

func TestLogObserverCleanClose(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(slog.NewJSONHandler(&buf, nil))

	obs.BytesRelayed(echorelay.ConnInfo{ID: 1}, echorelay.DirectionOut, 1)
	obs.ConnectionClosed(echorelay.ConnInfo{ID: 1}, echorelay.ReasonPeerClosed, nil)

	records := decodeRecords(t, &buf)
	require.Len(t, records, 1, "bytes_relayed is filtered at info level")
	require.Equal(t, "INFO", records[0]["level"])
	require.Equal(t, "peer_closed", records[0]["reason"])
	require.NotContains(t, records[0], "error")
}

type countingObserver struct {
	accepted, closed, relayed, acceptErrs int
}

func (o *countingObserver) ConnectionAccepted(echorelay.ConnInfo) {
	o.accepted++
}

func (o *countingObserver) ConnectionClosed(echorelay.ConnInfo, echorelay.CloseReason, error) {
	o.closed++
}

func (o *countingObserver) BytesRelayed(echorelay.ConnInfo, echorelay.Direction, int) {
	o.relayed++
}

func (o *countingObserver) AcceptError(error, bool) {
	o.acceptErrs++
}

func TestMultiFanOut(t *testing.T) {
	first, second := &countingObserver{}, &countingObserver{}
	var m echorelay.Observer = Multi{first, second}

	m.ConnectionAccepted(echorelay.ConnInfo{ID: 1})
	m.BytesRelayed(echorelay.ConnInfo{ID: 1}, echorelay.DirectionIn, 3)
	m.BytesRelayed(echorelay.ConnInfo{ID: 1}, echorelay.DirectionOut, 3)
	m.ConnectionClosed(echorelay.ConnInfo{ID: 1}, echorelay.ReasonShutdown, nil)
	m.AcceptError(errors.New("x"), true)

	for _, o := range []*countingObserver{first, second} {
		require.Equal(t, 1, o.accepted)
		require.Equal(t, 2, o.relayed)
		require.Equal(t, 1, o.closed)
		require.Equal(t, 1, o.acceptErrs)
	}
}
