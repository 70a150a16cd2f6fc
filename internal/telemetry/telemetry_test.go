package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	t.Setenv("CVGRAPH_LOG_LEVEL", "")
	t.Setenv("CVGRAPH_LOG_FORMAT", "")
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogConfig{Level: "warn", Format: "json"})
	logger.Info("dropped")
	WithPassID(logger, "p-1").Warn("kept", slog.Int("step", 3))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "p-1", rec["pass_id"])
	assert.EqualValues(t, 3, rec["step"])
}

func TestNewLogger_EnvOverride(t *testing.T) {
	t.Setenv("CVGRAPH_LOG_LEVEL", "debug")
	t.Setenv("CVGRAPH_LOG_FORMAT", "text")
	var buf bytes.Buffer
	NewLogger(&buf, LogConfig{Level: "error", Format: "json"}).Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestContextLogger(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
	logger := Discard()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.ObservePass("cm", 10, time.Millisecond, nil)
	m.ObservePass("cm", 4, time.Millisecond, errors.New("boom"))

	families, err := reg.Gather()
	require.NoError(t, err)
	got := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				got[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				got[mf.GetName()] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				got[mf.GetName()] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, 1.0, got["cvgraph_passes_total"])
	assert.Equal(t, 10.0, got["cvgraph_tasks_total"])
	assert.Equal(t, 1.0, got["cvgraph_pass_failures_total"])
	assert.Equal(t, 4.0, got["cvgraph_active_tasks"])
	assert.Equal(t, 2.0, got["cvgraph_pass_duration_seconds"])

	_, err = NewMetrics(reg)
	assert.Error(t, err, "collectors are already registered")
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.ObservePass("x", 1, time.Second, nil) })

	unregistered, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, unregistered.Passes)
}

func TestTracerAndMeter(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "test")
	span.End()
	_, err := Meter().Int64Counter("cvgraph.test")
	assert.NoError(t, err)
}
