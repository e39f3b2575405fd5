package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "warn")

	logger.Info("hidden")
	logger.Warn("member failed", "member", "a.csv", "reason", "dialect_unknown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "member failed", line["msg"])
	assert.Equal(t, "a.csv", line["member"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "text", "debug")

	logger.Debug("sniffed", "delimiter", ";")
	assert.Contains(t, buf.String(), "sniffed")
	assert.Contains(t, buf.String(), "delimiter")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestMetricsForTesting(t *testing.T) {
	m := NewMetricsForTesting()
	m.MembersProcessed.WithLabelValues("ok").Inc()
	m.MembersProcessed.WithLabelValues("ok").Inc()
	m.RowsRejected.WithLabelValues("wrong_column_count").Add(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MembersProcessed.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsRejected.WithLabelValues("wrong_column_count")))

	// A second set must not collide with the first.
	assert.NotPanics(t, func() { NewMetricsForTesting() })
}
