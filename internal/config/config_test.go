package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, 64*1024, cfg.SniffSampleBytes)
	assert.Equal(t, []rune{';', ',', '\t', '|'}, cfg.SniffDelimiters)
	assert.InDelta(t, 0.6, cfg.SniffMinConfidence, 1e-9)
	assert.InDelta(t, 0.5, cfg.MaxMalformedFraction, 1e-9)
	assert.Equal(t, int64(256<<20), cfg.MaxMemberBytes)
	assert.Equal(t, []string{"2006-01-02", "2006/01/02", "02/01/2006", "02-01-2006", "02/01/06"}, cfg.DateLayouts)
	assert.Equal(t, []float64{-9999}, cfg.MissingSentinels)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "https://portal.inmet.gov.br/uploads/dadoshistoricos", cfg.ArchiveBaseURL)
	assert.Equal(t, 10*time.Minute, cfg.DownloadTimeout)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.False(t, cfg.ParquetEnabled)
	assert.Equal(t, "zstd", cfg.ParquetCompression)
	assert.Empty(t, cfg.SQLitePath)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Empty(t, cfg.KafkaTopic)
	assert.Empty(t, cfg.S3Bucket)
	assert.Equal(t, "weather", cfg.S3Prefix)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("WORKERS", "3")
	t.Setenv("SNIFF_DELIMITERS", `;\t`)
	t.Setenv("SNIFF_MIN_CONFIDENCE", "0.8")
	t.Setenv("MAX_MALFORMED_FRACTION", "0.25")
	t.Setenv("DATE_LAYOUTS", "02/01/2006, 2006-01-02")
	t.Setenv("MISSING_SENTINELS", "-9999,-999.9")
	t.Setenv("ARCHIVE_BASE_URL", "http://mirror.local/inmet/")
	t.Setenv("PARQUET_ENABLED", "true")
	t.Setenv("PARQUET_COMPRESSION", "snappy")
	t.Setenv("SQLITE_PATH", "/tmp/weather.db")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "weather-observations")
	t.Setenv("S3_BUCKET", "archive")
	t.Setenv("S3_PREFIX", "/inmet/")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, []rune{';', '\t'}, cfg.SniffDelimiters)
	assert.InDelta(t, 0.8, cfg.SniffMinConfidence, 1e-9)
	assert.InDelta(t, 0.25, cfg.MaxMalformedFraction, 1e-9)
	assert.Equal(t, []string{"02/01/2006", "2006-01-02"}, cfg.DateLayouts)
	assert.Equal(t, []float64{-9999, -999.9}, cfg.MissingSentinels)
	assert.Equal(t, "http://mirror.local/inmet", cfg.ArchiveBaseURL)
	assert.True(t, cfg.ParquetEnabled)
	assert.Equal(t, "snappy", cfg.ParquetCompression)
	assert.Equal(t, "/tmp/weather.db", cfg.SQLitePath)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "weather-observations", cfg.KafkaTopic)
	assert.Equal(t, "archive", cfg.S3Bucket)
	assert.Equal(t, "inmet", cfg.S3Prefix)
	assert.True(t, cfg.S3PathStyle)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather-etl.yaml"),
		[]byte("workers: 7\noutput_dir: /srv/out\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers, "environment wins over the file")
	assert.Equal(t, "/srv/out", cfg.OutputDir)
}

func TestLoad_ZeroMalformedFraction(t *testing.T) {
	t.Setenv("MAX_MALFORMED_FRACTION", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.MaxMalformedFraction, "zero means no malformed rows are tolerated")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"log format", "LOG_FORMAT", "xml", "LOG_FORMAT"},
		{"shutdown timeout", "SHUTDOWN_TIMEOUT", "-1s", "SHUTDOWN_TIMEOUT"},
		{"workers", "WORKERS", "0", "WORKERS"},
		{"sample", "SNIFF_SAMPLE_BYTES", "10", "SNIFF_SAMPLE_BYTES"},
		{"confidence", "SNIFF_MIN_CONFIDENCE", "1.5", "SNIFF_MIN_CONFIDENCE"},
		{"malformed", "MAX_MALFORMED_FRACTION", "2", "MAX_MALFORMED_FRACTION"},
		{"sentinels", "MISSING_SENTINELS", "abc", "MISSING_SENTINELS"},
		{"compression", "PARQUET_COMPRESSION", "lz77", "PARQUET_COMPRESSION"},
		{"kafka brokers", "KAFKA_BROKERS", " , ", "KAFKA_BROKERS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if tc.key == "KAFKA_BROKERS" {
				t.Setenv("KAFKA_TOPIC", "observations")
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
