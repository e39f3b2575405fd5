package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-archive-etl/internal/adapter/parquet"
	"github.com/couchcryptid/weather-archive-etl/internal/dialect"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/export"
	"github.com/couchcryptid/weather-archive-etl/internal/fixture"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
	"github.com/couchcryptid/weather-archive-etl/internal/pipeline"
)

// runOutputs ingests a generated archive and writes the CSV, report and
// Parquet outputs into a temp dir.
func runOutputs(t *testing.T) (csvPath, reportPath, parquetPath string) {
	t.Helper()
	dir := t.TempDir()

	files, err := fixture.YearFiles(2019, fixture.Stations[:3], fixture.Options{Hours: 48, Seed: 7, Latin1: true, Missing: 5})
	require.NoError(t, err)
	body, err := fixture.Zip(files)
	require.NoError(t, err)
	archivePath := filepath.Join(dir, "2019.zip")
	require.NoError(t, os.WriteFile(archivePath, body, 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := pipeline.DefaultOptions()
	opts.Workers = 2
	p := pipeline.New(dialect.NewSniffer(), domain.NewNormalizer(), logger, observability.NewMetricsForTesting(), opts)
	res, err := p.RunArchive(context.Background(), archivePath, 2019)
	require.NoError(t, err)

	out := filepath.Join(dir, "out")
	pw, err := parquet.NewWriter(out, 2019, "zstd", logger)
	require.NoError(t, err)
	require.NoError(t, p.Load(context.Background(), res, export.FileSink{Dir: out, Year: 2019}, pw))

	stem := filepath.Join(out, export.BaseName(2019))
	return stem + ".csv", stem + ".report.json", pw.Path()
}

func TestRun_ValidOutputsPass(t *testing.T) {
	csvPath, reportPath, parquetPath := runOutputs(t)

	var out bytes.Buffer
	code := run(&out, csvPath, reportPath, parquetPath)
	assert.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "All validations passed.")
	assert.Contains(t, out.String(), "Phase 5: Parquet parity")
}

func TestRun_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(lines []string) []string
		phase  string
	}{
		{
			name: "duplicated row",
			tamper: func(lines []string) []string {
				return append(lines[:2], lines[1:]...)
			},
			phase: "Phase 2",
		},
		{
			name: "rows swapped",
			tamper: func(lines []string) []string {
				lines[1], lines[2] = lines[2], lines[1]
				return lines
			},
			phase: "Phase 2",
		},
		{
			name: "row dropped",
			tamper: func(lines []string) []string {
				return append(lines[:1], lines[2:]...)
			},
			phase: "Phase 4",
		},
		{
			name: "renamed column",
			tamper: func(lines []string) []string {
				lines[0] = strings.Replace(lines[0], "humidity", "relative_humidity", 1)
				return lines
			},
			phase: "Phase 1",
		},
		{
			name: "unknown flag",
			tamper: func(lines []string) []string {
				lines[1] = lines[1][:strings.LastIndex(lines[1], ",")] + ",humidity:bogus"
				return lines
			},
			phase: "Phase 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			csvPath, reportPath, _ := runOutputs(t)
			data, err := os.ReadFile(csvPath)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			lines = tt.tamper(lines)
			require.NoError(t, os.WriteFile(csvPath, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

			var out bytes.Buffer
			assert.Equal(t, 1, run(&out, csvPath, reportPath, ""))
			assert.Contains(t, out.String(), "--- "+tt.phase)
		})
	}
}
