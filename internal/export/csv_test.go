package export

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

func testDataset(t *testing.T) *consolidate.Dataset {
	t.Helper()
	a := domain.Observation{StationID: "A001", Timestamp: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)}
	a.Set(domain.AirTemperature, 21.4)
	a.Set(domain.Humidity, 150)
	a.Mark(domain.Humidity, domain.FlagOutOfRange)
	a.Mark(domain.Precipitation, domain.FlagSentinel)

	b := domain.Observation{StationID: "A001", Timestamp: time.Date(2019, 1, 1, 1, 0, 0, 0, time.UTC)}
	b.Set(domain.WindSpeed, 0.6)

	c := consolidate.New()
	require.NoError(t, c.Add(consolidate.MemberObservations{
		Ordinal: 0, Member: "a.csv", Station: domain.StationMetadata{ID: "A001"},
		Entries: []consolidate.Entry{{Observation: b, Line: 11}, {Observation: a, Line: 10}},
	}))
	return c.Dataset()
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testDataset(t)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "station_id,timestamp,precipitation,pressure,pressure_max,pressure_min,radiation,"+
		"air_temperature,dew_point,temperature_max,temperature_min,dew_point_max,dew_point_min,"+
		"humidity,humidity_max,humidity_min,wind_direction,wind_gust,wind_speed,validity_flags", lines[0])
	assert.Equal(t, "A001,2019-01-01T00:00:00,,,,,,21.4,,,,,,150,,,,,,precipitation:sentinel|humidity:out_of_range", lines[1])
	assert.Equal(t, "A001,2019-01-01T01:00:00,,,,,,,,,,,,,,,,,0.6,", lines[2])
}

func TestWriteCSV_Reproducible(t *testing.T) {
	var first, second bytes.Buffer
	require.NoError(t, WriteCSV(&first, testDataset(t)))
	require.NoError(t, WriteCSV(&second, testDataset(t)))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	ds := testDataset(t)
	rep := report.New("2019.zip", 2019)
	rep.Record(report.FileOutcome{Ordinal: 0, Member: "a.csv", Status: report.StatusOK, RowsParsed: 2, RowsAccepted: 2})
	rep.ApplyDataset(ds)
	rep.Finish(false)

	sink := FileSink{Dir: dir, Year: 2019}
	assert.Equal(t, "csv", sink.Name())
	require.NoError(t, sink.Write(context.Background(), ds, rep))

	data, err := os.ReadFile(filepath.Join(dir, "observations_2019.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "station_id,timestamp,"))

	raw, err := os.ReadFile(filepath.Join(dir, "observations_2019.report.json"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, rep.RunID.String(), got["run_id"])
	assert.Equal(t, 2.0, got["rows_ingested"])
	assert.Equal(t, false, got["failed"])
	assert.Len(t, got["outcomes"], 1)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "observations_2019", BaseName(2019))
	assert.Equal(t, "observations", BaseName(0))
}
