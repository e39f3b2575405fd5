package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestObservation_JSON(t *testing.T) {
	obs := Observation{StationID: "A001", Timestamp: time.Date(2019, 1, 1, 13, 0, 0, 0, time.UTC)}
	obs.Set(AirTemperature, 24.5)
	obs.Set(Humidity, 120)
	obs.Mark(Humidity, FlagOutOfRange)
	obs.Mark(Precipitation, FlagSentinel)

	data, err := json.Marshal(&obs)
	require.NoError(t, err)

	inSlice, err := json.Marshal([]*Observation{&obs})
	require.NoError(t, err)
	assert.JSONEq(t, "["+string(data)+"]", string(inSlice))

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "A001", got["station_id"])
	assert.Equal(t, "2019-01-01T13:00:00", got["timestamp"])
	assert.Equal(t, map[string]any{"air_temperature": 24.5, "humidity": 120.0}, got["measurements"])
	assert.Equal(t, map[string]any{
		"precipitation": []any{"sentinel"},
		"humidity":      []any{"out_of_range"},
	}, got["flags"])

	assert.Equal(t, "precipitation:sentinel|humidity:out_of_range", obs.ValidityString())
	assert.True(t, obs.Flagged(FlagOutOfRange))
	assert.False(t, obs.Flagged(FlagUnparseable))
}

func TestStationMetadata_Differences(t *testing.T) {
	a := StationMetadata{ID: "A001", Name: "BRASILIA", Latitude: ptr(-15.78), Altitude: ptr(1160.96)}

	assert.Empty(t, a.Differences(StationMetadata{ID: "A001", Name: "brasilia"}))
	assert.Empty(t, a.Differences(StationMetadata{ID: "A001", Latitude: ptr(-15.78)}))
	assert.Equal(t, []string{"latitude", "altitude"},
		a.Differences(StationMetadata{ID: "A001", Latitude: ptr(-15.8), Altitude: ptr(1100.0)}))
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "sentinel", FlagSentinel.String())
	assert.Equal(t, "out_of_range+unparseable", (FlagOutOfRange | FlagUnparseable).String())
	assert.Equal(t, "wind_speed", WindSpeed.String())
	assert.Equal(t, NumKinds, len(Kinds()))
}
