package domain

import "strings"

// Kind identifies one measured quantity. The declaration order is the
// column order of every export.
type Kind int

const (
	Precipitation  Kind = iota // mm, hourly total
	Pressure                   // hPa at station level
	PressureMax                // hPa, max over previous hour
	PressureMin                // hPa, min over previous hour
	Radiation                  // kJ/m²
	AirTemperature             // °C, dry bulb
	DewPoint                   // °C
	TemperatureMax             // °C, max over previous hour
	TemperatureMin             // °C, min over previous hour
	DewPointMax                // °C
	DewPointMin                // °C
	Humidity                   // %
	HumidityMax                // %
	HumidityMin                // %
	WindDirection              // degrees
	WindGust                   // m/s
	WindSpeed                  // m/s

	kindCount
)

// NumKinds is the number of measurement kinds.
const NumKinds = int(kindCount)

var kindNames = [NumKinds]string{
	"precipitation",
	"pressure",
	"pressure_max",
	"pressure_min",
	"radiation",
	"air_temperature",
	"dew_point",
	"temperature_max",
	"temperature_min",
	"dew_point_max",
	"dew_point_min",
	"humidity",
	"humidity_max",
	"humidity_min",
	"wind_direction",
	"wind_gust",
	"wind_speed",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds returns every kind in export order.
func Kinds() []Kind {
	ks := make([]Kind, NumKinds)
	for i := range ks {
		ks[i] = Kind(i)
	}
	return ks
}

// ParseKind resolves a canonical kind name.
func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}

// Flag marks a data-quality condition on a single measurement.
type Flag uint8

const (
	// FlagSentinel: the source held a missing-value sentinel, the value is absent.
	FlagSentinel Flag = 1 << iota
	// FlagOutOfRange: the value is kept but lies outside the plausible range.
	FlagOutOfRange
	// FlagUnparseable: the source held non-numeric text, the value is absent.
	FlagUnparseable
)

var flagOrder = []Flag{FlagSentinel, FlagOutOfRange, FlagUnparseable}

func (f Flag) String() string {
	switch f {
	case FlagSentinel:
		return "sentinel"
	case FlagOutOfRange:
		return "out_of_range"
	case FlagUnparseable:
		return "unparseable"
	}
	var parts []string
	for _, single := range flagOrder {
		if f&single != 0 {
			parts = append(parts, single.String())
		}
	}
	return strings.Join(parts, "+")
}

// Has reports whether all bits of g are set in f.
func (f Flag) Has(g Flag) bool { return f&g == g }

// Range is an inclusive plausibility interval.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// DefaultRanges returns the plausibility ranges applied when none are configured.
func DefaultRanges() [NumKinds]Range {
	temp := Range{Min: -60, Max: 60}
	hum := Range{Min: 0, Max: 100}
	pres := Range{Min: 500, Max: 1100}
	wind := Range{Min: 0, Max: 75}
	return [NumKinds]Range{
		Precipitation:  {Min: 0, Max: 200},
		Pressure:       pres,
		PressureMax:    pres,
		PressureMin:    pres,
		Radiation:      {Min: 0, Max: 5000},
		AirTemperature: temp,
		DewPoint:       temp,
		TemperatureMax: temp,
		TemperatureMin: temp,
		DewPointMax:    temp,
		DewPointMin:    temp,
		Humidity:       hum,
		HumidityMax:    hum,
		HumidityMin:    hum,
		WindDirection:  {Min: 0, Max: 360},
		WindGust:       wind,
		WindSpeed:      wind,
	}
}
