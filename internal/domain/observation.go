package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// TimestampLayout is how timestamps are rendered: ISO 8601 without an offset,
// since observation times are local station time.
const TimestampLayout = "2006-01-02T15:04:05"

// StationMetadata describes one station. ID is required, every other field is optional.
type StationMetadata struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Region    string     `json:"region,omitempty"`
	State     string     `json:"state,omitempty"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Altitude  *float64   `json:"altitude,omitempty"`
	FoundedAt *time.Time `json:"founded_at,omitempty"`
}

// Differences lists the fields that are set on both m and other but disagree.
func (m StationMetadata) Differences(other StationMetadata) []string {
	var diff []string
	if m.Name != "" && other.Name != "" && !strings.EqualFold(m.Name, other.Name) {
		diff = append(diff, "name")
	}
	if floatsDiffer(m.Latitude, other.Latitude) {
		diff = append(diff, "latitude")
	}
	if floatsDiffer(m.Longitude, other.Longitude) {
		diff = append(diff, "longitude")
	}
	if floatsDiffer(m.Altitude, other.Altitude) {
		diff = append(diff, "altitude")
	}
	return diff
}

func floatsDiffer(a, b *float64) bool {
	return a != nil && b != nil && *a != *b
}

// Key is the natural key of an observation.
type Key struct {
	StationID string
	Unix      int64
}

// Observation is one normalized row: a station, a local timestamp, and
// optional values for each measurement kind.
type Observation struct {
	StationID string
	Timestamp time.Time

	values  [NumKinds]float64
	present uint32
	flags   [NumKinds]Flag
}

// Key returns the (station, timestamp) identity of the observation.
func (o *Observation) Key() Key {
	return Key{StationID: o.StationID, Unix: o.Timestamp.Unix()}
}

// Set stores a present value for k.
func (o *Observation) Set(k Kind, v float64) {
	o.values[k] = v
	o.present |= 1 << uint(k)
}

// Mark adds a validity flag to k.
func (o *Observation) Mark(k Kind, f Flag) {
	o.flags[k] |= f
}

// Value returns the value for k and whether it is present.
func (o *Observation) Value(k Kind) (float64, bool) {
	if o.present&(1<<uint(k)) == 0 {
		return 0, false
	}
	return o.values[k], true
}

// Flags returns the validity flags recorded for k.
func (o *Observation) Flags(k Kind) Flag {
	return o.flags[k]
}

// PresentCount returns how many kinds carry a value.
func (o *Observation) PresentCount() int {
	n := 0
	for p := o.present; p != 0; p &= p - 1 {
		n++
	}
	return n
}

// Flagged reports whether any kind carries flag f.
func (o *Observation) Flagged(f Flag) bool {
	for _, fl := range o.flags {
		if fl&f != 0 {
			return true
		}
	}
	return false
}

// ValidityString renders flags as "kind:flag|kind:flag" in kind order.
func (o *Observation) ValidityString() string {
	var b strings.Builder
	for i, fl := range o.flags {
		if fl == 0 {
			continue
		}
		for _, single := range flagOrder {
			if fl&single == 0 {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			b.WriteString(kindNames[i])
			b.WriteByte(':')
			b.WriteString(single.String())
		}
	}
	return b.String()
}

type observationJSON struct {
	StationID    string              `json:"station_id"`
	Timestamp    string              `json:"timestamp"`
	Measurements map[string]float64  `json:"measurements"`
	Flags        map[string][]string `json:"flags,omitempty"`
}

// MarshalJSON renders the observation with kind names as keys. Absent values are omitted.
func (o *Observation) MarshalJSON() ([]byte, error) {
	out := observationJSON{
		StationID:    o.StationID,
		Timestamp:    o.Timestamp.Format(TimestampLayout),
		Measurements: make(map[string]float64, o.PresentCount()),
	}
	for i := range NumKinds {
		k := Kind(i)
		if v, ok := o.Value(k); ok {
			out.Measurements[k.String()] = v
		}
		if fl := o.flags[k]; fl != 0 {
			if out.Flags == nil {
				out.Flags = make(map[string][]string)
			}
			for _, single := range flagOrder {
				if fl&single != 0 {
					out.Flags[k.String()] = append(out.Flags[k.String()], single.String())
				}
			}
		}
	}
	return json.Marshal(out)
}
