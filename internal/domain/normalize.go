package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDateLayouts are tried in order until one parses.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02/01/06",
}

// DefaultSentinels are the values that mean "not measured".
var DefaultSentinels = []float64{-9999}

// Normalizer turns raw rows into observations. It holds no per-row state and
// is safe for concurrent use.
type Normalizer struct {
	dateLayouts []string
	sentinels   []float64
	ranges      [NumKinds]Range
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithDateLayouts replaces the ordered list of accepted date layouts.
func WithDateLayouts(layouts []string) NormalizerOption {
	return func(n *Normalizer) {
		if len(layouts) > 0 {
			n.dateLayouts = layouts
		}
	}
}

// WithSentinels replaces the missing-value sentinels.
func WithSentinels(values []float64) NormalizerOption {
	return func(n *Normalizer) {
		if len(values) > 0 {
			n.sentinels = values
		}
	}
}

// WithRange overrides the plausibility range for one kind.
func WithRange(k Kind, r Range) NormalizerOption {
	return func(n *Normalizer) { n.ranges[k] = r }
}

// NewNormalizer creates a Normalizer with INMET defaults.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		dateLayouts: DefaultDateLayouts,
		sentinels:   DefaultSentinels,
		ranges:      DefaultRanges(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates row and converts it into an observation for station.
// A rejected row returns a RowRejection carrying the reason.
func (n *Normalizer) Normalize(row RawRow, station StationMetadata) (Observation, error) {
	ts, err := n.timestamp(row)
	if err != nil {
		return Observation{}, RowRejection{Member: row.Member, Line: row.Line, Reason: ReasonUnparseableTimestamp, Detail: err.Error()}
	}

	obs := Observation{StationID: station.ID, Timestamp: ts}
	for i := range NumKinds {
		k := Kind(i)
		col, ok := row.Header.Column(k)
		if !ok {
			continue
		}
		n.measure(&obs, k, row.at(col))
	}

	if obs.PresentCount() == 0 {
		return Observation{}, RowRejection{Member: row.Member, Line: row.Line, Reason: ReasonNoUsableMeasurements}
	}
	return obs, nil
}

func (n *Normalizer) measure(obs *Observation, k Kind, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	v, err := ParseDecimal(raw)
	if err != nil {
		obs.Mark(k, FlagUnparseable)
		return
	}
	if n.isSentinel(v) {
		obs.Mark(k, FlagSentinel)
		return
	}
	obs.Set(k, v)
	if !n.ranges[k].Contains(v) {
		obs.Mark(k, FlagOutOfRange)
	}
}

func (n *Normalizer) isSentinel(v float64) bool {
	for _, s := range n.sentinels {
		if v == s {
			return true
		}
	}
	return false
}

func (n *Normalizer) timestamp(row RawRow) (time.Time, error) {
	if !row.Header.HasTimestamp() {
		return time.Time{}, fmt.Errorf("no date column")
	}
	date, err := n.parseDate(row.at(row.Header.dateCol))
	if err != nil {
		return time.Time{}, err
	}
	hour, minute := 0, 0
	if row.Header.hourCol >= 0 {
		hour, minute, err = ParseHour(row.at(row.Header.hourCol))
		if err != nil {
			return time.Time{}, err
		}
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, time.UTC), nil
}

func (n *Normalizer) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range n.dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q matches no known layout", s)
}

// ParseHour reads "HH:MM", "HHMM", "HHMM UTC", "HH UTC" and bare "HH".
func ParseHour(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if len(s) > 3 && strings.EqualFold(s[len(s)-3:], "utc") {
		s = strings.TrimSpace(s[:len(s)-3])
	}

	var hh, mm string
	switch {
	case strings.Contains(s, ":"):
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return 0, 0, fmt.Errorf("hour %q has unexpected shape", s)
		}
		hh, mm = parts[0], parts[1]
	case len(s) == 4:
		hh, mm = s[:2], s[2:]
	case len(s) == 3:
		hh, mm = s[:1], s[1:]
	case len(s) == 1 || len(s) == 2:
		hh, mm = s, "0"
	default:
		return 0, 0, fmt.Errorf("hour %q has unexpected shape", s)
	}

	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour %q out of range", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute %q out of range", s)
	}
	return hour, minute, nil
}
