package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldKey lowercases s, strips accents and collapses whitespace so labels
// like "PRECIPITAÇÃO TOTAL" and "precipitacao  total" compare equal.
func FoldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// kindPrefixes binds folded header labels to kinds. More specific prefixes
// come before the ones they would otherwise shadow.
var kindPrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"precipitacao", Precipitation},
	{"pressao atmosferica ao nivel", Pressure},
	{"pressao atmosferica max", PressureMax},
	{"pressao atmosferica min", PressureMin},
	{"radiacao", Radiation},
	{"temperatura do ar", AirTemperature},
	{"temperatura do ponto de orvalho", DewPoint},
	{"temperatura max", TemperatureMax},
	{"temperatura min", TemperatureMin},
	{"temperatura orvalho max", DewPointMax},
	{"temperatura orvalho min", DewPointMin},
	{"umidade rel. max", HumidityMax},
	{"umidade rel. min", HumidityMin},
	{"umidade relativa do ar", Humidity},
	{"vento, direcao", WindDirection},
	{"vento, rajada", WindGust},
	{"vento, velocidade", WindSpeed},
}

// KindForLabel maps a header label to a measurement kind. Canonical kind
// names are accepted as well as INMET's Portuguese descriptions.
func KindForLabel(label string) (Kind, bool) {
	folded := FoldKey(label)
	if k, ok := ParseKind(folded); ok {
		return k, true
	}
	for _, p := range kindPrefixes {
		if strings.HasPrefix(folded, p.prefix) {
			return p.kind, true
		}
	}
	return 0, false
}

func isDateLabel(folded string) bool {
	return strings.HasPrefix(folded, "data") || strings.HasPrefix(folded, "date")
}

func isHourLabel(folded string) bool {
	return strings.HasPrefix(folded, "hora") || strings.HasPrefix(folded, "hour") || folded == "time"
}

// Header holds the column labels of one member, bound once to the date,
// hour and measurement columns. It is shared by all rows of the member.
type Header struct {
	Labels []string

	dateCol int
	hourCol int
	kinds   [NumKinds]int
}

// NewHeader binds labels to columns. The first column matching a role wins.
func NewHeader(labels []string) *Header {
	h := &Header{Labels: labels, dateCol: -1, hourCol: -1}
	for i := range h.kinds {
		h.kinds[i] = -1
	}
	for i, label := range labels {
		folded := FoldKey(label)
		if folded == "" {
			continue
		}
		switch {
		case isDateLabel(folded):
			if h.dateCol < 0 {
				h.dateCol = i
			}
			continue
		case isHourLabel(folded):
			if h.hourCol < 0 {
				h.hourCol = i
			}
			continue
		}
		if k, ok := KindForLabel(label); ok && h.kinds[k] < 0 {
			h.kinds[k] = i
		}
	}
	return h
}

// Width is the number of columns.
func (h *Header) Width() int { return len(h.Labels) }

// Column returns the index bound to k.
func (h *Header) Column(k Kind) (int, bool) {
	i := h.kinds[k]
	return i, i >= 0
}

// HasTimestamp reports whether a date column was found.
func (h *Header) HasTimestamp() bool { return h.dateCol >= 0 }

// RawRow is one data line of a member before normalization.
type RawRow struct {
	Header *Header
	Values []string
	Member string
	Line   int
}

// Get returns the value under label, compared after folding.
func (r RawRow) Get(label string) (string, bool) {
	want := FoldKey(label)
	for i, l := range r.Header.Labels {
		if FoldKey(l) == want && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return "", false
}

func (r RawRow) at(i int) string {
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}
