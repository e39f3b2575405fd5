package station

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

var (
	// codeInNameRe finds a WMO-style station code in INMET file names,
	// e.g. "INMET_CO_DF_A001_BRASILIA_..." -> "A001".
	codeInNameRe = regexp.MustCompile(`(?:^|_)([A-Z]\d{3})(?:_|\.|$)`)

	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
)

var foundedLayouts = []string{"2006-01-02", "02/01/06", "02/01/2006", "2006/01/02"}

// preambleKey normalizes "CODIGO (WMO):" to "codigo".
func preambleKey(raw string) string {
	k := domain.FoldKey(raw)
	k = parentheticalRe.ReplaceAllString(k, "")
	k = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(k), ":"))
	return strings.Join(strings.Fields(k), " ")
}

// splitPreambleLine returns the key and first non-empty value of a
// preamble record. "KEY: value" in a single field is split at the colon.
func splitPreambleLine(fields []string) (key, value string, ok bool) {
	if len(fields) == 0 {
		return "", "", false
	}
	key = fields[0]
	for _, f := range fields[1:] {
		if v := strings.TrimSpace(f); v != "" {
			value = v
			break
		}
	}
	if value == "" {
		if i := strings.LastIndex(key, ":"); i >= 0 && i < len(key)-1 {
			key, value = key[:i], strings.TrimSpace(key[i+1:])
		}
	}
	if strings.TrimSpace(key) == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

// ParsePreamble extracts station metadata from the records above the
// header. Unknown keys and unparseable values are ignored. When no code is
// present the member name is consulted; without either the preamble is
// malformed.
func ParsePreamble(records [][]string, member string) (domain.StationMetadata, error) {
	var meta domain.StationMetadata
	for _, rec := range records {
		rawKey, value, ok := splitPreambleLine(rec)
		if !ok {
			continue
		}
		switch preambleKey(rawKey) {
		case "regiao", "region":
			meta.Region = value
		case "uf", "state":
			meta.State = value
		case "estacao", "station", "name":
			meta.Name = value
		case "codigo", "codigo wmo", "code", "station id", "id":
			meta.ID = strings.ToUpper(value)
		case "latitude":
			meta.Latitude = parseCoordinate(value)
		case "longitude":
			meta.Longitude = parseCoordinate(value)
		case "altitude":
			meta.Altitude = parseCoordinate(value)
		case "data de fundacao", "founded":
			meta.FoundedAt = parseFounded(value)
		}
	}

	if meta.ID == "" {
		if m := codeInNameRe.FindStringSubmatch(path.Base(member)); m != nil {
			meta.ID = m[1]
		}
	}
	if meta.ID == "" {
		return domain.StationMetadata{}, fmt.Errorf("no station code in preamble or name of %s: %w",
			member, domain.ReasonPreambleMalformed)
	}
	return meta, nil
}

func parseCoordinate(s string) *float64 {
	v, err := domain.ParseDecimal(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseFounded(s string) *time.Time {
	for _, layout := range foundedLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}
