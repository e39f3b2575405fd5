package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/parquet/file"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/export"
)

// exportFile is a loaded CSV export.
type exportFile struct {
	header []string
	rows   [][]string
}

func loadExport(path string) (*exportFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no header in %s", path)
	}
	return &exportFile{header: all[0], rows: all[1:]}, nil
}

// line is the 1-based file line of data row i.
func line(i int) int { return i + 2 }

// ── Phase 1: Header ──

func validateHeader(exp *exportFile) *phase {
	p := &phase{name: "Phase 1: Header"}
	want := export.Columns()
	if !slices.Equal(exp.header, want) {
		p.errorf("header: expected %v, got %v", want, exp.header)
	}
	for i, row := range exp.rows {
		if len(row) != len(want) {
			p.errorf("line %d: %d fields, expected %d", line(i), len(row), len(want))
		}
	}
	return p
}

// ── Phase 2: Keys ──
// Rows are ordered by (station, timestamp) with no key repeated.

func validateKeys(exp *exportFile) *phase {
	p := &phase{name: "Phase 2: Keys (order and uniqueness)"}
	var prevStation string
	var prevTime time.Time
	for i, row := range exp.rows {
		if len(row) < 2 {
			continue
		}
		station := row[0]
		if station == "" {
			p.errorf("line %d: empty station_id", line(i))
			continue
		}
		ts, err := time.Parse(domain.TimestampLayout, row[1])
		if err != nil {
			p.errorf("line %d: timestamp %q: %v", line(i), row[1], err)
			continue
		}
		if i > 0 {
			switch {
			case station < prevStation:
				p.errorf("line %d: station %s after %s", line(i), station, prevStation)
			case station == prevStation && ts.Equal(prevTime):
				p.errorf("line %d: duplicate key %s %s", line(i), station, row[1])
			case station == prevStation && ts.Before(prevTime):
				p.errorf("line %d: %s %s out of order", line(i), station, row[1])
			}
		}
		prevStation, prevTime = station, ts
	}
	return p
}

// ── Phase 3: Values and flags ──
// Absent values carry a sentinel or unparseable flag, out-of-range values
// are present, and every row has at least one value.

func validateValues(exp *exportFile) *phase {
	p := &phase{name: "Phase 3: Values and validity flags"}
	for i, row := range exp.rows {
		if len(row) != domain.NumKinds+3 {
			continue
		}
		cells := row[2 : 2+domain.NumKinds]
		present := 0
		for k, cell := range cells {
			if cell == "" {
				continue
			}
			present++
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				p.errorf("line %d: %s=%q is not a number", line(i), domain.Kind(k), cell)
			}
		}
		if present == 0 {
			p.errorf("line %d: no measurements", line(i))
		}

		flags := row[len(row)-1]
		if flags == "" {
			continue
		}
		for _, tok := range strings.Split(flags, "|") {
			name, flag, ok := strings.Cut(tok, ":")
			if !ok {
				p.errorf("line %d: malformed flag %q", line(i), tok)
				continue
			}
			k, ok := domain.ParseKind(name)
			if !ok {
				p.errorf("line %d: unknown kind %q in flags", line(i), name)
				continue
			}
			switch flag {
			case domain.FlagSentinel.String(), domain.FlagUnparseable.String():
				if cells[k] != "" {
					p.errorf("line %d: %s flagged %s but has value %q", line(i), name, flag, cells[k])
				}
			case domain.FlagOutOfRange.String():
				if cells[k] == "" {
					p.errorf("line %d: %s flagged %s but is empty", line(i), name, flag)
				}
			default:
				p.errorf("line %d: unknown flag %q", line(i), flag)
			}
		}
	}
	return p
}

// ── Phase 4: Report consistency ──

func validateReport(exp *exportFile, rep *reportFile) *phase {
	p := &phase{name: "Phase 4: Report consistency"}
	if rep.RunID == "" {
		p.errorf("report has no run_id")
	}
	if rep.RowsIngested != len(exp.rows) {
		p.errorf("rows_ingested=%d but CSV has %d rows", rep.RowsIngested, len(exp.rows))
	}
	if rep.Failed != (len(exp.rows) == 0) {
		p.errorf("failed=%t with %d rows", rep.Failed, len(exp.rows))
	}

	want := map[string]int{}
	for _, o := range rep.Outcomes {
		if o.Status == "ok" && o.StationID != "" {
			want[o.StationID] += o.RowsAccepted - o.Duplicates
		}
	}
	got := map[string]int{}
	for _, row := range exp.rows {
		if len(row) > 0 {
			got[row[0]]++
		}
	}
	for id, n := range want {
		if got[id] != n {
			p.errorf("station %s: report implies %d rows, CSV has %d", id, n, got[id])
		}
	}
	for id, n := range got {
		if _, ok := want[id]; !ok {
			p.errorf("station %s: %d CSV rows but no member in report", id, n)
		}
	}
	return p
}

// ── Phase 5: Parquet parity ──

func validateParquet(exp *exportFile, path string) *phase {
	p := &phase{name: "Phase 5: Parquet parity"}
	r, err := file.OpenParquetFile(path, false)
	if err != nil {
		p.errorf("open %s: %v", path, err)
		return p
	}
	defer r.Close()

	if n := r.NumRows(); n != int64(len(exp.rows)) {
		p.errorf("parquet has %d rows, CSV has %d", n, len(exp.rows))
	}
	if n := r.MetaData().Schema.NumColumns(); n != len(export.Columns()) {
		p.errorf("parquet has %d columns, expected %d", n, len(export.Columns()))
	}
	return p
}
