// Package export writes a consolidated dataset and its run report to files.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

// Columns returns the CSV header: station and timestamp, one column per
// kind in kind order, then the validity flags.
func Columns() []string {
	cols := []string{"station_id", "timestamp"}
	for _, k := range domain.Kinds() {
		cols = append(cols, k.String())
	}
	return append(cols, "validity_flags")
}

// WriteCSV writes ds as CSV. The output depends only on the dataset, so
// the same archive always produces the same bytes.
func WriteCSV(w io.Writer, ds *consolidate.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, 0, domain.NumKinds+3)
	obs := ds.Observations()
	for i := range obs {
		o := &obs[i]
		record = append(record[:0], o.StationID, o.Timestamp.Format(domain.TimestampLayout))
		for _, k := range domain.Kinds() {
			if v, ok := o.Value(k); ok {
				record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				record = append(record, "")
			}
		}
		record = append(record, o.ValidityString())
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type reportJSON struct {
	*report.Report
	Outcomes       []report.FileOutcome `json:"outcomes"`
	FilesProcessed int                  `json:"files_processed"`
	FilesFailed    int                  `json:"files_failed"`
	FilesSkipped   int                  `json:"files_skipped"`
	RowsIngested   int                  `json:"rows_ingested"`
	RowsRejected   int                  `json:"rows_rejected"`
	Duplicates     int                  `json:"duplicates"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	Failed         bool                 `json:"failed"`
}

// WriteReportJSON writes the run report with its totals.
func WriteReportJSON(w io.Writer, rep *report.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reportJSON{
		Report:         rep,
		Outcomes:       rep.Outcomes(),
		FilesProcessed: rep.FilesProcessed(),
		FilesFailed:    rep.FilesFailed(),
		FilesSkipped:   rep.FilesSkipped(),
		RowsIngested:   rep.RowsIngested(),
		RowsRejected:   rep.RowsRejected(),
		Duplicates:     rep.Duplicates(),
		ElapsedSeconds: rep.Elapsed().Seconds(),
		Failed:         rep.Failed(),
	})
}

// BaseName is the file stem for a run's outputs.
func BaseName(year int) string {
	if year <= 0 {
		return "observations"
	}
	return fmt.Sprintf("observations_%d", year)
}

// FileSink writes <dir>/observations_<year>.csv and the matching report JSON.
type FileSink struct {
	Dir  string
	Year int
}

func (FileSink) Name() string { return "csv" }

// Write creates the output directory if needed and replaces both files.
func (s FileSink) Write(_ context.Context, ds *consolidate.Dataset, rep *report.Report) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	stem := filepath.Join(s.Dir, BaseName(s.Year))
	if err := writeFile(stem+".csv", func(w io.Writer) error { return WriteCSV(w, ds) }); err != nil {
		return err
	}
	return writeFile(stem+".report.json", func(w io.Writer) error { return WriteReportJSON(w, rep) })
}

// writeFile writes through a temp file so readers never see a partial output.
func writeFile(name string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
