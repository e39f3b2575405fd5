// Command validate checks the outputs of an ETL run against each other: the
// CSV export, its run report and, when given, the Parquet file. It verifies
// the header, key order and uniqueness, value and flag consistency, and that
// row counts agree across outputs.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -csv out/observations_2019.csv \
//	  -report out/observations_2019.report.json \
//	  -parquet out/observations_2019.parquet
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	csvPath := flag.String("csv", "", "path to the CSV export")
	reportPath := flag.String("report", "", "path to the run report JSON")
	parquetPath := flag.String("parquet", "", "optional path to the Parquet export")
	flag.Parse()

	if *csvPath == "" || *reportPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(os.Stdout, *csvPath, *reportPath, *parquetPath))
}

func run(out io.Writer, csvPath, reportPath, parquetPath string) int {
	fmt.Fprintln(out, "=== Weather Archive Output Validation ===")
	fmt.Fprintln(out)

	exp, err := loadExport(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load CSV: %v\n", err)
		return 1
	}
	rep, err := loadReport(reportPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load report: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateHeader(exp),
		validateKeys(exp),
		validateValues(exp),
		validateReport(exp, rep),
	}
	if parquetPath != "" {
		phases = append(phases, validateParquet(exp, parquetPath))
	}

	fmt.Fprintln(out)
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Rows: %d CSV, %d reported ingested, %d members\n", len(exp.rows), rep.RowsIngested, len(rep.Outcomes))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

// reportFile is the subset of the run report JSON the checks read.
type reportFile struct {
	RunID        string `json:"run_id"`
	RowsIngested int    `json:"rows_ingested"`
	Failed       bool   `json:"failed"`
	Incomplete   bool   `json:"incomplete"`
	Outcomes     []struct {
		Member       string `json:"member"`
		Status       string `json:"status"`
		StationID    string `json:"station_id"`
		RowsAccepted int    `json:"rows_accepted"`
		Duplicates   int    `json:"duplicates"`
	} `json:"outcomes"`
}

func loadReport(path string) (*reportFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rep reportFile
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}
