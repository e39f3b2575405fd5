package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/pipeline"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

// printSummary renders the run report as aligned tables: members that did
// not load cleanly, run totals, row rejections by reason, then observations
// per station.
func printSummary(w io.Writer, res *pipeline.Result) {
	if res == nil || res.Report == nil {
		return
	}
	rep := res.Report
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "run\t%s\n", rep.RunID)
	fmt.Fprintf(tw, "archive\t%s\n", rep.Archive)
	if rep.Fatal != "" {
		fmt.Fprintf(tw, "fatal\t%s\n", rep.Fatal)
	}

	var problems []report.FileOutcome
	for _, o := range rep.Outcomes() {
		if o.Status != report.StatusOK {
			problems = append(problems, o)
		}
	}
	if len(problems) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "MEMBER\tSTATUS\tREASON\tDETAIL")
		for _, o := range problems {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Member, o.Status, o.Reason, o.Detail)
		}
	}

	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "files processed\t%d\n", rep.FilesProcessed())
	fmt.Fprintf(tw, "files failed\t%d\n", rep.FilesFailed())
	fmt.Fprintf(tw, "files skipped\t%d\n", rep.FilesSkipped())
	fmt.Fprintf(tw, "rows ingested\t%d\n", rep.RowsIngested())
	fmt.Fprintf(tw, "rows rejected\t%d\n", rep.RowsRejected())
	fmt.Fprintf(tw, "duplicates\t%d\n", rep.Duplicates())
	fmt.Fprintf(tw, "incomplete\t%t\n", rep.Incomplete)
	fmt.Fprintf(tw, "elapsed\t%s\n", rep.Elapsed().Round(time.Millisecond))

	if rejections := rep.RejectionCounts(); len(rejections) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "REJECTED ROWS\tCOUNT")
		for _, reason := range slices.Sorted(maps.Keys(rejections)) {
			fmt.Fprintf(tw, "%s\t%d\n", reason, rejections[reason])
		}
	}

	if res.Dataset != nil && res.Dataset.Len() > 0 {
		counts := res.Dataset.CountByStation()
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "STATION\tNAME\tOBSERVATIONS")
		for _, id := range res.Dataset.StationIDs() {
			meta, _ := res.Dataset.Station(id)
			fmt.Fprintf(tw, "%s\t%s\t%d\n", id, meta.Name, counts[id])
		}
	}
	tw.Flush()
}
