// Package report keeps the per-member bookkeeping of a run.
package report

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// Status is the outcome of one member.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// FileOutcome is what happened to one archive member.
type FileOutcome struct {
	Ordinal      int                   `json:"ordinal"`
	Member       string                `json:"member"`
	Status       Status                `json:"status"`
	Reason       domain.Reason         `json:"reason,omitempty"`
	Detail       string                `json:"detail,omitempty"`
	StationID    string                `json:"station_id,omitempty"`
	Dialect      string                `json:"dialect,omitempty"`
	RowsParsed   int                   `json:"rows_parsed"`
	RowsRejected int                   `json:"rows_rejected"`
	RowsAccepted int                   `json:"rows_accepted"`
	Duplicates   int                   `json:"duplicates"`
	Rejections   map[domain.Reason]int `json:"rejections,omitempty"`
	Notes        []string              `json:"notes,omitempty"`
}

// Report is the run report. It never fails; it only records.
type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	Year       int       `json:"year,omitempty"`
	Archive    string    `json:"archive"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Incomplete bool      `json:"incomplete"`
	Fatal      string    `json:"fatal,omitempty"`

	outcomes     map[int]*FileOutcome
	rowsIngested int
}

// New starts a report for archive.
func New(archive string, year int) *Report {
	return &Report{
		RunID:     uuid.New(),
		Year:      year,
		Archive:   archive,
		StartedAt: domain.Now(),
		outcomes:  make(map[int]*FileOutcome),
	}
}

// Record stores the outcome of one member. A second outcome for the same
// ordinal replaces the first.
func (r *Report) Record(o FileOutcome) {
	r.outcomes[o.Ordinal] = &o
}

// ApplyDataset folds the consolidator's collisions and metadata conflicts
// into the outcomes of the members they concern.
func (r *Report) ApplyDataset(ds *consolidate.Dataset) {
	r.rowsIngested = ds.Len()
	for _, col := range ds.Collisions() {
		o, ok := r.outcomes[col.Dropped.Ordinal]
		if !ok {
			continue
		}
		o.Duplicates++
		if o.Rejections == nil {
			o.Rejections = make(map[domain.Reason]int)
		}
		o.Rejections[domain.ReasonDuplicateObservation]++
	}
	for _, conf := range ds.Conflicts() {
		if o, ok := r.outcomes[conf.Ordinal]; ok {
			o.Notes = append(o.Notes, fmt.Sprintf("station %s metadata differs from %s: %v",
				conf.StationID, conf.KeptMember, conf.Fields))
		}
	}
}

// Finish stamps the end of the run.
func (r *Report) Finish(incomplete bool) {
	r.FinishedAt = domain.Now()
	r.Incomplete = incomplete
}

// Abort marks the run as stopped by a run-fatal error.
func (r *Report) Abort(err error) {
	r.Fatal = err.Error()
	r.Finish(true)
}

// Outcomes returns one outcome per member in ordinal order.
func (r *Report) Outcomes() []FileOutcome {
	out := make([]FileOutcome, 0, len(r.outcomes))
	for _, ord := range slices.Sorted(maps.Keys(r.outcomes)) {
		out = append(out, *r.outcomes[ord])
	}
	return out
}

// Outcome returns the outcome recorded for a member name.
func (r *Report) Outcome(member string) (FileOutcome, bool) {
	for _, o := range r.outcomes {
		if o.Member == member {
			return *o, true
		}
	}
	return FileOutcome{}, false
}

// FilesProcessed counts members with any outcome.
func (r *Report) FilesProcessed() int { return len(r.outcomes) }

// FilesFailed counts members that failed.
func (r *Report) FilesFailed() int { return r.countStatus(StatusFailed) }

// FilesSkipped counts members that were not tabular files.
func (r *Report) FilesSkipped() int { return r.countStatus(StatusSkipped) }

func (r *Report) countStatus(s Status) int {
	n := 0
	for _, o := range r.outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// RowsIngested is the number of observations in the consolidated dataset.
func (r *Report) RowsIngested() int { return r.rowsIngested }

// RowsRejected sums row rejections across members, duplicates excluded.
func (r *Report) RowsRejected() int {
	n := 0
	for _, o := range r.outcomes {
		n += o.RowsRejected
	}
	return n
}

// Duplicates sums dropped duplicate rows across members.
func (r *Report) Duplicates() int {
	n := 0
	for _, o := range r.outcomes {
		n += o.Duplicates
	}
	return n
}

// Elapsed is the wall time of the run, or time so far if unfinished.
func (r *Report) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return domain.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether the run produced nothing usable.
func (r *Report) Failed() bool {
	return r.Fatal != "" || r.rowsIngested == 0
}

// ReasonCounts tallies member failure reasons.
func (r *Report) ReasonCounts() map[domain.Reason]int {
	counts := map[domain.Reason]int{}
	for _, o := range r.outcomes {
		if o.Status == StatusFailed {
			counts[o.Reason]++
		}
	}
	return counts
}

// RejectionCounts tallies row rejections per reason across members,
// duplicates included.
func (r *Report) RejectionCounts() map[domain.Reason]int {
	counts := map[domain.Reason]int{}
	for _, o := range r.outcomes {
		for reason, n := range o.Rejections {
			counts[reason] += n
		}
	}
	return counts
}

// Summary returns key/value pairs suitable for structured logging.
func (r *Report) Summary() []any {
	return []any{
		"run_id", r.RunID.String(),
		"files_processed", r.FilesProcessed(),
		"files_failed", r.FilesFailed(),
		"files_skipped", r.FilesSkipped(),
		"rows_ingested", r.RowsIngested(),
		"rows_rejected", r.RowsRejected(),
		"duplicates", r.Duplicates(),
		"incomplete", r.Incomplete,
		"elapsed", r.Elapsed().Round(time.Millisecond).String(),
	}
}

// FailedOutcomes returns failed members in ordinal order.
func (r *Report) FailedOutcomes() []FileOutcome {
	var out []FileOutcome
	for _, o := range r.Outcomes() {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}
