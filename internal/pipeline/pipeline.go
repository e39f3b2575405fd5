package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/weather-archive-etl/internal/archive"
	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/dialect"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
	"github.com/couchcryptid/weather-archive-etl/internal/station"
)

// MemberSource enumerates archive members. *archive.Scanner implements it.
type MemberSource interface {
	Next() bool
	Member() *archive.Member
	Err() error
	Len() int
}

// Options tunes a Pipeline. Start from DefaultOptions: a zero
// MaxMalformedFraction is honored, so any malformed row fails its member.
type Options struct {
	Workers              int
	SampleBytes          int
	MaxMalformedFraction float64
	MaxMemberBytes       int64
}

// DefaultOptions returns the options a run uses unless configured otherwise.
func DefaultOptions() Options {
	return Options{
		Workers:              runtime.NumCPU(),
		SampleBytes:          64 * 1024,
		MaxMalformedFraction: 0.5,
		MaxMemberBytes:       256 << 20,
	}
}

// withDefaults fills in sizes that have no meaningful zero value.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Workers < 1 {
		o.Workers = def.Workers
	}
	if o.SampleBytes < 512 {
		o.SampleBytes = def.SampleBytes
	}
	o.MaxMalformedFraction = min(max(o.MaxMalformedFraction, 0), 1)
	if o.MaxMemberBytes <= 0 {
		o.MaxMemberBytes = def.MaxMemberBytes
	}
	return o
}

// Result is the output of one run. Dataset is nil when the run was aborted.
type Result struct {
	Dataset *consolidate.Dataset
	Report  *report.Report
}

// Pipeline turns an archive into a consolidated dataset and a run report.
type Pipeline struct {
	sniffer    *dialect.Sniffer
	normalizer *domain.Normalizer
	logger     *slog.Logger
	metrics    *observability.Metrics
	opts       Options
	parserFor  func(dialect.Dialect) (station.Strategy, error)
	ready      atomic.Bool
	last       atomic.Pointer[report.Report]
}

// New creates a Pipeline with the given stages and observability. The
// sniffer's confidence floor is relaxed to the malformed-row tolerance, so
// a member the row check would accept is never rejected at sniffing.
func New(sniffer *dialect.Sniffer, normalizer *domain.Normalizer, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		sniffer:    sniffer.Tolerating(opts.MaxMalformedFraction),
		normalizer: normalizer,
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
		parserFor:  station.ForDialect,
	}
}

// CheckReadiness returns nil once a run has completed, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no ingestion run has completed yet")
	}
	return nil
}

// LatestReport returns the report of the most recent run, or nil before
// the first one.
func (p *Pipeline) LatestReport() *report.Report {
	return p.last.Load()
}

// RunArchive opens the archive at path and runs it. The report is returned
// even when the archive cannot be read.
func (p *Pipeline) RunArchive(ctx context.Context, path string, year int) (*Result, error) {
	src, err := archive.Open(path, archive.WithMaxMemberBytes(p.opts.MaxMemberBytes))
	if err != nil {
		rep := report.New(path, year)
		rep.Abort(err)
		p.last.Store(rep)
		p.logger.Error("archive unreadable", "archive", path, "error", err)
		return &Result{Report: rep}, err
	}
	defer src.Close()
	return p.Run(ctx, src, path, year)
}

// Run processes every member of src. Member and row failures are recorded
// in the report; only a broken container aborts the run. When ctx is
// cancelled no new members are started and the partial result is marked
// incomplete.
func (p *Pipeline) Run(ctx context.Context, src MemberSource, name string, year int) (*Result, error) {
	rep := report.New(name, year)
	cons := consolidate.New()

	p.logger.Info("run started", "run_id", rep.RunID.String(), "archive", name, "workers", p.opts.Workers, "entries", src.Len())
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	results := make(chan memberResult, p.opts.Workers)
	var (
		incomplete bool
		sourceErr  error
	)
	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(p.opts.Workers)
		for src.Next() {
			if ctx.Err() != nil {
				incomplete = true
				break
			}
			m := src.Member()
			g.Go(func() error {
				results <- p.processMember(m)
				return nil
			})
		}
		_ = g.Wait()
		sourceErr = src.Err()
	}()

	progress := newProgress(src.Len(), p.logger)
	for res := range results {
		p.collect(rep, cons, res)
		progress.tick(res.outcome)
	}

	if sourceErr != nil {
		rep.Abort(sourceErr)
		p.last.Store(rep)
		p.logger.Error("archive unreadable", "archive", name, "error", sourceErr)
		return &Result{Report: rep}, sourceErr
	}
	if incomplete {
		p.logger.Warn("run cancelled, result is partial", "reason", ctx.Err())
	}

	ds := cons.Dataset()
	rep.ApplyDataset(ds)
	rep.Finish(incomplete)

	p.metrics.Observations.Add(float64(ds.Len()))
	p.metrics.Duplicates.Add(float64(rep.Duplicates()))
	p.metrics.RunDuration.Set(rep.Elapsed().Seconds())
	p.last.Store(rep)
	p.ready.Store(true)

	p.logger.Info("run finished", rep.Summary()...)
	return &Result{Dataset: ds, Report: rep}, nil
}

// collect runs on the single collector goroutine; it is the only writer
// to the consolidator and the report.
func (p *Pipeline) collect(rep *report.Report, cons *consolidate.Consolidator, res memberResult) {
	out := res.outcome
	if out.Status == report.StatusOK {
		if err := cons.Add(res.observations); err != nil {
			p.logger.Error("consolidate member", "member", out.Member, "error", err)
		}
	}
	rep.Record(out)

	p.metrics.MembersProcessed.WithLabelValues(string(out.Status)).Inc()
	p.metrics.MemberDuration.Observe(res.duration.Seconds())
	p.metrics.RowsParsed.Add(float64(out.RowsParsed))
	for reason, n := range out.Rejections {
		p.metrics.RowsRejected.WithLabelValues(string(reason)).Add(float64(n))
	}

	switch out.Status {
	case report.StatusFailed:
		p.metrics.MemberFailures.WithLabelValues(string(out.Reason)).Inc()
		p.logger.Warn("member failed, continuing",
			"member", out.Member,
			"reason", out.Reason,
			"error", out.Detail,
		)
	case report.StatusSkipped:
		p.logger.Debug("member skipped", "member", out.Member, "reason", out.Reason)
	default:
		p.logger.Debug("member ingested",
			"member", out.Member,
			"station", out.StationID,
			"dialect", out.Dialect,
			"rows", out.RowsParsed,
			"accepted", out.RowsAccepted,
			"rejected", out.RowsRejected,
		)
	}
}

// progress logs roughly every tenth of the archive, or every 50 members
// when the total is unknown.
type progress struct {
	total  int
	every  int
	done   int
	logger *slog.Logger
	start  time.Time
}

func newProgress(total int, logger *slog.Logger) *progress {
	every := 50
	if total > 0 {
		every = max(total/10, 1)
	}
	return &progress{total: total, every: every, logger: logger, start: time.Now()}
}

func (p *progress) tick(out report.FileOutcome) {
	p.done++
	if p.done%p.every != 0 {
		return
	}
	attrs := []any{"done", p.done, "elapsed", time.Since(p.start).Round(time.Millisecond).String()}
	if p.total > 0 {
		attrs = append(attrs, "total", p.total, "percent", fmt.Sprintf("%.0f", 100*float64(p.done)/float64(p.total)))
	}
	p.logger.Info("progress", append(attrs, "last_member", out.Member)...)
}
