package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/archive"
	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

// memberResult is produced by a worker and handed to the collector. The
// worker does not touch it afterwards.
type memberResult struct {
	outcome      report.FileOutcome
	observations consolidate.MemberObservations
	duration     time.Duration
}

var tabularExtensions = map[string]bool{
	".csv": true,
	".txt": true,
	".tsv": true,
	".xls": true,
}

// isTabular reports whether a member looks like a station file. Resource
// forks and hidden files that macOS adds to zips are not.
func isTabular(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return tabularExtensions[strings.ToLower(path.Ext(base))]
}

// processMember sniffs, parses and normalizes one member. It never
// returns an error: failures become the outcome. A panic in a parser is
// recovered and fails only this member.
func (p *Pipeline) processMember(m *archive.Member) (res memberResult) {
	start := time.Now()
	res = memberResult{outcome: report.FileOutcome{Ordinal: m.Ordinal, Member: m.Name}}
	defer func() { res.duration = time.Since(start) }()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		p.logger.Error("member parser panicked", "member", m.Name, "panic", r, "stack", string(debug.Stack()))
		res.observations = consolidate.MemberObservations{}
		res.outcome = report.FileOutcome{Ordinal: m.Ordinal, Member: m.Name, Dialect: res.outcome.Dialect}
		fail(&res.outcome, fmt.Errorf("parser panic: %v: %w", r, domain.ReasonMemberUnreadable))
	}()

	if !isTabular(m.Name) {
		res.outcome.Status = report.StatusSkipped
		res.outcome.Reason = domain.ReasonUnsupportedMember
		return res
	}
	if m.Size > p.opts.MaxMemberBytes {
		fail(&res.outcome, fmt.Errorf("%d bytes exceeds limit of %d: %w", m.Size, p.opts.MaxMemberBytes, domain.ReasonMemberTooLarge))
		return res
	}

	rc, err := m.Open()
	if err != nil {
		fail(&res.outcome, err)
		return res
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, p.opts.SampleBytes)
	sample, err := br.Peek(p.opts.SampleBytes)
	if err != nil && !errors.Is(err, io.EOF) {
		fail(&res.outcome, fmt.Errorf("read sample: %v: %w", err, domain.ReasonMemberUnreadable))
		return res
	}
	truncated := len(sample) == p.opts.SampleBytes

	d, err := p.sniffer.Sniff(sample, truncated)
	if err != nil {
		fail(&res.outcome, err)
		return res
	}
	res.outcome.Dialect = d.String()

	strategy, err := p.parserFor(d)
	if err != nil {
		fail(&res.outcome, err)
		return res
	}
	parsed, err := strategy.Parse(br, m.Name, d)
	if err != nil {
		fail(&res.outcome, err)
		return res
	}
	res.outcome.StationID = parsed.Metadata.ID

	var entries []consolidate.Entry
	rejections := map[domain.Reason]int{}
	rows := parsed.Rows
	for rows.Next() {
		if rej := rows.Rejection(); rej != nil {
			rejections[rej.Reason]++
			continue
		}
		row := rows.Row()
		obs, err := p.normalizer.Normalize(row, parsed.Metadata)
		if err != nil {
			reason, ok := domain.ReasonOf(err)
			if !ok {
				reason = domain.ReasonMalformedRow
			}
			rejections[reason]++
			continue
		}
		entries = append(entries, consolidate.Entry{Observation: obs, Line: row.Line})
	}

	total, _ := rows.Counts()
	res.outcome.RowsParsed = total
	for _, n := range rejections {
		res.outcome.RowsRejected += n
	}
	if len(rejections) > 0 {
		res.outcome.Rejections = rejections
	}

	if err := rows.Err(); err != nil {
		fail(&res.outcome, err)
		return res
	}
	if err := rows.CheckMalformed(p.opts.MaxMalformedFraction); err != nil {
		fail(&res.outcome, err)
		return res
	}

	res.outcome.Status = report.StatusOK
	res.outcome.RowsAccepted = len(entries)
	res.observations = consolidate.MemberObservations{
		Ordinal: m.Ordinal,
		Member:  m.Name,
		Station: parsed.Metadata,
		Entries: entries,
	}
	return res
}

func fail(out *report.FileOutcome, err error) {
	out.Status = report.StatusFailed
	out.Detail = err.Error()
	reason, ok := domain.ReasonOf(err)
	if !ok {
		reason = domain.ReasonMemberUnreadable
	}
	out.Reason = reason
}
