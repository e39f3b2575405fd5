// Package station parses one station file into its metadata and a lazy
// stream of raw rows. Each dialect kind has its own Strategy.
package station

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/couchcryptid/weather-archive-etl/internal/dialect"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// Strategy parses a member laid out in one dialect kind.
type Strategy interface {
	Parse(r io.Reader, member string, d dialect.Dialect) (*Parsed, error)
}

// ForDialect returns the strategy for d's kind.
func ForDialect(d dialect.Dialect) (Strategy, error) {
	switch d.Kind {
	case dialect.KindDelimited:
		return Delimited{}, nil
	case dialect.KindLegacySpreadsheet:
		return Spreadsheet{}, nil
	}
	return nil, fmt.Errorf("no parser for %s: %w", d.Kind, domain.ReasonDialectUnknown)
}

// Parsed is a member whose preamble and header have been read. Rows are
// produced on demand.
type Parsed struct {
	Metadata domain.StationMetadata
	Header   *domain.Header
	Rows     *RowScanner
}

// recordSource yields records with their 1-based line numbers and io.EOF at the end.
type recordSource interface {
	next() (fields []string, line int, err error)
}

// assemble reads headerRow preamble records and the header from src.
func assemble(src recordSource, member string, headerRow int) (*Parsed, error) {
	preamble := make([][]string, 0, headerRow)
	for len(preamble) < headerRow {
		fields, _, err := src.next()
		if err != nil {
			return nil, fmt.Errorf("read preamble: %w", sourceError(err))
		}
		preamble = append(preamble, fields)
	}

	labels, _, err := src.next()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", sourceError(err))
	}
	for i := range labels {
		labels[i] = strings.TrimSpace(labels[i])
	}

	meta, err := ParsePreamble(preamble, member)
	if err != nil {
		return nil, err
	}

	header := domain.NewHeader(labels)
	return &Parsed{
		Metadata: meta,
		Header:   header,
		Rows:     &RowScanner{src: src, header: header, member: member},
	}, nil
}

func sourceError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("file ends before the header: %w", domain.ReasonPreambleMalformed)
	}
	if _, ok := domain.ReasonOf(err); ok {
		return err
	}
	return fmt.Errorf("%v: %w", err, domain.ReasonMemberUnreadable)
}

// rowError marks a record the source could read but not split.
type rowError struct {
	line   int
	reason domain.Reason
	detail string
}

func (e *rowError) Error() string { return e.detail }

// RowScanner yields the data rows of a member. A row that cannot be
// split into the header's columns is reported through Rejection and the
// scan continues.
type RowScanner struct {
	src    recordSource
	header *domain.Header
	member string

	row       domain.RawRow
	rejection *domain.RowRejection
	err       error

	total    int
	rejected int
}

// Next advances to the next data row. It returns false at the end of the
// member or on a read error reported by Err.
func (s *RowScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.rejection = nil

	fields, line, err := s.src.next()
	if errors.Is(err, io.EOF) {
		return false
	}
	var rerr *rowError
	if errors.As(err, &rerr) {
		s.reject(rerr.line, rerr.reason, rerr.detail)
		return true
	}
	if err != nil {
		s.err = fmt.Errorf("read %s: %v: %w", s.member, err, domain.ReasonMemberUnreadable)
		return false
	}

	width := s.header.Width()
	// INMET rows sometimes drop the trailing separator that the header carries.
	if len(fields) == width-1 && s.header.Labels[width-1] == "" {
		fields = append(fields, "")
	}
	if len(fields) != width {
		s.reject(line, domain.ReasonWrongColumnCount, fmt.Sprintf("%d fields, header has %d", len(fields), width))
		return true
	}
	for _, f := range fields {
		if !utf8.ValidString(f) {
			s.reject(line, domain.ReasonUndecodableBytes, "invalid UTF-8 after decoding")
			return true
		}
	}

	s.total++
	s.row = domain.RawRow{Header: s.header, Values: fields, Member: s.member, Line: line}
	return true
}

func (s *RowScanner) reject(line int, reason domain.Reason, detail string) {
	s.total++
	s.rejected++
	s.rejection = &domain.RowRejection{Member: s.member, Line: line, Reason: reason, Detail: detail}
}

// Row returns the current row. Only valid when Rejection is nil.
func (s *RowScanner) Row() domain.RawRow { return s.row }

// Rejection returns the parse rejection for the current line, if any.
func (s *RowScanner) Rejection() *domain.RowRejection { return s.rejection }

// Err returns the error that stopped the scan.
func (s *RowScanner) Err() error { return s.err }

// Counts returns how many data rows were read and how many of those the
// parser rejected.
func (s *RowScanner) Counts() (total, rejected int) { return s.total, s.rejected }

// CheckMalformed fails with ReasonTooManyMalformedRows when the share of
// parser-rejected rows exceeds maxFraction.
func (s *RowScanner) CheckMalformed(maxFraction float64) error {
	if s.total == 0 {
		return nil
	}
	if frac := float64(s.rejected) / float64(s.total); frac > maxFraction {
		return fmt.Errorf("%d of %d rows malformed (%.0f%%): %w",
			s.rejected, s.total, frac*100, domain.ReasonTooManyMalformedRows)
	}
	return nil
}
