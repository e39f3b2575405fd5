package station

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"

	"golang.org/x/text/transform"

	"github.com/couchcryptid/weather-archive-etl/internal/dialect"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// Delimited parses text files with a preamble, a header row and
// separator-delimited data rows.
type Delimited struct{}

// Parse decodes r with the dialect's encoding and reads the preamble and
// header. Data rows are read as the returned scanner advances.
func (Delimited) Parse(r io.Reader, member string, d dialect.Dialect) (*Parsed, error) {
	src := &lineSource{
		r:     bufio.NewReader(transform.NewReader(r, d.Encoding.Decoder())),
		comma: d.Delimiter,
	}
	return assemble(src, member, d.HeaderRow)
}

// lineSource yields one record per physical line. Quotes are honored
// within a line but never join lines, so a stray quote costs one row
// instead of swallowing the rest of the file.
type lineSource struct {
	r     *bufio.Reader
	comma rune
	line  int
}

func (s *lineSource) next() ([]string, int, error) {
	for {
		text, err := s.r.ReadString('\n')
		if text == "" && err != nil {
			return nil, 0, err
		}
		s.line++
		text = strings.TrimRight(text, "\r\n")
		// Whitespace-only lines are not rows, matching how the sniffer counts.
		if strings.TrimSpace(text) == "" {
			continue
		}

		cr := csv.NewReader(strings.NewReader(text))
		cr.Comma = s.comma
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		fields, perr := cr.Read()
		if perr != nil {
			return nil, 0, &rowError{line: s.line, reason: domain.ReasonMalformedRow, detail: perr.Error()}
		}
		return fields, s.line, nil
	}
}
