package station

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/extrame/xls"

	"github.com/couchcryptid/weather-archive-etl/internal/dialect"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

const minHeaderColumns = 3

// Spreadsheet parses legacy BIFF workbooks (.xls). The first sheet is
// laid out like the delimited files: preamble rows, a header, data rows.
type Spreadsheet struct {
	// Charset is passed to the workbook reader for pre-BIFF8 string cells.
	Charset string
}

// Parse buffers r, since the workbook format needs random access. The
// container and record stream are checked before the workbook reader sees
// them.
func (s Spreadsheet) Parse(r io.Reader, member string, _ dialect.Dialect) (*Parsed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read workbook %s: %v: %w", member, err, domain.ReasonMemberUnreadable)
	}
	if err := checkWorkbook(data); err != nil {
		return nil, fmt.Errorf("workbook %s: %w", member, err)
	}
	charset := s.Charset
	if charset == "" {
		charset = "iso-8859-1"
	}
	wb, err := xls.OpenReader(bytes.NewReader(data), charset)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %v: %w", member, err, domain.ReasonMemberUnreadable)
	}
	if wb == nil {
		return nil, fmt.Errorf("workbook %s has no workbook stream: %w", member, domain.ReasonMemberUnreadable)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("workbook %s has no sheets: %w", member, domain.ReasonDialectUnknown)
	}
	if sheet.MaxRow == 0 {
		return nil, fmt.Errorf("no table found in workbook %s: %w", member, domain.ReasonDialectUnknown)
	}

	// The first sheet fills the whole budget, so no other sheet is read.
	cells := wb.ReadAllCells(int(sheet.MaxRow) + 1)
	var records []sheetRecord
	for i, row := range cells {
		row = trimTrailingBlank(row)
		if len(row) == 0 {
			continue
		}
		records = append(records, sheetRecord{fields: row, line: i + 1})
	}

	header, width := locateHeader(records)
	if header < 0 {
		return nil, fmt.Errorf("no table found in workbook %s: %w", member, domain.ReasonDialectUnknown)
	}
	// Cells right of the table are padded out so every row matches the header.
	for i := header; i < len(records); i++ {
		for len(records[i].fields) < width {
			records[i].fields = append(records[i].fields, "")
		}
	}
	return assemble(&sliceSource{records: records}, member, header)
}

type sheetRecord struct {
	fields []string
	line   int
}

type sliceSource struct {
	records []sheetRecord
	pos     int
}

func (s *sliceSource) next() ([]string, int, error) {
	if s.pos >= len(s.records) {
		return nil, 0, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec.fields, rec.line, nil
}

func trimTrailingBlank(cells []string) []string {
	n := len(cells)
	for n > 0 && strings.TrimSpace(cells[n-1]) == "" {
		n--
	}
	return cells[:n]
}

// locateHeader applies the sniffer's width rule to sheet rows: the modal
// width among wide rows is the table, and the first row of that width is
// the header.
func locateHeader(records []sheetRecord) (header, width int) {
	freq := map[int]int{}
	for _, r := range records {
		if len(r.fields) >= minHeaderColumns {
			freq[len(r.fields)]++
		}
	}
	best := 0
	for w, f := range freq {
		if f > best || (f == best && w > width) {
			width, best = w, f
		}
	}
	if width == 0 {
		return -1, 0
	}
	for i, r := range records {
		if len(r.fields) == width {
			return i, width
		}
	}
	return -1, 0
}
