// Package dialect detects how a station file is encoded and laid out
// from a sample of its leading bytes.
package dialect

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// Kind is the closed set of file layouts the parser understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindDelimited
	KindLegacySpreadsheet
)

func (k Kind) String() string {
	switch k {
	case KindDelimited:
		return "delimited"
	case KindLegacySpreadsheet:
		return "legacy_spreadsheet"
	}
	return "unknown"
}

// Encoding names a text encoding a station file may use.
type Encoding string

const (
	UTF8        Encoding = "utf-8"
	UTF8BOM     Encoding = "utf-8-bom"
	UTF16LE     Encoding = "utf-16le"
	UTF16BE     Encoding = "utf-16be"
	ISO88591    Encoding = "iso-8859-1"
	Windows1252 Encoding = "windows-1252"
)

// Decoder returns the x/text decoder for e. BOM variants strip the mark.
func (e Encoding) Decoder() *encoding.Decoder {
	switch e {
	case UTF8BOM:
		return unicode.UTF8BOM.NewDecoder()
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
	case ISO88591:
		return charmap.ISO8859_1.NewDecoder()
	case Windows1252:
		return charmap.Windows1252.NewDecoder()
	}
	return encoding.Nop.NewDecoder()
}

// Dialect describes how to read one member.
type Dialect struct {
	Kind       Kind
	Encoding   Encoding
	Delimiter  rune
	HeaderRow  int // 0-based index among non-empty lines
	Columns    int
	Confidence float64
}

func (d Dialect) String() string {
	if d.Kind != KindDelimited {
		return d.Kind.String()
	}
	return fmt.Sprintf("delimited(%s, %q, header=%d, cols=%d, conf=%.2f)",
		d.Encoding, d.Delimiter, d.HeaderRow, d.Columns, d.Confidence)
}

var ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Sniffer infers a Dialect from a byte sample.
type Sniffer struct {
	Delimiters    []rune
	SampleLines   int
	MinColumns    int
	MinConfidence float64
}

// NewSniffer returns a Sniffer with INMET-friendly defaults.
func NewSniffer() *Sniffer {
	return &Sniffer{
		Delimiters:    []rune{';', ',', '\t', '|'},
		SampleLines:   200,
		MinColumns:    3,
		MinConfidence: 0.6,
	}
}

// Tolerating returns a copy of s whose confidence floor accepts a sample
// in which up to frac of the data lines miss the table width. The row
// parser rejects those lines one by one, so sniffing should not fail a
// member the malformed-row limit would keep.
func (s *Sniffer) Tolerating(frac float64) *Sniffer {
	c := *s
	c.MinConfidence = min(c.MinConfidence, 1-frac)
	return &c
}

// Sniff inspects sample. Set truncated when the sample was cut short, so
// the partial last line is ignored. An undecidable sample fails with
// ReasonDialectUnknown.
func (s *Sniffer) Sniff(sample []byte, truncated bool) (Dialect, error) {
	if bytes.HasPrefix(sample, ole2Signature) {
		return Dialect{Kind: KindLegacySpreadsheet, Confidence: 1}, nil
	}

	enc := DetectEncoding(sample)
	text, err := enc.Decoder().Bytes(sample)
	if err != nil {
		return Dialect{}, fmt.Errorf("decode sample as %s: %v: %w", enc, err, domain.ReasonDialectUnknown)
	}

	lines := s.sampleLines(string(text), truncated)
	if len(lines) == 0 {
		return Dialect{}, fmt.Errorf("empty sample: %w", domain.ReasonDialectUnknown)
	}

	best := Dialect{Kind: KindUnknown}
	for _, delim := range s.Delimiters {
		cand, ok := s.score(lines, delim)
		if !ok {
			continue
		}
		if cand.Confidence > best.Confidence ||
			(cand.Confidence == best.Confidence && cand.Columns > best.Columns) {
			best = cand
		}
	}

	if best.Kind == KindUnknown || best.Confidence < s.MinConfidence {
		return Dialect{}, fmt.Errorf("best delimiter %q scored %.2f: %w",
			best.Delimiter, best.Confidence, domain.ReasonDialectUnknown)
	}
	best.Encoding = enc
	return best, nil
}

func (s *Sniffer) sampleLines(text string, truncated bool) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if truncated && len(raw) > 1 {
		raw = raw[:len(raw)-1]
	}
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
		if s.SampleLines > 0 && len(lines) >= s.SampleLines {
			break
		}
	}
	return lines
}

// score finds the table width for delim and rates how consistently the
// lines from the header onward match it. A trailing separator adds an
// empty field that data rows often drop, so widths are compared without
// it and rows one short of such a header still match.
func (s *Sniffer) score(lines []string, delim rune) (Dialect, bool) {
	raw := make([]int, len(lines))
	eff := make([]int, len(lines))
	freq := map[int]int{}
	for i, l := range lines {
		raw[i] = CountFields(l, delim)
		eff[i] = raw[i]
		if raw[i] > 1 && strings.HasSuffix(strings.TrimRight(l, " \t"), string(delim)) {
			eff[i]--
		}
		if eff[i] >= s.MinColumns {
			freq[eff[i]]++
		}
	}

	width, widthFreq := 0, 0
	for c, f := range freq {
		if f > widthFreq || (f == widthFreq && c > width) {
			width, widthFreq = c, f
		}
	}
	if width == 0 {
		return Dialect{}, false
	}

	header := -1
	for i, w := range eff {
		if w == width {
			header = i
			break
		}
	}

	cols := raw[header]
	padded := cols > width
	matching := 0
	for _, c := range raw[header:] {
		if c == cols || (padded && c == cols-1) {
			matching++
		}
	}
	return Dialect{
		Kind:       KindDelimited,
		Delimiter:  delim,
		HeaderRow:  header,
		Columns:    cols,
		Confidence: float64(matching) / float64(len(lines)-header),
	}, true
}

// CountFields counts delim-separated fields in line, ignoring delimiters
// inside double quotes.
func CountFields(line string, delim rune) int {
	n, quoted := 1, false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == delim && !quoted:
			n++
		}
	}
	return n
}

// DetectEncoding guesses the text encoding of sample. A BOM wins, then
// valid UTF-8. Otherwise C1 control bytes point at Windows-1252, and
// anything else is read as ISO-8859-1.
func DetectEncoding(sample []byte) Encoding {
	switch {
	case bytes.HasPrefix(sample, []byte{0xEF, 0xBB, 0xBF}):
		return UTF8BOM
	case bytes.HasPrefix(sample, []byte{0xFF, 0xFE}):
		return UTF16LE
	case bytes.HasPrefix(sample, []byte{0xFE, 0xFF}):
		return UTF16BE
	}
	if validUTF8Prefix(sample) {
		return UTF8
	}
	for _, b := range sample {
		if b >= 0x80 && b <= 0x9F {
			return Windows1252
		}
	}
	return ISO88591
}

// validUTF8Prefix tolerates a rune cut off at the end of the sample.
func validUTF8Prefix(b []byte) bool {
	if utf8.Valid(b) {
		return true
	}
	for cut := 1; cut < utf8.UTFMax && cut < len(b); cut++ {
		if utf8.Valid(b[:len(b)-cut]) && !utf8.FullRune(b[len(b)-cut:]) {
			return true
		}
	}
	return false
}
