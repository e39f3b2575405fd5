package dialect

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

const inmetSample = `REGIAO:;CO
UF:;DF
ESTACAO:;BRASILIA
CODIGO (WMO):;A001
LATITUDE:;-15,78944444
LONGITUDE:;-47,92583332
ALTITUDE:;1160,96
DATA DE FUNDACAO:;2000-05-07
Data;Hora UTC;PRECIPITAÇÃO TOTAL, HORÁRIO (mm);TEMPERATURA DO AR - BULBO SECO, HORARIA (°C);UMIDADE RELATIVA DO AR, HORARIA (%);
2019/01/01;0000 UTC;0;21,4;79;
2019/01/01;0100 UTC;0;20,9;82;
2019/01/01;0200 UTC;-9999;20,1;85;
`

func TestSniff_INMET(t *testing.T) {
	s := NewSniffer()

	d, err := s.Sniff([]byte(inmetSample), false)
	require.NoError(t, err)

	assert.Equal(t, KindDelimited, d.Kind)
	assert.Equal(t, UTF8, d.Encoding)
	assert.Equal(t, ';', d.Delimiter)
	assert.Equal(t, 8, d.HeaderRow)
	assert.Equal(t, 6, d.Columns)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
}

func TestSniff_Latin1(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().String(inmetSample)
	require.NoError(t, err)

	d, err := NewSniffer().Sniff([]byte(latin1), false)
	require.NoError(t, err)
	assert.Equal(t, ISO88591, d.Encoding)
	assert.Equal(t, ';', d.Delimiter)
}

func TestSniff_UTF16WithBOM(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := enc.String("date,hour,air_temperature,humidity\n2019-01-01,00:00,21.4,79\n")
	require.NoError(t, err)

	d, err := NewSniffer().Sniff([]byte(data), false)
	require.NoError(t, err)
	assert.Equal(t, UTF16LE, d.Encoding)
	assert.Equal(t, ',', d.Delimiter)
	assert.Equal(t, 0, d.HeaderRow)
}

func TestSniff_PreambleAndHeaderOnly(t *testing.T) {
	head := inmetSample[:strings.Index(inmetSample, "2019/01/01")]

	d, err := NewSniffer().Sniff([]byte(head), false)
	require.NoError(t, err)
	assert.Equal(t, 8, d.HeaderRow)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
}

func TestSniff_TruncatedSample(t *testing.T) {
	cut := inmetSample[:len(inmetSample)-12]

	d, err := NewSniffer().Sniff([]byte(cut), true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9, "partial last line is ignored")
}

func TestSniff_RowsWithoutTrailingSeparator(t *testing.T) {
	head := inmetSample[:strings.Index(inmetSample, "2019/01/01")]
	sample := head + "2019/01/01;0000 UTC;0;21,4;79\n2019/01/01;0100 UTC;0;20,9;82\n"

	d, err := NewSniffer().Sniff([]byte(sample), false)
	require.NoError(t, err)
	assert.Equal(t, 6, d.Columns)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
}

func TestSniffer_Tolerating(t *testing.T) {
	head := inmetSample[:strings.Index(inmetSample, "2019/01/01")]
	var b strings.Builder
	b.WriteString(head)
	for h := range 6 {
		fmt.Fprintf(&b, "2019/01/01;%02d00 UTC;0;21,4;79;\n", h)
	}
	for h := range 5 {
		fmt.Fprintf(&b, "2019/01/01;%02d00 UTC\n", 6+h)
	}

	strict := NewSniffer()
	_, err := strict.Sniff([]byte(b.String()), false)
	require.Error(t, err, "5 of 11 rows short is below the default floor")

	tolerant := strict.Tolerating(0.5)
	d, err := tolerant.Sniff([]byte(b.String()), false)
	require.NoError(t, err)
	assert.Equal(t, ';', d.Delimiter)
	assert.Equal(t, 8, d.HeaderRow)
	assert.InDelta(t, 7.0/12.0, d.Confidence, 1e-9)

	assert.InDelta(t, 0.6, strict.MinConfidence, 0, "the original is not modified")
	assert.InDelta(t, 0.6, strict.Tolerating(0.2).MinConfidence, 0, "a stricter limit keeps the floor")
}

func TestSniff_Spreadsheet(t *testing.T) {
	sample := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)

	d, err := NewSniffer().Sniff(sample, true)
	require.NoError(t, err)
	assert.Equal(t, KindLegacySpreadsheet, d.Kind)
}

func TestSniff_Unknown(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"prose":        "This archive was produced by the data portal.\nPlease cite the source.\n",
		"inconsistent": "a;b;c\n1;2\nx\n1;2;3;4;5\n7\n8\n9\n",
	}
	for name, sample := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewSniffer().Sniff([]byte(sample), false)
			require.Error(t, err)
			reason, ok := domain.ReasonOf(err)
			require.True(t, ok)
			assert.Equal(t, domain.ReasonDialectUnknown, reason)
		})
	}
}

func TestDetectEncoding(t *testing.T) {
	assert.Equal(t, UTF8BOM, DetectEncoding([]byte("\xEF\xBB\xBFdata")))
	assert.Equal(t, UTF16BE, DetectEncoding([]byte("\xFE\xFF\x00d")))
	assert.Equal(t, UTF8, DetectEncoding([]byte("ESTAÇÃO")))
	assert.Equal(t, UTF8, DetectEncoding([]byte("ESTAÇÃO")[:7]), "cut inside a rune")
	assert.Equal(t, ISO88591, DetectEncoding([]byte("ESTA\xC7\xC3O")))
	assert.Equal(t, Windows1252, DetectEncoding([]byte("\x93quoted\x94 \xE9")))
}

func TestCountFields(t *testing.T) {
	assert.Equal(t, 3, CountFields("a;b;c", ';'))
	assert.Equal(t, 2, CountFields(`"a;b";c`, ';'))
	assert.Equal(t, 1, CountFields("abc", ','))
}
