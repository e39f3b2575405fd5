// Package fixture generates synthetic INMET station files and yearly
// archives. The output is deterministic for a given seed, so tests and the
// genfixture command can rely on exact row counts.
package fixture

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/charmap"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// Labels are the INMET column descriptions in kind order.
var Labels = [domain.NumKinds]string{
	"PRECIPITAÇÃO TOTAL, HORÁRIO (mm)",
	"PRESSAO ATMOSFERICA AO NIVEL DA ESTACAO, HORARIA (mB)",
	"PRESSÃO ATMOSFERICA MAX.NA HORA ANT. (AUT) (mB)",
	"PRESSÃO ATMOSFERICA MIN. NA HORA ANT. (AUT) (mB)",
	"RADIACAO GLOBAL (Kj/m²)",
	"TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)",
	"TEMPERATURA DO PONTO DE ORVALHO (°C)",
	"TEMPERATURA MÁXIMA NA HORA ANT. (AUT) (°C)",
	"TEMPERATURA MÍNIMA NA HORA ANT. (AUT) (°C)",
	"TEMPERATURA ORVALHO MAX. NA HORA ANT. (AUT) (°C)",
	"TEMPERATURA ORVALHO MIN. NA HORA ANT. (AUT) (°C)",
	"UMIDADE REL. MAX. NA HORA ANT. (AUT) (%)",
	"UMIDADE REL. MIN. NA HORA ANT. (AUT) (%)",
	"UMIDADE RELATIVA DO AR, HORARIA (%)",
	"VENTO, DIREÇÃO HORARIA (gr) (° (gr))",
	"VENTO, RAJADA MAXIMA (m/s)",
	"VENTO, VELOCIDADE HORARIA (m/s)",
}

// Station describes one synthetic station.
type Station struct {
	Region    string
	State     string
	Name      string
	Code      string
	Latitude  float64
	Longitude float64
	Altitude  float64
	Founded   time.Time
}

// FileName is the member name INMET uses for a station's year.
func (s Station) FileName(year int) string {
	return fmt.Sprintf("%d/INMET_%s_%s_%s_%s_01-01-%d_A_31-12-%d.CSV",
		year, s.Region, s.State, s.Code, strings.ToUpper(s.Name), year, year)
}

// Stations is a small fixed network used by tests and the generator.
var Stations = []Station{
	{"CO", "DF", "Brasilia", "A001", -15.78944444, -47.92583332, 1160.96, time.Date(2000, 5, 7, 0, 0, 0, 0, time.UTC)},
	{"S", "RS", "Porto Alegre", "A801", -30.05361111, -51.17472221, 41.18, time.Date(2000, 9, 22, 0, 0, 0, 0, time.UTC)},
	{"SE", "RJ", "Rio de Janeiro - Forte de Copacabana", "A652", -22.98833333, -43.19055555, 22.74, time.Date(2007, 7, 1, 0, 0, 0, 0, time.UTC)},
	{"N", "AM", "Manaus", "A101", -3.10333333, -60.01638888, 61.25, time.Date(2000, 5, 9, 0, 0, 0, 0, time.UTC)},
	{"NE", "PE", "Recife", "A301", -8.05928, -34.959239, 11.3, time.Date(2004, 1, 10, 0, 0, 0, 0, time.UTC)},
}

// Options shape a generated station file.
type Options struct {
	Start   time.Time // first hour, UTC
	Hours   int
	Seed    uint64
	Latin1  bool // encode as ISO-8859-1 instead of UTF-8
	Missing int  // every Missing-th hour carries -9999 in all columns; 0 disables
}

// StationFile renders one station's hourly file in INMET's 2019+ layout:
// an 8-line preamble, a semicolon header and decimal-comma values.
func StationFile(s Station, opts Options) ([]byte, error) {
	preamble, table := stationRows(s, opts)

	var b strings.Builder
	for _, row := range preamble {
		b.WriteString(strings.Join(row, ";"))
		b.WriteByte('\n')
	}
	for _, row := range table {
		b.WriteString(strings.Join(row, ";"))
		b.WriteString(";\n")
	}

	if !opts.Latin1 {
		return []byte(b.String()), nil
	}
	out, err := charmap.ISO8859_1.NewEncoder().String(b.String())
	if err != nil {
		return nil, fmt.Errorf("encode %s as latin-1: %w", s.Code, err)
	}
	return []byte(out), nil
}

// stationRows lays a station file out as cells: the preamble's key/value
// pairs, then the header and one row per hour.
func stationRows(s Station, opts Options) (preamble, table [][]string) {
	rng := rand.New(rand.NewPCG(opts.Seed, uint64(len(s.Code))))

	preamble = [][]string{
		{"REGIÃO:", s.Region},
		{"UF:", s.State},
		{"ESTAÇÃO:", strings.ToUpper(s.Name)},
		{"CODIGO (WMO):", s.Code},
		{"LATITUDE:", decimalComma(s.Latitude, 8)},
		{"LONGITUDE:", decimalComma(s.Longitude, 8)},
		{"ALTITUDE:", decimalComma(s.Altitude, 2)},
		{"DATA DE FUNDAÇÃO:", s.Founded.Format("02/01/06")},
	}

	table = append(table, append([]string{"Data", "Hora UTC"}, Labels[:]...))
	for h := range opts.Hours {
		ts := opts.Start.Add(time.Duration(h) * time.Hour)
		row := []string{ts.Format("2006/01/02"), ts.Format("1504") + " UTC"}
		missing := opts.Missing > 0 && (h+1)%opts.Missing == 0
		for _, k := range domain.Kinds() {
			if missing {
				row = append(row, "-9999")
				continue
			}
			row = append(row, decimalComma(sample(rng, k, ts), 1))
		}
		table = append(table, row)
	}
	return preamble, table
}

// sample draws a plausible value for k at ts. Temperatures follow a
// daily cycle so the data looks like weather rather than noise.
func sample(rng *rand.Rand, k domain.Kind, ts time.Time) float64 {
	cycle := math.Sin(2 * math.Pi * float64(ts.Hour()-9) / 24)
	switch k {
	case domain.Precipitation:
		if rng.IntN(10) == 0 {
			return rng.Float64() * 8
		}
		return 0
	case domain.Pressure, domain.PressureMax, domain.PressureMin:
		return 1005 + rng.Float64()*10
	case domain.Radiation:
		return math.Max(0, cycle*3000)
	case domain.AirTemperature, domain.TemperatureMax, domain.TemperatureMin:
		return 22 + 6*cycle + rng.Float64()
	case domain.DewPoint, domain.DewPointMax, domain.DewPointMin:
		return 15 + 2*cycle + rng.Float64()
	case domain.Humidity, domain.HumidityMax, domain.HumidityMin:
		return 70 - 20*cycle + rng.Float64()*5
	case domain.WindDirection:
		return float64(rng.IntN(360))
	default:
		return rng.Float64() * 6
	}
}

func decimalComma(v float64, prec int) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', prec, 64), ".", ",", 1)
}

// File is one archive member.
type File struct {
	Name string
	Body []byte
}

// YearFiles renders every station for the whole of year.
func YearFiles(year int, stations []Station, opts Options) ([]File, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	if opts.Hours <= 0 {
		opts.Hours = int(start.AddDate(1, 0, 0).Sub(start) / time.Hour)
	}
	opts.Start = start

	files := make([]File, 0, len(stations))
	for i, s := range stations {
		o := opts
		o.Seed = opts.Seed + uint64(i)
		body, err := StationFile(s, o)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: s.FileName(year), Body: body})
	}
	return files, nil
}

// WriteZip writes files as a zip archive in the given order.
func WriteZip(w io.Writer, files []File) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		fw, err := zw.Create(f.Name)
		if err != nil {
			return fmt.Errorf("create %s: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Body); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return zw.Close()
}

// Zip is WriteZip into memory.
func Zip(files []File) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteZip(&buf, files); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
