// Package parquet writes the consolidated dataset as a Parquet file.
package parquet

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	pq "github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/export"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

const defaultRowGroup = 64 * 1024

// Timestamps are wall-clock times without a zone, as in the source files.
var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond}

// Schema is the Arrow schema of the output: station, timestamp, one
// nullable float column per kind, then the validity flags.
func Schema() *arrow.Schema {
	fields := []arrow.Field{
		{Name: "station_id", Type: arrow.BinaryTypes.String},
		{Name: "timestamp", Type: timestampType},
	}
	for _, k := range domain.Kinds() {
		fields = append(fields, arrow.Field{Name: k.String(), Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	fields = append(fields, arrow.Field{Name: "validity_flags", Type: arrow.BinaryTypes.String})
	return arrow.NewSchema(fields, nil)
}

// Codec maps a configured compression name to a Parquet codec.
func Codec(name string) (compress.Compression, error) {
	switch name {
	case "", "zstd":
		return compress.Codecs.Zstd, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unknown parquet compression %q", name)
	}
}

// Writer writes <dir>/observations_<year>.parquet. It implements pipeline.Sink.
type Writer struct {
	dir         string
	year        int
	compression compress.Compression
	rowGroup    int
	mem         memory.Allocator
	logger      *slog.Logger
}

// NewWriter creates a Parquet sink.
func NewWriter(dir string, year int, compression string, logger *slog.Logger) (*Writer, error) {
	codec, err := Codec(compression)
	if err != nil {
		return nil, err
	}
	return &Writer{
		dir:         dir,
		year:        year,
		compression: codec,
		rowGroup:    defaultRowGroup,
		mem:         memory.NewGoAllocator(),
		logger:      logger,
	}, nil
}

func (w *Writer) Name() string { return "parquet" }

// Path is the file the writer produces.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, export.BaseName(w.year)+".parquet")
}

// Write encodes the dataset one row group at a time and renames the result
// into place.
func (w *Writer) Write(ctx context.Context, ds *consolidate.Dataset, _ *report.Report) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := w.Path()
	tmp, err := os.CreateTemp(w.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := w.encode(ctx, bw, ds); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	w.logger.Info("parquet written", "path", path, "rows", ds.Len())
	return nil
}

func (w *Writer) encode(ctx context.Context, out *bufio.Writer, ds *consolidate.Dataset) error {
	schema := Schema()
	props := pq.NewWriterProperties(
		pq.WithCompression(w.compression),
		pq.WithDictionaryDefault(true),
		pq.WithStats(true),
	)
	fw, err := pqarrow.NewFileWriter(schema, out, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}

	obs := ds.Observations()
	for start := 0; start < len(obs); start += w.rowGroup {
		if err := ctx.Err(); err != nil {
			fw.Close()
			return err
		}
		end := min(start+w.rowGroup, len(obs))
		rec := w.record(schema, obs[start:end])
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return fmt.Errorf("write row group at %d: %w", start, err)
		}
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func (w *Writer) record(schema *arrow.Schema, obs []domain.Observation) arrow.Record {
	stations := array.NewStringBuilder(w.mem)
	times := array.NewTimestampBuilder(w.mem, timestampType)
	values := make([]*array.Float64Builder, domain.NumKinds)
	for i := range values {
		values[i] = array.NewFloat64Builder(w.mem)
	}
	flags := array.NewStringBuilder(w.mem)

	for i := range obs {
		o := &obs[i]
		stations.Append(o.StationID)
		times.Append(arrow.Timestamp(o.Timestamp.UnixMicro()))
		for _, k := range domain.Kinds() {
			if v, ok := o.Value(k); ok {
				values[k].Append(v)
			} else {
				values[k].AppendNull()
			}
		}
		flags.Append(o.ValidityString())
	}

	arrays := make([]arrow.Array, 0, len(schema.Fields()))
	arrays = append(arrays, stations.NewArray(), times.NewArray())
	for _, b := range values {
		arrays = append(arrays, b.NewArray())
		b.Release()
	}
	arrays = append(arrays, flags.NewArray())
	stations.Release()
	times.Release()
	flags.Release()

	rec := array.NewRecord(schema, arrays, int64(len(obs)))
	for _, a := range arrays {
		a.Release()
	}
	return rec
}
