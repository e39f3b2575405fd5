package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-archive-etl/internal/config"
	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/export"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

const defaultBatchSize = 1000

// Message types carried in the "type" header.
const (
	TypeObservation = "observation"
	TypeReport      = "report"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes a consolidated dataset to a Kafka topic, one message per
// observation followed by the run report. It implements pipeline.Sink.
type Writer struct {
	writer    messageWriter
	batchSize int
	logger    *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, batchSize: defaultBatchSize, logger: logger}
}

func (w *Writer) Name() string { return "kafka" }

// Write publishes every observation in dataset order, batchSize messages per
// WriteMessages call, then the report. Keys are station ids so a station's
// observations stay ordered within one partition.
func (w *Writer) Write(ctx context.Context, ds *consolidate.Dataset, rep *report.Report) error {
	runID := rep.RunID.String()
	obs := ds.Observations()
	batch := make([]kafkago.Message, 0, min(w.batchSize, len(obs)))
	for i := range obs {
		msg, err := serializeToMessage(&obs[i], runID)
		if err != nil {
			return err
		}
		batch = append(batch, msg)
		if len(batch) == w.batchSize {
			if err := w.writer.WriteMessages(ctx, batch...); err != nil {
				return fmt.Errorf("publish observations: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := w.writer.WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("publish observations: %w", err)
		}
	}

	msg, err := serializeReport(rep)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	w.logger.Info("published to kafka", "observations", len(obs), "run_id", runID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an observation into a Kafka message.
func serializeToMessage(o *domain.Observation, runID string) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation %s@%s: %w",
			o.StationID, o.Timestamp.Format(domain.TimestampLayout), err)
	}
	return kafkago.Message{
		Key:   []byte(o.StationID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(TypeObservation)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "observed_at", Value: []byte(o.Timestamp.Format(domain.TimestampLayout))},
		},
	}, nil
}

func serializeReport(rep *report.Report) (kafkago.Message, error) {
	var buf bytes.Buffer
	if err := export.WriteReportJSON(&buf, rep); err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize report: %w", err)
	}
	return kafkago.Message{
		Key:   []byte("report/" + rep.RunID.String()),
		Value: bytes.TrimSpace(buf.Bytes()),
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(TypeReport)},
			{Key: "run_id", Value: []byte(rep.RunID.String())},
			{Key: "failed", Value: []byte(strconv.FormatBool(rep.Failed()))},
		},
	}, nil
}
