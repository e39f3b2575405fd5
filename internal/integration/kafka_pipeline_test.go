//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/weather-archive-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-archive-etl/internal/config"
	"github.com/couchcryptid/weather-archive-etl/internal/dialect"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/fixture"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
	"github.com/couchcryptid/weather-archive-etl/internal/pipeline"
)

const testTopic = "weather-observations"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("weather-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic so message order is total.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

type received struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

func readMessage(ctx context.Context, t *testing.T, consumer *kafkago.Reader) received {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return received{Key: string(msg.Key), Value: msg.Value, Headers: headers}
}

// TestArchiveToKafka runs a generated yearly archive through the pipeline and
// publishes the result to a real broker.
func TestArchiveToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	files, err := fixture.YearFiles(2019, fixture.Stations[:2], fixture.Options{Hours: 24, Seed: 3, Latin1: true, Missing: 6})
	require.NoError(t, err)
	body, err := fixture.Zip(files)
	require.NoError(t, err)
	archivePath := filepath.Join(t.TempDir(), "2019.zip")
	require.NoError(t, os.WriteFile(archivePath, body, 0o600))

	opts := pipeline.DefaultOptions()
	opts.Workers = 2
	p := pipeline.New(dialect.NewSniffer(), domain.NewNormalizer(), discardLogger(), observability.NewMetricsForTesting(), opts)
	res, err := p.RunArchive(ctx, archivePath, 2019)
	require.NoError(t, err)
	require.Equal(t, 40, res.Dataset.Len())

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, p.Load(ctx, res, writer))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		Partition:   0,
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	perStation := map[string]int{}
	lastSeen := map[string]string{}
	for range res.Dataset.Len() {
		m := readMessage(ctx, t, consumer)
		assert.Equal(t, kafka.TypeObservation, m.Headers["type"])
		assert.Equal(t, res.Report.RunID.String(), m.Headers["run_id"])

		var payload struct {
			StationID    string             `json:"station_id"`
			Timestamp    string             `json:"timestamp"`
			Measurements map[string]float64 `json:"measurements"`
		}
		require.NoError(t, json.Unmarshal(m.Value, &payload))
		assert.Equal(t, m.Key, payload.StationID)
		assert.Equal(t, m.Headers["observed_at"], payload.Timestamp)
		assert.NotEmpty(t, payload.Measurements)
		assert.Greater(t, payload.Timestamp, lastSeen[payload.StationID], "observations arrive in key order")
		lastSeen[payload.StationID] = payload.Timestamp
		perStation[payload.StationID]++
	}
	assert.Equal(t, map[string]int{"A001": 20, "A801": 20}, perStation)

	rep := readMessage(ctx, t, consumer)
	assert.Equal(t, kafka.TypeReport, rep.Headers["type"])
	assert.Equal(t, "false", rep.Headers["failed"])
	assert.Equal(t, "report/"+res.Report.RunID.String(), rep.Key)

	var summary struct {
		RowsIngested int `json:"rows_ingested"`
		FilesFailed  int `json:"files_failed"`
	}
	require.NoError(t, json.Unmarshal(rep.Value, &summary))
	assert.Equal(t, 40, summary.RowsIngested)
	assert.Zero(t, summary.FilesFailed)
}
