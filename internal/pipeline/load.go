package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

// Sink writes a finished run somewhere: a file, a database, a topic, a bucket.
type Sink interface {
	Name() string
	Write(ctx context.Context, ds *consolidate.Dataset, rep *report.Report) error
}

// Load writes the result to each sink in order. Every sink is attempted;
// the returned error joins the failures.
func (p *Pipeline) Load(ctx context.Context, res *Result, sinks ...Sink) error {
	if res == nil || res.Dataset == nil {
		return errors.New("no dataset to load")
	}
	var errs []error
	for _, s := range sinks {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), ctx.Err()))
			continue
		}
		start := time.Now()
		err := s.Write(ctx, res.Dataset, res.Report)
		p.metrics.SinkDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			p.metrics.SinkWrites.WithLabelValues(s.Name(), "error").Inc()
			p.logger.Error("sink write failed", "sink", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
			continue
		}
		p.metrics.SinkWrites.WithLabelValues(s.Name(), "success").Inc()
		p.logger.Info("sink written", "sink", s.Name(), "observations", res.Dataset.Len())
	}
	return errors.Join(errs...)
}
