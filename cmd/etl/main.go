package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/weather-archive-etl/internal/adapter/http"
	"github.com/couchcryptid/weather-archive-etl/internal/adapter/inmet"
	kafkaadapter "github.com/couchcryptid/weather-archive-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-archive-etl/internal/adapter/objectstore"
	"github.com/couchcryptid/weather-archive-etl/internal/adapter/parquet"
	"github.com/couchcryptid/weather-archive-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-archive-etl/internal/config"
	"github.com/couchcryptid/weather-archive-etl/internal/dialect"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/export"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
	"github.com/couchcryptid/weather-archive-etl/internal/pipeline"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1
	exitCorrupt   = 2
	exitBadInvoke = 64
)

const firstYear = 2000

var yearInNameRe = regexp.MustCompile(`(?:^|\D)((?:19|20)\d{2})(?:\D|$)`)

type flags struct {
	year    int
	archive string
	out     string
	serve   bool
}

func main() {
	var f flags
	flag.IntVar(&f.year, "year", 0, "year to ingest; the archive is downloaded when -archive is not given")
	flag.StringVar(&f.archive, "archive", "", "path to a local yearly archive (.zip, .tar.gz, .tar.zst)")
	flag.StringVar(&f.out, "out", "", "output directory (overrides OUTPUT_DIR)")
	flag.BoolVar(&f.serve, "serve", false, "keep the HTTP server up after the run until interrupted")
	flag.Parse()

	os.Exit(run(f))
}

func run(f flags) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitFailed
	}
	if f.out != "" {
		cfg.OutputDir = f.out
	}

	year, err := resolveYear(f.year, f.archive, time.Now().Year())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return exitBadInvoke
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sniffer := dialect.NewSniffer()
	sniffer.Delimiters = cfg.SniffDelimiters
	sniffer.MinConfidence = cfg.SniffMinConfidence
	normalizer := domain.NewNormalizer(
		domain.WithDateLayouts(cfg.DateLayouts),
		domain.WithSentinels(cfg.MissingSentinels),
	)
	p := pipeline.New(sniffer, normalizer, logger, metrics, pipeline.Options{
		Workers:              cfg.Workers,
		SampleBytes:          cfg.SniffSampleBytes,
		MaxMalformedFraction: cfg.MaxMalformedFraction,
		MaxMemberBytes:       cfg.MaxMemberBytes,
	})

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	path := f.archive
	if path == "" {
		client := inmet.NewClient(cfg.ArchiveBaseURL, cfg.DataDir, cfg.DownloadTimeout, metrics, logger)
		if path, err = client.Acquire(ctx, year); err != nil {
			logger.Error("archive acquisition failed", "year", year, "error", err)
			return exitFailed
		}
	}

	res, runErr := p.RunArchive(ctx, path, year)
	printSummary(os.Stdout, res)

	code := exitOK
	switch {
	case runErr != nil:
		if reason, ok := domain.ReasonOf(runErr); ok && reason == domain.ReasonArchiveCorrupt {
			code = exitCorrupt
		} else {
			code = exitFailed
		}
	case res.Report.Failed():
		logger.Error("run produced no observations", "archive", path)
		code = exitFailed
	default:
		loadCtx, cancel := outputContext(ctx, res.Report.Incomplete, cfg.ShutdownTimeout)
		defer cancel()
		if res.Report.Incomplete {
			logger.Warn("run was interrupted, writing the partial result", "timeout", cfg.ShutdownTimeout)
		}
		sinks, closeSinks, err := buildSinks(loadCtx, cfg, year, logger)
		if err != nil {
			logger.Error("failed to set up outputs", "error", err)
			return exitFailed
		}
		if err := p.Load(loadCtx, res, sinks...); err != nil {
			logger.Error("one or more outputs failed", "error", err)
			code = exitFailed
		}
		closeSinks()
	}

	if f.serve && srv != nil {
		logger.Info("run done, serving until interrupted", "addr", cfg.HTTPAddr)
		<-ctx.Done()
	}
	logger.Info("shutdown complete", "exit_code", code)
	return code
}

// resolveYear validates an explicit year or infers one from the archive name.
func resolveYear(year int, archive string, currentYear int) (int, error) {
	if year == 0 && archive != "" {
		if m := yearInNameRe.FindStringSubmatch(filepath.Base(archive)); m != nil {
			year, _ = strconv.Atoi(m[1])
		}
	}
	switch {
	case year == 0 && archive == "":
		return 0, errors.New("either -year or -archive is required")
	case year == 0:
		return 0, nil
	case year < firstYear || year > currentYear:
		return 0, fmt.Errorf("year %d outside %d..%d", year, firstYear, currentYear)
	}
	return year, nil
}

// outputContext is the context the outputs are written under. An
// interrupted run still yields a usable partial dataset, so its outputs
// are detached from the signal and bounded by timeout instead.
func outputContext(ctx context.Context, interrupted bool, timeout time.Duration) (context.Context, context.CancelFunc) {
	if !interrupted {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// buildSinks returns the enabled outputs in write order. The CSV export is
// always first so later sinks can pick up its files.
func buildSinks(ctx context.Context, cfg *config.Config, year int, logger *slog.Logger) ([]pipeline.Sink, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close output", "error", err)
			}
		}
	}

	sinks := []pipeline.Sink{export.FileSink{Dir: cfg.OutputDir, Year: year}}
	var attach []string

	if cfg.ParquetEnabled {
		pw, err := parquet.NewWriter(cfg.OutputDir, year, cfg.ParquetCompression, logger)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, pw)
		attach = append(attach, pw.Path())
	}
	if cfg.SQLitePath != "" {
		store, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, store.Close)
		sinks = append(sinks, store)
	}
	if cfg.KafkaTopic != "" {
		kw := kafkaadapter.NewWriter(cfg, logger)
		closers = append(closers, kw.Close)
		sinks = append(sinks, kw)
	}
	if cfg.S3Bucket != "" {
		up, err := objectstore.NewUploader(ctx, cfg, year, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		up.Attach(attach...)
		sinks = append(sinks, up)
	}
	return sinks, closeAll, nil
}
