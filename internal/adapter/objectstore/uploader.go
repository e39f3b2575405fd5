// Package objectstore uploads run outputs to an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/weather-archive-etl/internal/config"
	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/export"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

const (
	partSize    = 16 * 1024 * 1024
	concurrency = 4
)

type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Uploader writes the dataset and report to
// <prefix>/<year>/<run_id>/ in a bucket. Files already written by earlier
// sinks, such as the Parquet output, can be attached and are uploaded
// alongside. It implements pipeline.Sink.
type Uploader struct {
	api    uploadAPI
	bucket string
	prefix string
	year   int
	files  []string
	logger *slog.Logger
}

// NewUploader builds an S3 client from cfg. A custom endpoint and
// path-style addressing allow MinIO and other compatible stores.
func NewUploader(ctx context.Context, cfg *config.Config, year int, logger *slog.Logger) (*Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}
	if cfg.S3PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
	})
	return &Uploader{
		api:    up,
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
		year:   year,
		logger: logger.With("component", "s3", "bucket", cfg.S3Bucket),
	}, nil
}

// Attach adds local files to upload with every run.
func (u *Uploader) Attach(paths ...string) {
	u.files = append(u.files, paths...)
}

func (u *Uploader) Name() string { return "s3" }

// Key is the object key for name within a run.
func (u *Uploader) Key(runID, name string) string {
	year := "all"
	if u.year > 0 {
		year = strconv.Itoa(u.year)
	}
	return path.Join(u.prefix, year, runID, name)
}

// Write streams a gzipped CSV, then the report, then any attached files.
func (u *Uploader) Write(ctx context.Context, ds *consolidate.Dataset, rep *report.Report) error {
	runID := rep.RunID.String()
	stem := export.BaseName(u.year)

	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		err := export.WriteCSV(gz, ds)
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	err := u.put(ctx, u.Key(runID, stem+".csv.gz"), pr, "text/csv", "gzip")
	pr.CloseWithError(err)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.WriteReportJSON(&buf, rep); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := u.put(ctx, u.Key(runID, stem+".report.json"), &buf, "application/json", ""); err != nil {
		return err
	}

	for _, p := range u.files {
		if err := u.putFile(ctx, runID, p); err != nil {
			return err
		}
	}
	u.logger.Info("run uploaded", "run_id", runID, "prefix", u.Key(runID, ""))
	return nil
}

func (u *Uploader) putFile(ctx context.Context, runID, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s for upload: %w", p, err)
	}
	defer f.Close()
	return u.put(ctx, u.Key(runID, filepath.Base(p)), f, "application/octet-stream", "")
}

func (u *Uploader) put(ctx context.Context, key string, body io.Reader, contentType, encoding string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if encoding != "" {
		in.ContentEncoding = aws.String(encoding)
	}
	if _, err := u.api.Upload(ctx, in); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", u.bucket, key, err)
	}
	u.logger.Debug("object uploaded", "key", key)
	return nil
}
