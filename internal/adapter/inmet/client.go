// Package inmet downloads yearly historical archives from the INMET portal.
package inmet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/observability"
)

// ErrNotPublished is returned when the portal has no archive for a year.
var ErrNotPublished = errors.New("archive not published")

// Client fetches <baseURL>/<year>.zip into a local directory, reusing a
// previously downloaded copy.
type Client struct {
	httpClient *http.Client
	baseURL    string
	dir        string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a client that stores archives under dir.
func NewClient(baseURL, dir string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		dir:     dir,
		metrics: metrics,
		logger:  logger,
	}
}

// Path is where the archive for year is stored locally.
func (c *Client) Path(year int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%d.zip", year))
}

// Acquire returns the local path of the archive for year, downloading it
// when no non-empty copy exists yet.
func (c *Client) Acquire(ctx context.Context, year int) (string, error) {
	dst := c.Path(year)
	if st, err := os.Stat(dst); err == nil && st.Size() > 0 {
		c.metrics.ArchiveFetches.WithLabelValues("cached").Inc()
		c.logger.Info("using cached archive", "path", dst, "bytes", st.Size())
		return dst, nil
	}

	if err := c.download(ctx, year, dst); err != nil {
		c.metrics.ArchiveFetches.WithLabelValues("error").Inc()
		return "", err
	}
	c.metrics.ArchiveFetches.WithLabelValues("downloaded").Inc()
	return dst, nil
}

func (c *Client) download(ctx context.Context, year int, dst string) error {
	u := fmt.Sprintf("%s/%d.zip", c.baseURL, year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("year %d: %w", year, ErrNotPublished)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inmet portal error: status %d: %s", resp.StatusCode, body)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, filepath.Base(dst)+".*.part")
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", u, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		tmp.Close()
		return fmt.Errorf("download %s: got %d of %d bytes", u, n, resp.ContentLength)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename %s: %w", dst, err)
	}

	c.logger.Info("archive downloaded", "url", u, "path", dst, "bytes", n,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
	return nil
}
