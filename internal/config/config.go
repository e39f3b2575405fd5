package config

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all run settings, populated from environment variables and
// an optional weather-etl.yaml file.
type Config struct {
	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	Workers              int
	SniffSampleBytes     int
	SniffDelimiters      []rune
	SniffMinConfidence   float64
	MaxMalformedFraction float64
	MaxMemberBytes       int64
	DateLayouts          []string
	MissingSentinels     []float64

	// Archive acquisition.
	DataDir         string
	ArchiveBaseURL  string
	DownloadTimeout time.Duration

	// Outputs. Empty values disable the optional sinks.
	OutputDir          string
	ParquetEnabled     bool
	ParquetCompression string
	SQLitePath         string
	KafkaBrokers       []string
	KafkaTopic         string
	S3Bucket           string
	S3Region           string
	S3Prefix           string
	S3Endpoint         string
	S3PathStyle        bool
	S3AccessKey        string
	S3SecretKey        string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("http_addr", "")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("sniff_sample_bytes", 64*1024)
	v.SetDefault("sniff_delimiters", ";,\t|")
	v.SetDefault("sniff_min_confidence", 0.6)
	v.SetDefault("max_malformed_fraction", 0.5)
	v.SetDefault("max_member_bytes", 256<<20)
	v.SetDefault("date_layouts", "2006-01-02,2006/01/02,02/01/2006,02-01-2006,02/01/06")
	v.SetDefault("missing_sentinels", "-9999")

	v.SetDefault("data_dir", "data")
	v.SetDefault("archive_base_url", "https://portal.inmet.gov.br/uploads/dadoshistoricos")
	v.SetDefault("download_timeout", "10m")

	v.SetDefault("output_dir", "out")
	v.SetDefault("parquet_enabled", false)
	v.SetDefault("parquet_compression", "zstd")
	v.SetDefault("sqlite_path", "")
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_topic", "")
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_prefix", "weather")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_path_style", false)
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
}

// Load reads configuration from the environment and the optional config
// file, applying defaults where unset.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	v.SetConfigName("weather-etl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/weather-etl/")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	sentinels, err := parseFloats(v.GetString("missing_sentinels"))
	if err != nil {
		return nil, fmt.Errorf("invalid MISSING_SENTINELS: %w", err)
	}

	cfg := &Config{
		LogLevel:        v.GetString("log_level"),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
		HTTPAddr:        v.GetString("http_addr"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),

		Workers:              v.GetInt("workers"),
		SniffSampleBytes:     v.GetInt("sniff_sample_bytes"),
		SniffDelimiters:      parseDelimiters(v.GetString("sniff_delimiters")),
		SniffMinConfidence:   v.GetFloat64("sniff_min_confidence"),
		MaxMalformedFraction: v.GetFloat64("max_malformed_fraction"),
		MaxMemberBytes:       v.GetInt64("max_member_bytes"),
		DateLayouts:          splitList(v.GetString("date_layouts")),
		MissingSentinels:     sentinels,

		DataDir:         v.GetString("data_dir"),
		ArchiveBaseURL:  strings.TrimRight(v.GetString("archive_base_url"), "/"),
		DownloadTimeout: v.GetDuration("download_timeout"),

		OutputDir:          v.GetString("output_dir"),
		ParquetEnabled:     v.GetBool("parquet_enabled"),
		ParquetCompression: strings.ToLower(v.GetString("parquet_compression")),
		SQLitePath:         v.GetString("sqlite_path"),
		KafkaBrokers:       splitList(v.GetString("kafka_brokers")),
		KafkaTopic:         v.GetString("kafka_topic"),
		S3Bucket:           v.GetString("s3_bucket"),
		S3Region:           v.GetString("s3_region"),
		S3Prefix:           strings.Trim(v.GetString("s3_prefix"), "/"),
		S3Endpoint:         v.GetString("s3_endpoint"),
		S3PathStyle:        v.GetBool("s3_path_style"),
		S3AccessKey:        v.GetString("s3_access_key"),
		S3SecretKey:        v.GetString("s3_secret_key"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.LogFormat != "json" && c.LogFormat != "text":
		return errors.New("LOG_FORMAT must be json or text")
	case c.ShutdownTimeout <= 0:
		return errors.New("invalid SHUTDOWN_TIMEOUT")
	case c.Workers < 1:
		return errors.New("WORKERS must be at least 1")
	case c.SniffSampleBytes < 512:
		return errors.New("SNIFF_SAMPLE_BYTES must be at least 512")
	case len(c.SniffDelimiters) == 0:
		return errors.New("SNIFF_DELIMITERS is required")
	case c.SniffMinConfidence <= 0 || c.SniffMinConfidence > 1:
		return errors.New("SNIFF_MIN_CONFIDENCE must be in (0, 1]")
	case c.MaxMalformedFraction < 0 || c.MaxMalformedFraction > 1:
		return errors.New("MAX_MALFORMED_FRACTION must be in [0, 1]")
	case c.MaxMemberBytes <= 0:
		return errors.New("MAX_MEMBER_BYTES must be positive")
	case len(c.DateLayouts) == 0:
		return errors.New("DATE_LAYOUTS is required")
	case c.DownloadTimeout <= 0:
		return errors.New("invalid DOWNLOAD_TIMEOUT")
	case c.OutputDir == "":
		return errors.New("OUTPUT_DIR is required")
	case c.KafkaTopic != "" && len(c.KafkaBrokers) == 0:
		return errors.New("KAFKA_BROKERS is required when KAFKA_TOPIC is set")
	case c.S3Bucket != "" && c.S3Region == "":
		return errors.New("S3_REGION is required when S3_BUCKET is set")
	}
	switch c.ParquetCompression {
	case "snappy", "zstd", "gzip", "none":
	default:
		return fmt.Errorf("unsupported PARQUET_COMPRESSION %q", c.ParquetCompression)
	}
	return nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range splitList(s) {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// parseDelimiters treats every rune as a candidate; the escape "\t" is a tab.
func parseDelimiters(s string) []rune {
	s = strings.ReplaceAll(s, `\t`, "\t")
	var out []rune
	seen := map[rune]bool{}
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '"' || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
