// Package config resolves the pipeline configuration from built-in
// defaults, a YAML file, the environment and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/withObsrvr/forecast-retriever/internal/request"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

// ErrInvalidConfig wraps every configuration error: unknown keys, malformed
// values and failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultConfigPath is read when no --config flag is given. It may be absent.
const DefaultConfigPath = "config/config.yml"

// Config is the resolved pipeline configuration.
type Config struct {
	Model           string        `validate:"oneof=hres ens"`
	Level           string        `validate:"required"`
	RetrievalMode   string        `validate:"oneof=point grid"`
	Format          string        `validate:"oneof=netcdf grib2"`
	LandingPath     string        `validate:"required"`
	StagingPath     string        `validate:"required"`
	LoggingPath     string
	QueryPath       string        `validate:"required"`
	Variables       []string      `validate:"dive,required"`
	IssueHours      []string      `validate:"dive,issuehour"`
	Lookback        int           `validate:"gt=0,lte=240"`
	StepGranularity int           `validate:"gt=0"`
	Workers         int           `validate:"gte=1"`
	RequestTimeout  time.Duration `validate:"gte=0"`
	LogLevel        string        `validate:"oneof=debug info warn error"`
	LogFormat       string        `validate:"oneof=text json"`
	MetricsAddr     string

	Provider ProviderConfig
	Archive  ArchiveConfig
	Catalog  CatalogConfig
	Audit    AuditConfig
}

// ProviderConfig holds the ECMWF Web API credentials.
type ProviderConfig struct {
	URL   string `validate:"omitempty,url"`
	Key   string
	Email string `validate:"omitempty,email"`
}

// ArchiveConfig selects where committed files are mirrored.
type ArchiveConfig struct {
	Backend     string `validate:"omitempty,oneof=none local gcs s3"`
	Bucket      string `validate:"required_if=Backend gcs,required_if=Backend s3"`
	Prefix      string
	Endpoint    string
	Region      string
	LocalDir    string `validate:"required_if=Backend local"`
	Compression string `validate:"omitempty,oneof=none zstd"`
}

// CatalogConfig selects the database committed rows are mirrored into.
type CatalogConfig struct {
	PostgresDSN string
	SQLitePath  string
}

// AuditConfig enables the hash-chained audit log of commits. An empty Dir
// means <landing>/audit.
type AuditConfig struct {
	Enabled  bool
	Dir      string
	Endpoint string `validate:"omitempty,url"`
}

// AuditDir returns the resolved audit directory.
func (c Config) AuditDir() string {
	if c.Audit.Dir != "" {
		return c.Audit.Dir
	}
	return filepath.Join(c.LandingPath, "audit")
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Model:           string(request.ModelHRES),
		Level:           request.LevelSurface,
		RetrievalMode:   string(request.ModeGrid),
		Format:          "netcdf",
		LandingPath:     "./data/landing/",
		StagingPath:     "./data/staging/",
		LoggingPath:     "./logs/DEBUG.log",
		QueryPath:       "./queries/default.json",
		IssueHours:      []string{"00", "12"},
		Lookback:        48,
		StepGranularity: 1,
		Workers:         1,
		LogLevel:        "info",
		LogFormat:       "text",
		Provider: ProviderConfig{
			URL: "https://api.ecmwf.int/v1",
		},
	}
}

// RequestSettings returns the subset read by the request builder.
func (c Config) RequestSettings() request.Settings {
	return request.Settings{
		Model:           c.Model,
		Level:           c.Level,
		RetrievalMode:   c.RetrievalMode,
		Format:          c.Format,
		Variables:       append([]string(nil), c.Variables...),
		IssueHours:      append([]string(nil), c.IssueHours...),
		Lookback:        c.Lookback,
		StepGranularity: c.StepGranularity,
	}
}

// ArchiveStoreConfig converts the archive section for storage.NewArchiveStore.
func (c Config) ArchiveStoreConfig() storage.ArchiveConfig {
	return storage.ArchiveConfig{
		Backend:     c.Archive.Backend,
		Bucket:      c.Archive.Bucket,
		Endpoint:    c.Archive.Endpoint,
		Region:      c.Archive.Region,
		Prefix:      c.Archive.Prefix,
		LocalDir:    c.Archive.LocalDir,
		Compression: c.Archive.Compression,
	}
}
