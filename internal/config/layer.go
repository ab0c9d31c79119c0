package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Layer is one configuration source. A nil field (or nil slice) is unset
// and leaves the value from lower layers in place.
type Layer struct {
	Model           *string        `yaml:"model" env:"FORECAST_MODEL"`
	Level           *string        `yaml:"level" env:"FORECAST_LEVEL"`
	RetrievalMode   *string        `yaml:"retrieval_mode" env:"FORECAST_RETRIEVAL_MODE"`
	Format          *string        `yaml:"format" env:"FORECAST_FORMAT"`
	LandingPath     *string        `yaml:"landing_path" env:"LANDING_PATH"`
	StagingPath     *string        `yaml:"staging_path" env:"STAGING_PATH"`
	LoggingPath     *string        `yaml:"logging_path" env:"LOG_FILE_PATH"`
	QueryPath       *string        `yaml:"query_path" env:"FORECAST_QUERY_PATH"`
	Variables       []string       `yaml:"variables" env:"FORECAST_VARIABLES" envSeparator:","`
	IssueHours      []string       `yaml:"issue_hours" env:"FORECAST_ISSUE_HOURS" envSeparator:","`
	IssueTimes      []string       `yaml:"issue_times"`
	Lookback        *int           `yaml:"lookback" env:"FORECAST_LOOKBACK"`
	StepGranularity *int           `yaml:"step_granularity" env:"FORECAST_STEP_GRANULARITY"`
	Workers         *int           `yaml:"workers" env:"FORECAST_WORKERS"`
	RequestTimeout  *time.Duration `yaml:"request_timeout" env:"FORECAST_REQUEST_TIMEOUT"`
	LogLevel        *string        `yaml:"log_level" env:"FORECAST_LOG_LEVEL"`
	LogFormat       *string        `yaml:"log_format" env:"FORECAST_LOG_FORMAT"`
	MetricsAddr     *string        `yaml:"metrics_addr" env:"FORECAST_METRICS_ADDR"`

	Provider ProviderLayer `yaml:"provider"`
	Archive  ArchiveLayer  `yaml:"archive"`
	Catalog  CatalogLayer  `yaml:"catalog"`
	Audit    AuditLayer    `yaml:"audit"`
}

type ProviderLayer struct {
	URL   *string `yaml:"url" env:"ECMWF_API_URL"`
	Key   *string `yaml:"key" env:"ECMWF_API_KEY"`
	Email *string `yaml:"email" env:"ECMWF_API_EMAIL"`
}

type ArchiveLayer struct {
	Backend     *string `yaml:"backend" env:"ARCHIVE_BACKEND"`
	Bucket      *string `yaml:"bucket" env:"ARCHIVE_BUCKET"`
	Prefix      *string `yaml:"prefix" env:"ARCHIVE_PREFIX"`
	Endpoint    *string `yaml:"endpoint" env:"ARCHIVE_ENDPOINT"`
	Region      *string `yaml:"region" env:"ARCHIVE_REGION"`
	LocalDir    *string `yaml:"local_dir" env:"ARCHIVE_LOCAL_DIR"`
	Compression *string `yaml:"compression" env:"ARCHIVE_COMPRESSION"`
}

type CatalogLayer struct {
	PostgresDSN *string `yaml:"postgres_dsn" env:"CATALOG_POSTGRES_DSN"`
	SQLitePath  *string `yaml:"sqlite_path" env:"CATALOG_SQLITE_PATH"`
}

type AuditLayer struct {
	Enabled  *bool   `yaml:"enabled" env:"AUDIT_ENABLED"`
	Dir      *string `yaml:"dir" env:"AUDIT_DIR"`
	Endpoint *string `yaml:"endpoint" env:"AUDIT_ENDPOINT"`
}

// FileLayer decodes a YAML configuration file. Unknown keys are rejected.
// A missing file yields an empty layer when optional is set.
func FileLayer(path string, optional bool) (Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return Layer{}, nil
		}
		return Layer{}, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	return decodeYAML(path, data)
}

func decodeYAML(name string, data []byte) (Layer, error) {
	var l Layer
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil && !errors.Is(err, io.EOF) {
		return Layer{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}
	return l, nil
}

// EnvLayer loads the given .env files, without overriding variables that
// are already exported, then reads the environment. Missing .env files are
// skipped.
func EnvLayer(dotenvFiles ...string) (Layer, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Layer{}, fmt.Errorf("%w: load %s: %v", ErrInvalidConfig, f, err)
		}
	}

	var l Layer
	if err := env.Parse(&l); err != nil {
		return Layer{}, fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}
	return l, nil
}

// Apply overlays the set fields of l onto c.
func (l Layer) Apply(c *Config) {
	setString(&c.Model, l.Model)
	setString(&c.Level, l.Level)
	setString(&c.RetrievalMode, l.RetrievalMode)
	setString(&c.Format, l.Format)
	setString(&c.LandingPath, l.LandingPath)
	setString(&c.StagingPath, l.StagingPath)
	setString(&c.LoggingPath, l.LoggingPath)
	setString(&c.QueryPath, l.QueryPath)
	setList(&c.Variables, l.Variables)
	// issue_hours wins over its issue_times alias within one layer.
	setList(&c.IssueHours, l.IssueTimes)
	setList(&c.IssueHours, l.IssueHours)
	setInt(&c.Lookback, l.Lookback)
	setInt(&c.StepGranularity, l.StepGranularity)
	setInt(&c.Workers, l.Workers)
	if l.RequestTimeout != nil {
		c.RequestTimeout = *l.RequestTimeout
	}
	setString(&c.LogLevel, l.LogLevel)
	setString(&c.LogFormat, l.LogFormat)
	setString(&c.MetricsAddr, l.MetricsAddr)

	setString(&c.Provider.URL, l.Provider.URL)
	setString(&c.Provider.Key, l.Provider.Key)
	setString(&c.Provider.Email, l.Provider.Email)

	setString(&c.Archive.Backend, l.Archive.Backend)
	setString(&c.Archive.Bucket, l.Archive.Bucket)
	setString(&c.Archive.Prefix, l.Archive.Prefix)
	setString(&c.Archive.Endpoint, l.Archive.Endpoint)
	setString(&c.Archive.Region, l.Archive.Region)
	setString(&c.Archive.LocalDir, l.Archive.LocalDir)
	setString(&c.Archive.Compression, l.Archive.Compression)

	setString(&c.Catalog.PostgresDSN, l.Catalog.PostgresDSN)
	setString(&c.Catalog.SQLitePath, l.Catalog.SQLitePath)

	if l.Audit.Enabled != nil {
		c.Audit.Enabled = *l.Audit.Enabled
	}
	setString(&c.Audit.Dir, l.Audit.Dir)
	setString(&c.Audit.Endpoint, l.Audit.Endpoint)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setList(dst *[]string, v []string) {
	if v != nil {
		*dst = append([]string(nil), v...)
	}
}

// Resolve overlays layers, lowest precedence first, onto the defaults and
// validates the result.
func Resolve(layers ...Layer) (Config, error) {
	c := Defaults()
	for _, l := range layers {
		l.Apply(&c)
	}
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}
