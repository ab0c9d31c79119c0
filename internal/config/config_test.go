package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	c, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, "hres", c.Model)
	assert.Equal(t, "surface", c.Level)
	assert.Equal(t, "grid", c.RetrievalMode)
	assert.Equal(t, "netcdf", c.Format)
	assert.Equal(t, []string{"00", "12"}, c.IssueHours)
	assert.Equal(t, 48, c.Lookback)
	assert.Equal(t, 1, c.StepGranularity)
	assert.Equal(t, 1, c.Workers)
}

func TestFileLayer(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
model: ens
variables: [2t, tp]
issue_times: ["06"]
lookback: 24
request_timeout: 90s
archive:
  backend: local
  local_dir: /tmp/archive
audit:
  enabled: true
`)

	l, err := FileLayer(path, false)
	require.NoError(t, err)

	c, err := Resolve(l)
	require.NoError(t, err)
	assert.Equal(t, "ens", c.Model)
	assert.Equal(t, []string{"2t", "tp"}, c.Variables)
	assert.Equal(t, []string{"06"}, c.IssueHours)
	assert.Equal(t, 24, c.Lookback)
	assert.Equal(t, 90*time.Second, c.RequestTimeout)
	assert.Equal(t, "local", c.Archive.Backend)
	assert.True(t, c.Audit.Enabled)
	assert.Equal(t, filepath.Join(c.LandingPath, "audit"), c.AuditDir())
}

func TestFileLayerIssueHoursWinsOverAlias(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", "issue_times: [\"06\"]\nissue_hours: [\"18\"]\n")

	l, err := FileLayer(path, false)
	require.NoError(t, err)
	c, err := Resolve(l)
	require.NoError(t, err)
	assert.Equal(t, []string{"18"}, c.IssueHours)
}

func TestFileLayerRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", "modle: hres\n")

	_, err := FileLayer(path, false)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFileLayerMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yml")

	l, err := FileLayer(missing, true)
	require.NoError(t, err)
	assert.Equal(t, Layer{}, l)

	_, err = FileLayer(missing, false)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFileLayerEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", "")

	l, err := FileLayer(path, false)
	require.NoError(t, err)
	assert.Equal(t, Layer{}, l)
}

func TestEnvLayer(t *testing.T) {
	t.Setenv("LANDING_PATH", "/srv/landing")
	t.Setenv("FORECAST_VARIABLES", "2t,10u,10v")
	t.Setenv("FORECAST_WORKERS", "4")
	t.Setenv("ECMWF_API_KEY", "secret")
	t.Setenv("AUDIT_DIR", "/srv/audit")

	l, err := EnvLayer()
	require.NoError(t, err)

	c, err := Resolve(l)
	require.NoError(t, err)
	assert.Equal(t, "/srv/landing", c.LandingPath)
	assert.Equal(t, []string{"2t", "10u", "10v"}, c.Variables)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, "secret", c.Provider.Key)
	assert.Equal(t, "/srv/audit", c.AuditDir())
}

func TestEnvLayerDotenvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "STAGING_PATH=/from/dotenv\nLOG_FILE_PATH=/from/dotenv.log\n")
	t.Setenv("STAGING_PATH", "/from/env")
	// Registered for cleanup; godotenv sets it below.
	t.Setenv("LOG_FILE_PATH", "")
	os.Unsetenv("LOG_FILE_PATH")

	l, err := EnvLayer(dotenv, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.NotNil(t, l.StagingPath)
	assert.Equal(t, "/from/env", *l.StagingPath)
	require.NotNil(t, l.LoggingPath)
	assert.Equal(t, "/from/dotenv.log", *l.LoggingPath)
}

func TestPrecedence(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", "model: ens\nlookback: 24\nworkers: 2\n")
	file, err := FileLayer(path, false)
	require.NoError(t, err)

	t.Setenv("FORECAST_LOOKBACK", "72")
	t.Setenv("FORECAST_WORKERS", "3")
	envLayer, err := EnvLayer()
	require.NoError(t, err)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--workers", "8"}))
	flags, err := FlagLayer(fs)
	require.NoError(t, err)

	c, err := Resolve(file, envLayer, flags)
	require.NoError(t, err)
	assert.Equal(t, "ens", c.Model)
	assert.Equal(t, 72, c.Lookback)
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, "grid", c.RetrievalMode)
}

func TestFlagLayerOnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--issue-hours", "00,06", "--request-timeout", "2m"}))

	l, err := FlagLayer(fs)
	require.NoError(t, err)
	assert.Nil(t, l.Model)
	assert.Nil(t, l.Lookback)
	assert.Equal(t, []string{"00", "06"}, l.IssueHours)
	require.NotNil(t, l.RequestTimeout)
	assert.Equal(t, 2*time.Minute, *l.RequestTimeout)
}

func TestLoadExplicitConfigMissing(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yml")}))

	_, err := Load(fs)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"model", func(c *Config) { c.Model = "gfs" }},
		{"retrieval mode", func(c *Config) { c.RetrievalMode = "area" }},
		{"format", func(c *Config) { c.Format = "csv" }},
		{"lookback zero", func(c *Config) { c.Lookback = 0 }},
		{"lookback too long", func(c *Config) { c.Lookback = 241 }},
		{"step", func(c *Config) { c.StepGranularity = 0 }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"issue hour width", func(c *Config) { c.IssueHours = []string{"6"} }},
		{"issue hour range", func(c *Config) { c.IssueHours = []string{"24"} }},
		{"archive bucket", func(c *Config) { c.Archive.Backend = "s3" }},
		{"archive dir", func(c *Config) { c.Archive.Backend = "local" }},
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(&c)
			assert.ErrorIs(t, Validate(c), ErrInvalidConfig)
		})
	}

	c := Defaults()
	c.Lookback = 240
	c.Archive = ArchiveConfig{Backend: "gcs", Bucket: "forecasts"}
	assert.NoError(t, Validate(c))
}

func TestValidateRetrieval(t *testing.T) {
	c := Defaults()
	assert.ErrorIs(t, ValidateRetrieval(c), ErrInvalidConfig)

	c.Variables = []string{"2t"}
	assert.NoError(t, ValidateRetrieval(c))

	c.IssueHours = nil
	assert.ErrorIs(t, ValidateRetrieval(c), ErrInvalidConfig)
}

func TestRequestSettings(t *testing.T) {
	c := Defaults()
	c.Variables = []string{"2t"}

	s := c.RequestSettings()
	assert.Equal(t, "hres", s.Model)
	assert.Equal(t, []string{"2t"}, s.Variables)

	s.Variables[0] = "tp"
	assert.Equal(t, "2t", c.Variables[0])
}
