package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags adds the configuration flags to fs. Defaults are left empty:
// only flags the user sets take part in resolution.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", DefaultConfigPath, "YAML configuration file")
	fs.String("model", "", "forecast model (hres or ens)")
	fs.String("level", "", "level type (surface)")
	fs.String("retrieval-mode", "", "spatial extraction (point or grid)")
	fs.String("format", "", "output format (netcdf or grib2)")
	fs.String("landing-path", "", "folder receiving retrieved files and the index")
	fs.String("staging-path", "", "folder receiving preprocessed entries")
	fs.String("logging-path", "", "log file path")
	fs.String("query-path", "", "query JSON file")
	fs.StringSlice("variables", nil, "variable codes, comma separated")
	fs.StringSlice("issue-hours", nil, "issue hours (HH), comma separated")
	fs.Int("lookback", 0, "forecast horizon in hours (max 240)")
	fs.Int("step-granularity", 0, "forecast step in hours")
	fs.Int("workers", 0, "concurrent retrievals")
	fs.Duration("request-timeout", 0, "deadline for each provider call (0 disables)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (text or json)")
	fs.String("metrics-addr", "", "address serving /metrics and /health")
}

// ConfigPath returns the --config value and whether the user set it.
func ConfigPath(fs *pflag.FlagSet) (string, bool) {
	path, err := fs.GetString("config")
	if err != nil || path == "" {
		return DefaultConfigPath, false
	}
	return path, fs.Changed("config")
}

// FlagLayer returns the flags the user set on the command line.
func FlagLayer(fs *pflag.FlagSet) (Layer, error) {
	var l Layer
	var err error

	str := func(name string, dst **string) {
		if err != nil || fs.Lookup(name) == nil || !fs.Changed(name) {
			return
		}
		var v string
		if v, err = fs.GetString(name); err == nil {
			*dst = &v
		}
	}
	num := func(name string, dst **int) {
		if err != nil || fs.Lookup(name) == nil || !fs.Changed(name) {
			return
		}
		var v int
		if v, err = fs.GetInt(name); err == nil {
			*dst = &v
		}
	}
	list := func(name string, dst *[]string) {
		if err != nil || fs.Lookup(name) == nil || !fs.Changed(name) {
			return
		}
		var v []string
		if v, err = fs.GetStringSlice(name); err == nil {
			*dst = append([]string{}, v...)
		}
	}

	str("model", &l.Model)
	str("level", &l.Level)
	str("retrieval-mode", &l.RetrievalMode)
	str("format", &l.Format)
	str("landing-path", &l.LandingPath)
	str("staging-path", &l.StagingPath)
	str("logging-path", &l.LoggingPath)
	str("query-path", &l.QueryPath)
	list("variables", &l.Variables)
	list("issue-hours", &l.IssueHours)
	num("lookback", &l.Lookback)
	num("step-granularity", &l.StepGranularity)
	num("workers", &l.Workers)
	str("log-level", &l.LogLevel)
	str("log-format", &l.LogFormat)
	str("metrics-addr", &l.MetricsAddr)

	if err == nil && fs.Lookup("request-timeout") != nil && fs.Changed("request-timeout") {
		d, derr := fs.GetDuration("request-timeout")
		if derr != nil {
			err = derr
		} else {
			l.RequestTimeout = &d
		}
	}

	if err != nil {
		return Layer{}, err
	}
	return l, nil
}

// Load resolves the full configuration: defaults, then the YAML file named
// by --config, then .env and the environment, then the flags set in fs.
func Load(fs *pflag.FlagSet) (Config, error) {
	path, explicit := ConfigPath(fs)
	file, err := FileLayer(path, !explicit)
	if err != nil {
		return Config{}, err
	}

	envLayer, err := EnvLayer(".env")
	if err != nil {
		return Config{}, err
	}

	flags, err := FlagLayer(fs)
	if err != nil {
		return Config{}, err
	}

	return Resolve(file, envLayer, flags)
}
