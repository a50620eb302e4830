// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package config loads the batchpost configuration from flags, environment, an optional .env
// file and an optional config file, in that order of precedence.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/croessner/batchpost/client/definitions"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable that maps onto a config key.
const EnvPrefix = "BATCHPOST"

// legacyEnv maps the plain variable names of older .env files onto config keys.
var legacyEnv = map[string]string{
	"LOGIN_URL":  "login_url",
	"TARGET_URL": "target_url",
	"USERNAME":   "username",
	"PASSWORD":   "password",
}

type flagBinding struct {
	name  string
	key   string
	usage string
}

var stringFlags = []flagBinding{
	{"login-url", "login_url", "Login form URL"},
	{"target-url", "target_url", "Submission form URL"},
	{"username", "username", "Login user name"},
	{"password", "password", "Login password"},
	{"mode", "mode", "Run mode: submit|probe"},
	{"instance", "instance", "Instance name used in log lines"},
	{"backend", "checkpoint.backend", "Checkpoint backend: file|sqlite|redis"},
	{"state", "checkpoint.path", "Checkpoint file or database path"},
	{"log-level", "log.level", "Log level: none|error|warn|info|debug"},
	{"color", "log.color", "Color output: auto|always|never"},
	{"metrics-address", "metrics.address", "Serve Prometheus metrics on host:port"},
	{"regions", "regions.file", "Region reference table (JSON)"},
}

var secondsFlags = []flagBinding{
	{"delay-min", "rate.inter_delay_min", "Minimum delay between submissions in seconds"},
	{"delay-max", "rate.inter_delay_max", "Maximum delay between submissions in seconds"},
	{"pause-seconds", "rate.burst_pause", "Pause in seconds after every burst"},
	{"timeout", "session.request_timeout", "HTTP request timeout in seconds"},
	{"relogin-delay", "session.relogin_delay", "Settle delay in seconds before a re-login"},
}

var intFlags = []flagBinding{
	{"pause-every", "rate.burst_size", "Pause after this many confirmed submissions (0=never)"},
	{"retries", "rate.network_retries", "Network error retries per record"},
	{"probe-count", "probe.count", "Number of classification probes in probe mode"},
}

var boolFlags = []flagBinding{
	{"verify", "session.tls_verify", "Verify TLS certificates"},
	{"tracing", "session.tracing", "Wrap the HTTP transport with OpenTelemetry"},
	{"log-json", "log.json", "Log as JSON"},
}

// Load parses args (without the program name) and returns a validated Config. Positional
// arguments are record source files or glob patterns; each match becomes one batch named by
// its file name.
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet(definitions.InstanceName, pflag.ContinueOnError)

	configFile := flags.String("config", "", "Config file (yaml, toml or json)")
	envFile := flags.String("env-file", ".env", "Dotenv file with credentials")
	limit := flags.Int("limit", 0, "Submit at most this many records per positional batch (0=all)")
	sheet := flags.String("sheet", "", "Worksheet name for positional XLSX batches")
	probeCounts := flags.IntSlice("probe-counts", nil, "Comma-separated request counts, one probe run each")
	noRelogin := flags.Bool("no-relogin", false, "End a probe run at the first expiry instead of logging in again")
	showVersion := flags.Bool("version", false, "Print version and exit")

	v := viper.New()

	setDefaults(v)

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if *showVersion {
		return &Config{ShowVersion: true}, nil
	}

	if err := loadDotEnv(v, *envFile); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, *configFile); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	batches, err := positionalBatches(flags.Args(), *limit, *sheet)
	if err != nil {
		return nil, err
	}

	cfg.Batches = append(cfg.Batches, batches...)

	if len(*probeCounts) > 0 {
		cfg.Probe.Counts = *probeCounts
	}

	if *noRelogin {
		cfg.Probe.Relogin = false
	}

	normalize(cfg)

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, b := range stringFlags {
		flags.String(b.name, fmt.Sprint(defaults[b.key]), b.usage)
	}

	for _, b := range secondsFlags {
		flags.Float64(b.name, defaults[b.key].(time.Duration).Seconds(), b.usage)
	}

	for _, b := range intFlags {
		flags.Int(b.name, defaults[b.key].(int), b.usage)
	}

	for _, b := range boolFlags {
		flags.Bool(b.name, defaults[b.key].(bool), b.usage)
	}

	for _, group := range [][]flagBinding{stringFlags, secondsFlags, intFlags, boolFlags} {
		for _, b := range group {
			if err := v.BindPFlag(b.key, flags.Lookup(b.name)); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadDotEnv reads path into the process environment without overriding existing variables.
// The legacy keys are taken from the file itself so that a USERNAME exported by the login
// shell does not shadow the one in the file.
func loadDotEnv(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}

	fileEnv, err := godotenv.Read(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			fileEnv = map[string]string{}
		} else {
			return fmt.Errorf("read env file %s: %w", path, err)
		}
	} else if err = godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	for name, key := range legacyEnv {
		value := fileEnv[name]

		if value == "" && name != "USERNAME" {
			value = os.Getenv(name)
		}

		if value != "" {
			v.SetDefault(key, value)
		}
	}

	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}

		return nil
	}

	v.SetConfigName(definitions.InstanceName)
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.batchpost")
	v.AddConfigPath("/etc/batchpost/")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.As(err, &notFound) {
			return nil
		}

		return fmt.Errorf("read config file: %w", err)
	}

	return nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToWeakSliceHookFunc(","),
	)
}

// secondsToDurationHook accepts plain numbers (and numeric strings) as seconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeFor[time.Duration]()

	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}

		switch value := data.(type) {
		case time.Duration:
			return value, nil
		case int:
			return time.Duration(value) * time.Second, nil
		case int64:
			return time.Duration(value) * time.Second, nil
		case float32:
			return seconds(float64(value)), nil
		case float64:
			return seconds(value), nil
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				return seconds(parsed), nil
			}
		}

		return data, nil
	}
}

func seconds(value float64) time.Duration {
	return time.Duration(math.Round(value * float64(time.Second)))
}

func positionalBatches(args []string, limit int, sheet string) ([]BatchSection, error) {
	var batches []BatchSection

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}

		if len(matches) == 0 {
			matches = []string{arg}
		}

		for _, path := range matches {
			batches = append(batches, BatchSection{
				Name:  filepath.Base(path),
				Path:  path,
				Sheet: sheet,
				Limit: limit,
			})
		}
	}

	return batches, nil
}

func normalize(cfg *Config) {
	if cfg.Instance == "" {
		cfg.Instance = definitions.InstanceName
	}

	if cfg.Mode == "" {
		cfg.Mode = definitions.ModeSubmit
	}

	if cfg.Checkpoint.Path == "" {
		switch cfg.Checkpoint.Backend {
		case definitions.BackendSQLite:
			cfg.Checkpoint.Path = "state.db"
		default:
			cfg.Checkpoint.Path = "state.json"
		}
	}

	for name, lookup := range cfg.Lookups {
		if lookup.ValueField == "" {
			lookup.ValueField = "id"
		}

		if lookup.TextField == "" {
			lookup.TextField = "nama"
		}

		if lookup.CacheTTL == 0 {
			lookup.CacheTTL = time.Hour
		}

		cfg.Lookups[name] = lookup
	}
}
