// Package config loads tagex settings from defaults, an optional YAML file,
// TAGEX_* environment variables and command-line flags, in increasing order
// of precedence.
package config

/*
tagex — fast tool in Go for extracting tags from unstructured text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/x-stp/tagex/internal/logging"
)

// EnvPrefix prefixes every environment variable, e.g. TAGEX_LOG_LEVEL.
const EnvPrefix = "TAGEX"

// LocalConfigFile is looked up in the working directory before the user config.
const LocalConfigFile = ".tagex.yaml"

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Extract ExtractConfig `mapstructure:"extract"`
	Input   InputConfig   `mapstructure:"input"`
	Output  OutputConfig  `mapstructure:"output"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

type ExtractConfig struct {
	Tags         []string      `mapstructure:"tags"` // Empty scans every tag.
	Unique       bool          `mapstructure:"unique"`
	MatchTimeout time.Duration `mapstructure:"match_timeout"` // Per backtracking search call; 0 is unbounded.
}

type InputConfig struct {
	MaxBytes    int64         `mapstructure:"max_bytes"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
}

type OutputConfig struct {
	Path     string `mapstructure:"path"` // Empty or "-" writes to stdout.
	Compress bool   `mapstructure:"compress"`
}

type BatchConfig struct {
	Workers   int     `mapstructure:"workers"`
	QueueSize int     `mapstructure:"queue_size"`
	RateLimit float64 `mapstructure:"rate_limit"` // Sources per second; 0 disables the limiter.
	Burst     int     `mapstructure:"burst"`
	OutputDir string  `mapstructure:"output_dir"`
	Affinity  bool    `mapstructure:"affinity"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // Empty disables the /metrics server.
	File string `mapstructure:"file"` // Textfile collector dump written on exit.
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: logging.FormatConsole},
		Input: InputConfig{
			MaxBytes:    64 << 20,
			HTTPTimeout: 30 * time.Second,
			UserAgent:   "tagex/1.0",
		},
		Batch: BatchConfig{
			Workers:   runtime.NumCPU(),
			QueueSize: 64,
			Burst:     1,
			OutputDir: "tagex-output",
		},
	}
}

// SetDefaults registers Defaults on v so every key is known to Unmarshal
// and to the environment lookup.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("extract.tags", []string{})
	v.SetDefault("extract.unique", d.Extract.Unique)
	v.SetDefault("extract.match_timeout", d.Extract.MatchTimeout)
	v.SetDefault("input.max_bytes", d.Input.MaxBytes)
	v.SetDefault("input.http_timeout", d.Input.HTTPTimeout)
	v.SetDefault("input.user_agent", d.Input.UserAgent)
	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("output.compress", d.Output.Compress)
	v.SetDefault("batch.workers", d.Batch.Workers)
	v.SetDefault("batch.queue_size", d.Batch.QueueSize)
	v.SetDefault("batch.rate_limit", d.Batch.RateLimit)
	v.SetDefault("batch.burst", d.Batch.Burst)
	v.SetDefault("batch.output_dir", d.Batch.OutputDir)
	v.SetDefault("batch.affinity", d.Batch.Affinity)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.file", d.Metrics.File)
}

// Prepare sets defaults and environment handling on v and reads the config
// file. cfgFile, when set, must exist; otherwise ./.tagex.yaml and then
// ~/.config/tagex/config.yaml are tried and their absence is not an error.
func Prepare(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if _, err := os.Stat(LocalConfigFile); err == nil {
		v.SetConfigFile(LocalConfigFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tagex"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load is Prepare followed by Decode.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	if err := Prepare(v, cfgFile); err != nil {
		return Config{}, err
	}
	return Decode(v)
}

// Validate checks value ranges. Tag names are checked against the registry
// by the caller.
func (c Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", logging.FormatConsole, logging.FormatJSON, c.Log.Format))
	}
	if c.Extract.MatchTimeout < 0 {
		errs = append(errs, fmt.Errorf("extract.match_timeout must not be negative, got %v", c.Extract.MatchTimeout))
	}
	if c.Input.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("input.max_bytes must be positive, got %d", c.Input.MaxBytes))
	}
	if c.Input.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("input.http_timeout must be positive, got %v", c.Input.HTTPTimeout))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers))
	}
	if c.Batch.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("batch.queue_size must be at least 1, got %d", c.Batch.QueueSize))
	}
	if c.Batch.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("batch.rate_limit must not be negative, got %v", c.Batch.RateLimit))
	}
	if c.Batch.RateLimit > 0 && c.Batch.Burst < 1 {
		errs = append(errs, fmt.Errorf("batch.burst must be at least 1 when rate limiting, got %d", c.Batch.Burst))
	}
	return errors.Join(errs...)
}
