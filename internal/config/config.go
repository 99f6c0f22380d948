// Package config loads application settings. Sources are layered, lowest
// precedence first: built-in defaults, a YAML file, a .env file, KNOLSCHED_
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/queue"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix marks environment variables read as settings. A double
// underscore separates nested keys: KNOLSCHED_LOG__LEVEL sets log.level.
const EnvPrefix = "KNOLSCHED_"

// Config is the application configuration.
type Config struct {
	DB             string    `yaml:"db" validate:"required"`
	Addr           string    `yaml:"addr" validate:"required"`
	Log            LogConfig `yaml:"log"`
	Timezone       string    `yaml:"timezone"`
	Rollover       int       `yaml:"rollover" validate:"min=0,max=23"`
	LearnAheadSecs int64     `yaml:"learn_ahead_secs" validate:"min=0"`
	Fuzz           bool      `yaml:"fuzz"`
	NewReviewMix   string    `yaml:"new_review_mix" validate:"oneof=reviews_first new_first interleave"`
	// Defaults is the deck config of new collections, also used when a deck's
	// config group is missing.
	Defaults domain.DeckConfig `yaml:"defaults"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DB:             "knolsched.db",
		Addr:           ":8080",
		Log:            LogConfig{Level: "info", Format: "text"},
		Timezone:       "Local",
		Rollover:       4,
		LearnAheadSecs: queue.DefaultLearnAheadSecs,
		Fuzz:           true,
		NewReviewMix:   "reviews_first",
		Defaults:       domain.DefaultDeckConfig(),
	}
}

// NewFlagSet declares every flag Load understands. Flag names match the
// configuration keys.
func NewFlagSet(name string) *pflag.FlagSet {
	d := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to a YAML config file")
	fs.String("env-file", ".env", "Path to a .env file, ignored when missing")
	fs.String("db", d.DB, "Path to the SQLite collection")
	fs.String("addr", d.Addr, "Address the web server listens on")
	fs.String("log.level", d.Log.Level, "Log level: debug, info, warn or error")
	fs.String("log.format", d.Log.Format, "Log format: text or json")
	fs.String("timezone", d.Timezone, "IANA timezone the rollover hour applies in")
	fs.Int("rollover", d.Rollover, "Hour of the day a new study day starts")
	fs.Int64("learn_ahead_secs", d.LearnAheadSecs, "How far ahead learning cards may be shown")
	fs.Bool("fuzz", d.Fuzz, "Spread review intervals to avoid clumping")
	fs.String("new_review_mix", d.NewReviewMix, "reviews_first, new_first or interleave")
	return fs
}

// Load builds the configuration from every source. flags must come from
// NewFlagSet and already be parsed.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if path, _ := flags.GetString("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks every field, including the default deck config.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. "Local" and the empty string mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Mix parses NewReviewMix.
func (c *Config) Mix() (queue.Mix, error) {
	return queue.ParseMix(c.NewReviewMix)
}

// NewLogger builds the slog logger described by c, writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", c.Format)
}
