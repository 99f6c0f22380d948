package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := NewFlagSet("test")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return Load(fs)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := load(t)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default()
	if cfg.DB != want.DB || cfg.Addr != want.Addr || cfg.Rollover != want.Rollover {
		t.Errorf("Expected defaults %+v, but got %+v", want, cfg)
	}
	if cfg.Defaults.New.PerDay != 20 || len(cfg.Defaults.New.Delays) != 2 {
		t.Errorf("Expected default deck config, but got %+v", cfg.Defaults)
	}
	if loc, _ := cfg.Location(); loc != time.Local {
		t.Errorf("Expected local timezone, but got %v", loc)
	}
}

func TestLayering(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "knolsched.yaml", `
rollover: 5
timezone: UTC
log:
  format: json
defaults:
  new:
    per_day: 50
    delays: [1, 5, 30]
`)

	tests := []struct {
		name     string
		env      string
		args     []string
		rollover int
	}{
		{"file", "", nil, 5},
		{"env over file", "6", nil, 6},
		{"flag over env", "6", []string{"--rollover=7"}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("KNOLSCHED_ROLLOVER", tt.env)
			}
			cfg, err := load(t, append([]string{"--config", path}, tt.args...)...)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Rollover != tt.rollover {
				t.Errorf("Expected rollover %d, but got %d", tt.rollover, cfg.Rollover)
			}
			if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
				t.Errorf("Expected json/info logging, but got %+v", cfg.Log)
			}
			if cfg.Defaults.New.PerDay != 50 || len(cfg.Defaults.New.Delays) != 3 {
				t.Errorf("Expected file deck config, but got %+v", cfg.Defaults.New)
			}
			if cfg.Defaults.Review.PerDay != 200 {
				t.Errorf("Expected untouched review limit 200, but got %d", cfg.Defaults.Review.PerDay)
			}
		})
	}
}

func TestNestedEnvKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KNOLSCHED_LOG__LEVEL", "debug")
	t.Setenv("KNOLSCHED_LEARN_AHEAD_SECS", "60")

	cfg, err := load(t)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, but got %q", cfg.Log.Level)
	}
	if cfg.LearnAheadSecs != 60 {
		t.Errorf("Expected learn ahead 60, but got %d", cfg.LearnAheadSecs)
	}
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, "custom.env", "KNOLSCHED_ADDR=:9999\n")
	t.Cleanup(func() { os.Unsetenv("KNOLSCHED_ADDR") })

	cfg, err := load(t, "--env-file", "custom.env")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("Expected addr :9999, but got %q", cfg.Addr)
	}
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"rollover out of range", []string{"--rollover=24"}},
		{"unknown mix", []string{"--new_review_mix=random"}},
		{"unknown timezone", []string{"--timezone=Mars/Olympus"}},
		{"bad log level", []string{"--log.level=loud"}},
		{"missing config file", []string{"--config=nope.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			if _, err := load(t, tt.args...); err == nil {
				t.Errorf("Expected an error for %v", tt.args)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "card_id", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info to be filtered, but got %q", out)
	}
	if !strings.Contains(out, `"card_id":7`) {
		t.Errorf("Expected JSON attributes, but got %q", out)
	}
}

func TestMix(t *testing.T) {
	cfg := Default()
	cfg.NewReviewMix = "new_first"
	mix, err := cfg.Mix()
	if err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	if mix.String() != "new_first" {
		t.Errorf("Expected new_first, but got %s", mix)
	}
}
