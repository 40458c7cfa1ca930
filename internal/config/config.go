// Package config resolves perfrev settings from defaults, the config file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// Duration is a time.Duration that reads and writes as a string like "30s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config represents the perfrev configuration.
type Config struct {
	Model              string   `json:"model"`
	MaxSteps           int      `json:"maxSteps"`
	StepTimeout        Duration `json:"stepTimeout"`
	ToolTimeout        Duration `json:"toolTimeout"`
	MaxRetries         int      `json:"maxRetries"`
	LargeFunctionLines int      `json:"largeFunctionLines"`
	ReportPath         string   `json:"reportPath"`
	Exclude            []string `json:"exclude,omitempty"`
	Addr               string   `json:"addr"`
	Port               int      `json:"port"`

	// APIKey comes from the environment only and is never saved.
	APIKey string `json:"-"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Model:              "gemini-2.5-flash",
		MaxSteps:           10,
		StepTimeout:        Duration(2 * time.Minute),
		ToolTimeout:        Duration(30 * time.Second),
		MaxRetries:         3,
		LargeFunctionLines: 50,
		ReportPath:         "code-review.md",
		Addr:               "127.0.0.1",
		Port:               6142,
	}
}

// Dir returns the platform-appropriate config directory.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "perfrev"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "perfrev"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "perfrev"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "perfrev"), nil
	default:
		return filepath.Join(home, ".config", "perfrev"), nil
	}
}

// Path returns the full path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadFile loads the config file. A missing file yields a zero Config.
func LoadFile() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// Overrides come from CLI flags; only flags the user set should be present.
func Load(overrides map[string]string) (Config, error) {
	cfg := Default()

	fileCfg, err := LoadFile()
	if err != nil {
		return Config{}, err
	}
	mergeFile(&cfg, fileCfg)
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	for key, value := range overrides {
		if err := SetField(&cfg, key, value); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MaxSteps < 1:
		return fmt.Errorf("maxSteps must be at least 1, got %d", c.MaxSteps)
	case c.StepTimeout <= 0:
		return fmt.Errorf("stepTimeout must be positive")
	case c.ToolTimeout <= 0:
		return fmt.Errorf("toolTimeout must be positive")
	case c.LargeFunctionLines < 1:
		return fmt.Errorf("largeFunctionLines must be at least 1, got %d", c.LargeFunctionLines)
	case c.MaxRetries < 0:
		return fmt.Errorf("maxRetries must not be negative")
	}
	return nil
}

func mergeFile(dst *Config, src Config) {
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.MaxSteps > 0 {
		dst.MaxSteps = src.MaxSteps
	}
	if src.StepTimeout > 0 {
		dst.StepTimeout = src.StepTimeout
	}
	if src.ToolTimeout > 0 {
		dst.ToolTimeout = src.ToolTimeout
	}
	if src.MaxRetries > 0 {
		dst.MaxRetries = src.MaxRetries
	}
	if src.LargeFunctionLines > 0 {
		dst.LargeFunctionLines = src.LargeFunctionLines
	}
	if src.ReportPath != "" {
		dst.ReportPath = src.ReportPath
	}
	if len(src.Exclude) > 0 {
		dst.Exclude = src.Exclude
	}
	if src.Addr != "" {
		dst.Addr = src.Addr
	}
	if src.Port > 0 {
		dst.Port = src.Port
	}
}

var envFields = []struct{ env, key string }{
	{"PERFREV_MODEL", "model"},
	{"PERFREV_MAX_STEPS", "maxSteps"},
	{"PERFREV_STEP_TIMEOUT", "stepTimeout"},
	{"PERFREV_TOOL_TIMEOUT", "toolTimeout"},
	{"PERFREV_MAX_RETRIES", "maxRetries"},
	{"PERFREV_LARGE_FUNCTION_LINES", "largeFunctionLines"},
	{"PERFREV_REPORT", "reportPath"},
}

func mergeEnv(cfg *Config) error {
	for _, f := range envFields {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		if err := SetField(cfg, f.key, v); err != nil {
			return fmt.Errorf("%s: %w", f.env, err)
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.APIKey = v
	} else if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	return nil
}

// SetField sets a single config field by key name. Returns error if key is unknown.
func SetField(cfg *Config, key, value string) error {
	switch key {
	case "model":
		cfg.Model = value
	case "reportPath":
		cfg.ReportPath = value
	case "addr":
		cfg.Addr = value
	case "maxSteps", "maxRetries", "largeFunctionLines", "port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		switch key {
		case "maxSteps":
			cfg.MaxSteps = n
		case "maxRetries":
			cfg.MaxRetries = n
		case "largeFunctionLines":
			cfg.LargeFunctionLines = n
		case "port":
			cfg.Port = n
		}
	case "stepTimeout", "toolTimeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s must be a duration: %w", key, err)
		}
		if key == "stepTimeout" {
			cfg.StepTimeout = Duration(d)
		} else {
			cfg.ToolTimeout = Duration(d)
		}
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
