// Package config handles configuration loading, validation, and management for handy.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"handy/internal/adapter"
	"handy/internal/keywords"
	"handy/internal/logging"
	"handy/internal/trigger"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete engine configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine configures trigger detection.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Frames configures discovery of nested frames.
	Frames FramesConfig `toml:"frames" json:"frames" yaml:"frames"`

	// Strategies configures the embedded-editor strategies.
	Strategies StrategiesConfig `toml:"strategies" json:"strategies" yaml:"strategies"`

	// Limits bounds keyword and snippet sizes.
	Limits LimitsConfig `toml:"limits" json:"limits" yaml:"limits"`

	// Storage configures the settings database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Browser configures the CDP connection used by `handy run`.
	Browser BrowserConfig `toml:"browser" json:"browser" yaml:"browser"`

	// Metrics configures the metrics endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// EngineConfig holds trigger detection settings.
type EngineConfig struct {
	// FollowUpDelayMs is how long after a trigger keydown the target is
	// re-read, for surfaces that do not emit input events.
	FollowUpDelayMs int `toml:"follow_up_delay_ms" json:"follow_up_delay_ms" yaml:"follow_up_delay_ms"`

	// InputTypes are the INPUT types eligible for expansion.
	InputTypes []string `toml:"input_types" json:"input_types" yaml:"input_types"`
}

// FramesConfig holds nested frame discovery settings.
type FramesConfig struct {
	// PollIntervalMs is the periodic re-scan interval.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// InjectDelayMs is the delay between discovering a frame and injecting.
	InjectDelayMs int `toml:"inject_delay_ms" json:"inject_delay_ms" yaml:"inject_delay_ms"`

	// StaggerMs spaces out injections when many frames appear at once.
	StaggerMs int `toml:"stagger_ms" json:"stagger_ms" yaml:"stagger_ms"`
}

// StrategiesConfig holds embedded-editor settings.
type StrategiesConfig struct {
	// EmbeddedHosts are host globs the embedded-editor strategies run on.
	EmbeddedHosts []string `toml:"embedded_hosts" json:"embedded_hosts" yaml:"embedded_hosts"`

	// CKEditorSelectors locate CKEditor containers.
	CKEditorSelectors []string `toml:"ckeditor_selectors" json:"ckeditor_selectors" yaml:"ckeditor_selectors"`

	// LightningSelectors locate Salesforce Lightning containers.
	LightningSelectors []string `toml:"lightning_selectors" json:"lightning_selectors" yaml:"lightning_selectors"`
}

// LimitsConfig holds keyword validation limits.
type LimitsConfig struct {
	MaxKeywordLength int `toml:"max_keyword_length" json:"max_keyword_length" yaml:"max_keyword_length"`
	MaxSnippetLength int `toml:"max_snippet_length" json:"max_snippet_length" yaml:"max_snippet_length"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the path to the sqlite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// WatchDebounceMs coalesces bursts of file events from other writers.
	WatchDebounceMs int `toml:"watch_debounce_ms" json:"watch_debounce_ms" yaml:"watch_debounce_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// LogContent includes typed text in log records.
	LogContent bool `toml:"log_content" json:"log_content" yaml:"log_content"`
}

// BrowserConfig holds the CDP connection settings.
type BrowserConfig struct {
	// ControlURL is the DevTools websocket of a running browser. When empty
	// a browser is launched.
	ControlURL string `toml:"control_url" json:"control_url" yaml:"control_url"`

	// Headless launches the browser without a window.
	Headless bool `toml:"headless" json:"headless" yaml:"headless"`

	// StartURL is opened when no page URL is given.
	StartURL string `toml:"start_url" json:"start_url" yaml:"start_url"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
}

// DefaultConfig returns a configuration with the engine's stock values.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Engine: EngineConfig{
			FollowUpDelayMs: 10,
			InputTypes:      append([]string(nil), trigger.DefaultInputTypes...),
		},
		Frames: FramesConfig{
			PollIntervalMs: 5000,
			InjectDelayMs:  1000,
			StaggerMs:      500,
		},
		Strategies: StrategiesConfig{
			EmbeddedHosts:      append([]string(nil), adapter.DefaultEmbeddedHosts...),
			CKEditorSelectors:  append([]string(nil), adapter.CKEditorSelectors...),
			LightningSelectors: append([]string(nil), adapter.LightningSelectors...),
		},
		Limits: LimitsConfig{
			MaxKeywordLength: keywords.DefaultMaxKeywordLength,
			MaxSnippetLength: keywords.DefaultMaxSnippetLength,
		},
		Storage: StorageConfig{
			Path:            filepath.Join(dir, "handy.db"),
			BusyTimeoutMs:   5000,
			WatchDebounceMs: 100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		Browser: BrowserConfig{
			Headless: false,
			StartURL: "about:blank",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from path, or the default path when empty.
// A missing file yields the defaults. TOML, JSON and YAML are accepted,
// chosen by extension. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies HANDY_ environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HANDY_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("HANDY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HANDY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("HANDY_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("HANDY_BROWSER_URL"); v != "" {
		c.Browser.ControlURL = v
	}
	if v := os.Getenv("HANDY_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if v := os.Getenv("HANDY_START_URL"); v != "" {
		c.Browser.StartURL = v
	}
	if v := os.Getenv("HANDY_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Engine.InputTypes = append([]string(nil), c.Engine.InputTypes...)
	clone.Strategies.EmbeddedHosts = append([]string(nil), c.Strategies.EmbeddedHosts...)
	clone.Strategies.CKEditorSelectors = append([]string(nil), c.Strategies.CKEditorSelectors...)
	clone.Strategies.LightningSelectors = append([]string(nil), c.Strategies.LightningSelectors...)
	return &clone
}

// FollowUpDelay returns the keydown follow-up delay.
func (e EngineConfig) FollowUpDelay() time.Duration {
	return time.Duration(e.FollowUpDelayMs) * time.Millisecond
}

// PollInterval returns the frame re-scan interval.
func (f FramesConfig) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalMs) * time.Millisecond
}

// InjectDelay returns the frame injection delay.
func (f FramesConfig) InjectDelay() time.Duration {
	return time.Duration(f.InjectDelayMs) * time.Millisecond
}

// Stagger returns the spacing between consecutive injections.
func (f FramesConfig) Stagger() time.Duration {
	return time.Duration(f.StaggerMs) * time.Millisecond
}

// KeywordLimits returns the limits as keyword validation limits.
func (l LimitsConfig) KeywordLimits() keywords.Limits {
	return keywords.Limits{MaxKeywordLength: l.MaxKeywordLength, MaxSnippetLength: l.MaxSnippetLength}
}

// AdapterOptions returns chain options for the configured strategies.
func (s StrategiesConfig) AdapterOptions() (adapter.Options, error) {
	hosts, err := adapter.NewHostMatcher(s.EmbeddedHosts)
	if err != nil {
		return adapter.Options{}, err
	}
	return adapter.Options{
		Hosts:              hosts,
		CKEditorSelectors:  s.CKEditorSelectors,
		LightningSelectors: s.LightningSelectors,
	}, nil
}

// ToLogging converts the section to a logging configuration.
func (l LoggingConfig) ToLogging() (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = l.Output
	cfg.FilePath = l.FilePath
	cfg.MaxSize = int64(l.MaxSizeMB)
	cfg.MaxBackups = l.MaxBackups
	cfg.Compress = l.Compress
	cfg.LogContent = l.LogContent
	return cfg, nil
}

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{filepath.Dir(c.Storage.Path), filepath.Dir(c.Logging.FilePath)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return nil
}
