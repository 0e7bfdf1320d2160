package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handy/internal/keywords"
	"handy/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("HANDY_DATA_DIR", "/data/handy")
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.FollowUpDelay())
	assert.Equal(t, 5*time.Second, cfg.Frames.PollInterval())
	assert.Equal(t, time.Second, cfg.Frames.InjectDelay())
	assert.Equal(t, 500*time.Millisecond, cfg.Frames.Stagger())
	assert.Equal(t, []string{"text", "search", "url", "tel", "email"}, cfg.Engine.InputTypes)
	assert.Equal(t, keywords.DefaultLimits(), cfg.Limits.KeywordLimits())
	assert.Equal(t, filepath.Join("/data/handy", "handy.db"), cfg.Storage.Path)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("HANDY_CONFIG_DIR", "/etc/handy")
	assert.Equal(t, filepath.Join("/etc/handy", "config.toml"), ConfigPath())
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HANDY_CONFIG_DIR", dir)

	assert.Equal(t, "/x/handy.yaml", ResolvePath("/x/handy.yaml"))
	assert.Equal(t, filepath.Join(dir, "config.toml"), ResolvePath(""))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine: {}\n"), 0600))
	assert.Equal(t, filepath.Join(dir, "config.yaml"), ResolvePath(""))
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Frames, cfg.Frames)
}

func TestLoadFormats(t *testing.T) {
	files := map[string]string{
		"config.toml": `
version = 1
[engine]
follow_up_delay_ms = 25
[strategies]
embedded_hosts = ["*.example.com"]
`,
		"config.json": `{"version": 1, "engine": {"follow_up_delay_ms": 25}, "strategies": {"embedded_hosts": ["*.example.com"]}}`,
		"config.yaml": `
version: 1
engine:
  follow_up_delay_ms: 25
strategies:
  embedded_hosts: ["*.example.com"]
`,
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 25, cfg.Engine.FollowUpDelayMs)
			assert.Equal(t, []string{"*.example.com"}, cfg.Strategies.EmbeddedHosts)
			// Untouched sections keep their defaults.
			assert.Equal(t, 5000, cfg.Frames.PollIntervalMs)
			assert.Equal(t, DefaultConfig().Engine.InputTypes, cfg.Engine.InputTypes)
		})
	}
}

func TestLoadRejectsUnknownTOMLKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nfollowup = 3\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.followup")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HANDY_STORAGE_PATH", "/tmp/x.db")
	t.Setenv("HANDY_LOG_LEVEL", "debug")
	t.Setenv("HANDY_BROWSER_URL", "ws://127.0.0.1:9222/devtools/browser/abc")
	t.Setenv("HANDY_HEADLESS", "true")
	t.Setenv("HANDY_METRICS_ADDR", ":9464")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Browser.ControlURL)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	require.NoError(t, cfg.Validate())
}

func TestValidateReportsEveryField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = 7
	cfg.Engine.FollowUpDelayMs = -1
	cfg.Engine.InputTypes = []string{"text", "password", "bogus"}
	cfg.Frames.PollIntervalMs = 10
	cfg.Strategies.EmbeddedHosts = []string{""}
	cfg.Strategies.LightningSelectors = []string{" "}
	cfg.Limits.MaxKeywordLength = 0
	cfg.Storage.Path = ""
	cfg.Logging.Level = "loud"
	cfg.Logging.Output = "syslog"
	cfg.Browser.ControlURL = "ftp://x"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.ElementsMatch(t, []string{
		"version",
		"engine.follow_up_delay_ms",
		"engine.input_types[1]",
		"engine.input_types[2]",
		"frames.poll_interval_ms",
		"strategies.embedded_hosts[0]",
		"strategies.lightning_selectors[0]",
		"limits.max_keyword_length",
		"storage.path",
		"logging.level",
		"logging.output",
		"browser.control_url",
	}, verrs.Fields())
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Engine.InputTypes[0] = "search"
	clone.Strategies.EmbeddedHosts[0] = "changed"
	assert.Equal(t, "text", cfg.Engine.InputTypes[0])
	assert.Equal(t, "*.lightning.force.com", cfg.Strategies.EmbeddedHosts[0])
}

func TestAdapterOptions(t *testing.T) {
	opts, err := DefaultConfig().Strategies.AdapterOptions()
	require.NoError(t, err)
	assert.True(t, opts.Hosts.Match("https://acme.lightning.force.com/lightning/r/Case"))
	assert.False(t, opts.Hosts.Match("https://example.com/"))
}

func TestToLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"
	cfg.Logging.LogContent = true

	lc, err := cfg.Logging.ToLogging()
	require.NoError(t, err)
	assert.Equal(t, "warn", logging.LevelString(lc.Level))
	assert.True(t, lc.LogContent)

	cfg.Logging.Format = "xml"
	_, err = cfg.Logging.ToLogging()
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Frames.StaggerMs = 750
			cfg.Strategies.EmbeddedHosts = []string{"*.example.org"}
			require.NoError(t, SaveConfig(cfg, path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 750, loaded.Frames.StaggerMs)
			assert.Equal(t, []string{"*.example.org"}, loaded.Strategies.EmbeddedHosts)
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, path)

	cfg2, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg.Frames, cfg2.Frames)
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveConfig(DefaultConfig(), path))

	l := NewLoader(path)
	l.debounce = 10 * time.Millisecond
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	l.OnChange(func(old, new *Config) {
		select {
		case changed <- new:
		default:
		}
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Frames.PollIntervalMs = 2000
	require.NoError(t, SaveConfig(cfg, path))

	select {
	case got := <-changed:
		assert.Equal(t, 2000, got.Frames.PollIntervalMs)
		assert.Equal(t, 2000, l.Config().Frames.PollIntervalMs)
	case err := <-l.Errors():
		t.Fatalf("reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestLoaderKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveConfig(DefaultConfig(), path))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[frames]\npoll_interval_ms = 1\n"), 0600))
	l.reload()

	select {
	case err := <-l.Errors():
		assert.Contains(t, err.Error(), "frames.poll_interval_ms")
	default:
		t.Fatal("expected a reload error")
	}
	assert.Equal(t, 5000, l.Config().Frames.PollIntervalMs)
}
