package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the directory holding the settings database.
// HANDY_DATA_DIR overrides the platform default:
//   - macOS:   ~/Library/Application Support/handy/
//   - Linux:   $XDG_DATA_HOME/handy/ or ~/.local/share/handy/
//   - Windows: %APPDATA%\handy\
func DataDir() string {
	if dir := os.Getenv("HANDY_DATA_DIR"); dir != "" {
		return dir
	}
	home := homeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "handy")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "handy")
		}
		return filepath.Join(home, "AppData", "Roaming", "handy")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "handy")
		}
		return filepath.Join(home, ".local", "share", "handy")
	}
}

// ConfigDir returns the directory holding config.toml.
// HANDY_CONFIG_DIR overrides the platform default.
func ConfigDir() string {
	if dir := os.Getenv("HANDY_CONFIG_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin", "windows":
		return DataDir()
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "handy")
		}
		return filepath.Join(homeDir(), ".config", "handy")
	}
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// FindConfigFile returns the first existing config file among the
// supported names, or "" if there is none.
func FindConfigFile() string {
	dir := ConfigDir()
	for _, name := range []string{"config.toml", "config.yaml", "config.yml", "config.json"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ResolvePath picks the config file to use: path if given, else an
// existing file in the config directory, else the default TOML path.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if found := FindConfigFile(); found != "" {
		return found
	}
	return ConfigPath()
}
