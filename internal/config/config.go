// Package config resolves the daemon's host paths and options from the
// environment.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config is the daemon's environment-derived configuration. Stream settings
// themselves live in the settings document, not here.
type Config struct {
	// SettingsDir holds the persisted settings document.
	SettingsDir string

	// LogDir holds the core log and the pipeline capture logs.
	LogDir string

	// DataDir holds the session history database.
	DataDir string

	// PluginDir is the plugin installation root; its bin directory
	// carries the bundled pipeline libraries.
	PluginDir string

	// BinDir is the resolved bundled-library directory.
	BinDir string

	// GSTPluginPath is the bundled gstreamer plugin directory.
	GSTPluginPath string

	// DenoisePlugin is the optional RNNoise LADSPA binary path.
	DenoisePlugin string

	// UserHome is the home directory the pipeline runs under.
	UserHome string

	// ListenAddr is the query surface's listen address.
	ListenAddr string

	// LogLevel is the core log level.
	LogLevel string
}

// Load reads configuration from the environment, after loading a .env file
// when one is present. Every value has a default; a missing .env is fine.
func Load() (*Config, error) {
	godotenv.Load()

	home := os.Getenv("HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}

	dataDir := envOr("DECKSTREAM_DATA_DIR", filepath.Join(home, ".local", "share", "deckstream"))
	pluginDir := envOr("DECKSTREAM_PLUGIN_DIR", filepath.Join(home, "homebrew", "plugins", "deckstream"))

	binDir := filepath.Join(pluginDir, "bin")
	if _, err := os.Stat(binDir); err != nil {
		binDir = filepath.Join(pluginDir, "backend", "out")
	}

	cfg := &Config{
		SettingsDir:   envOr("DECKSTREAM_SETTINGS_DIR", filepath.Join(dataDir, "settings")),
		LogDir:        envOr("DECKSTREAM_LOG_DIR", filepath.Join(dataDir, "logs")),
		DataDir:       dataDir,
		PluginDir:     pluginDir,
		BinDir:        binDir,
		GSTPluginPath: filepath.Join(binDir, "gstreamer-1.0"),
		DenoisePlugin: envOr("DECKSTREAM_DENOISE_PLUGIN", filepath.Join(home, "homebrew", "data", "deckstream", "librnnoise_ladspa.so")),
		UserHome:      home,
		ListenAddr:    envOr("DECKSTREAM_LISTEN_ADDR", "127.0.0.1:8747"),
		LogLevel:      envOr("DECKSTREAM_LOG_LEVEL", "info"),
	}

	for _, dir := range []string{cfg.SettingsDir, cfg.LogDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
