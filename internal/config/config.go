package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config defines host configuration.
type Config struct {
	DB      DBConfig      `yaml:"db"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type ArchiveConfig struct {
	// SettingsPath is the JSON file holding the user settings blob.
	SettingsPath string `yaml:"settings_path"`
	// ViewURL is the archive-view page opened as a placeholder tab.
	ViewURL string `yaml:"view_url"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Path is an optional log file. The host's stdout belongs to the
	// native-messaging channel, so file logging is the only alternative to
	// stderr.
	Path string `yaml:"path"`
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	dataDir := defaultDataDir()
	cfg := Config{
		DB: DBConfig{
			Path: filepath.Join(dataDir, "tabvault.db"),
		},
		Archive: ArchiveConfig{
			SettingsPath: filepath.Join(dataDir, "settings.json"),
			ViewURL:      "about:archive",
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if path := os.Getenv("TABVAULT_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if dbPath := os.Getenv("TABVAULT_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if settingsPath := os.Getenv("TABVAULT_SETTINGS_PATH"); settingsPath != "" {
		cfg.Archive.SettingsPath = settingsPath
	}
	if viewURL := os.Getenv("TABVAULT_ARCHIVE_VIEW_URL"); viewURL != "" {
		cfg.Archive.ViewURL = viewURL
	}
	if level := os.Getenv("TABVAULT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if logPath := os.Getenv("TABVAULT_LOG_PATH"); logPath != "" {
		cfg.Log.Path = logPath
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tabvault")
	}
	return "."
}
