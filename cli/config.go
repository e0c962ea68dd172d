package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/absmach/fedrun/pkg/fl"
	"github.com/pelletier/go-toml"
)

const (
	DefConfigPath     = "fedrun.toml"
	defHistoryDir     = "history"
	defCoordinatorURL = "http://localhost:7070"
)

type Config struct {
	History     HistoryConfig     `toml:"history"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
}

type CoordinatorConfig struct {
	URL             string `toml:"url"`
	TLSVerification bool   `toml:"tls_verification"`
}

type HistoryConfig struct {
	Dir            string `toml:"dir"`
	MaxMessageSize int    `toml:"max_message_size"`
}

func DefaultConfig() Config {
	return Config{
		History: HistoryConfig{
			Dir:            defHistoryDir,
			MaxMessageSize: fl.DefMaxMessageSize,
		},
		Coordinator: CoordinatorConfig{
			URL: defCoordinatorURL,
		},
	}
}

// LoadConfig reads path, filling unset values with defaults. A missing file
// yields the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return DefaultConfig(), nil
	case err != nil:
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	def := DefaultConfig()
	if cfg.History.Dir == "" {
		cfg.History.Dir = def.History.Dir
	}
	if cfg.History.MaxMessageSize == 0 {
		cfg.History.MaxMessageSize = def.History.MaxMessageSize
	}
	if cfg.Coordinator.URL == "" {
		cfg.Coordinator.URL = def.Coordinator.URL
	}

	return cfg, nil
}
