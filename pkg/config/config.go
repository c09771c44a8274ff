package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`     // HTTP Listen Address (e.g. :8080)
	TCPAddr string `yaml:"tcp_addr"` // TCP Listen Address (e.g. :9090)
}

type StorageConfig struct {
	Path           string `yaml:"path"`
	Backend        string `yaml:"backend"` // "file" or "sqlite"
	MaxEntries     int    `yaml:"max_entries"`
	MinEntries     int    `yaml:"min_entries"`
	CachePages     int    `yaml:"cache_pages"`
	IORetries      int    `yaml:"io_retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
}

func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:    ":8080",
			TCPAddr: ":9090",
		},
		Storage: StorageConfig{
			Path:           "hydra_data",
			Backend:        "file",
			MaxEntries:     256,
			MinEntries:     64,
			CachePages:     64,
			IORetries:      3,
			RetryBackoffMs: 10,
		},
	}

	if configPath == "" {
		for _, p := range []string{"configs/hydra.yaml", "hydra.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyStorageDefaults(cfg)
				return cfg, validate(cfg)
			}
		}
		applyStorageDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyStorageDefaults(cfg)
	return cfg, validate(cfg)
}

func applyStorageDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.MaxEntries <= 0 {
		cfg.Storage.MaxEntries = 256
	}
	if cfg.Storage.MinEntries <= 0 {
		cfg.Storage.MinEntries = cfg.Storage.MaxEntries / 4
	}
	if cfg.Storage.CachePages <= 0 {
		cfg.Storage.CachePages = 64
	}
	if cfg.Storage.IORetries <= 0 {
		cfg.Storage.IORetries = 3
	}
	if cfg.Storage.RetryBackoffMs <= 0 {
		cfg.Storage.RetryBackoffMs = 10
	}
}

func validate(cfg *Config) error {
	if cfg.Storage.Backend != "file" && cfg.Storage.Backend != "sqlite" {
		return fmt.Errorf("config: unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.MinEntries >= cfg.Storage.MaxEntries {
		return fmt.Errorf("config: min_entries (%d) must be below max_entries (%d)",
			cfg.Storage.MinEntries, cfg.Storage.MaxEntries)
	}
	return nil
}
