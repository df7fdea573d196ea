package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 3
	}
	if cfg.Queue.EventBuffer == 0 {
		cfg.Queue.EventBuffer = 256
	}
	if cfg.Queue.ArchiveLimit == 0 {
		cfg.Queue.ArchiveLimit = 500
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Extractor.Binary == "" {
		cfg.Extractor.Binary = "yt-dlp"
	}
	if cfg.Extractor.OutputDir == "" {
		cfg.Extractor.OutputDir = "downloads"
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 30 * time.Second
	}
	if cfg.Health.QueueWarnDepth == 0 {
		cfg.Health.QueueWarnDepth = 50
	}
	if cfg.Health.QueueCritDepth == 0 {
		cfg.Health.QueueCritDepth = 200
	}
}
