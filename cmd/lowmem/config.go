package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfig = "LOWMEM_CONFIG"

// Config is the optional file at ~/.config/lowmem/config.yaml. Values apply
// only where the matching flag was not given. Pointer fields distinguish
// "not set" from zero.
type Config struct {
	ModelPath string `yaml:"model"`
	ModelURL  string `yaml:"url"`
	NoMmap    *bool  `yaml:"no_mmap"`

	BufferBytes    *int64 `yaml:"buffer_bytes"`
	MaxQuantBlocks *int64 `yaml:"max_quant_blocks"`

	Retries   *int64         `yaml:"retries"`
	RetryWait *time.Duration `yaml:"retry_wait"`
	Rate      *float64       `yaml:"rate"`
	Timeout   *time.Duration `yaml:"timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

// configPath is $LOWMEM_CONFIG, or config.yaml under the user config dir.
func configPath() string {
	if p := os.Getenv(envConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "lowmem", "config.yaml")
}

// LoadConfig reads path. A missing file yields a zero Config; a malformed
// one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applySourceConfig applies config file defaults to the blob source flags.
func applySourceConfig(c *cli.Command, cfg Config, s *source) {
	if cfg.ModelPath != "" && !c.IsSet("model") {
		s.path = cfg.ModelPath
	}
	if cfg.ModelURL != "" && !c.IsSet("url") {
		s.url = cfg.ModelURL
	}
	if cfg.NoMmap != nil && !c.IsSet("no-mmap") {
		s.noMmap = *cfg.NoMmap
	}
	if cfg.BufferBytes != nil && !c.IsSet("buffer") {
		s.bufferBytes = *cfg.BufferBytes
	}
	if cfg.MaxQuantBlocks != nil && !c.IsSet("max-quant-blocks") {
		s.maxBlocks = *cfg.MaxQuantBlocks
	}
	if cfg.Retries != nil && !c.IsSet("retries") {
		s.retries = *cfg.Retries
	}
	if cfg.RetryWait != nil && !c.IsSet("retry-wait") {
		s.retryWait = *cfg.RetryWait
	}
	if cfg.Rate != nil && !c.IsSet("rate") {
		s.rate = *cfg.Rate
	}
	if cfg.Timeout != nil && !c.IsSet("timeout") {
		s.timeout = *cfg.Timeout
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, path, addr *string) {
	if cfg.ModelPath != "" && !c.IsSet("model") {
		*path = cfg.ModelPath
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
