package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cqkv/logkv"
	"github.com/goccy/go-yaml"
)

type config struct {
	DB     logkv.Config `yaml:"db"`
	Logger loggerConfig `yaml:"logger"`
	HTTP   httpConfig   `yaml:"http"`
}

type loggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type httpConfig struct {
	Addr string `yaml:"addr"`
}

func defaultConfig() config {
	return config{
		DB:     logkv.DefaultConfig(),
		Logger: loggerConfig{Level: "info"},
		HTTP:   httpConfig{Addr: ":8080"},
	}
}

// initConfig loads the YAML config file. A missing file yields defaultConfig.
func initConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.ToUpper(level)))
	return l, err
}

// initLogger sets up the global slog.Logger, JSON or text.
// Logs go to stderr so they do not mix with shell output.
func initLogger(cfg loggerConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("logger level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", "level", level, "json", cfg.JSON)
	return nil
}
