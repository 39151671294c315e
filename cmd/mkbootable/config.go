package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"example.com/mkbootable/internal/common"
)

type logConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type config struct {
	Audit    string    `yaml:"audit"`
	Manifest string    `yaml:"manifest"`
	Report   string    `yaml:"report"`
	SignKey  string    `yaml:"signKey"`
	SignCert string    `yaml:"signCert"`
	Logs     logConfig `yaml:"logs"`
}

// loadConfig reads an optional yaml config. An empty path yields defaults.
// Relative paths are resolved against the config file's directory.
func loadConfig(path string) (config, error) {
	var cfg config
	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
		baseDir := filepath.Dir(path)
		resolvePath := func(p string) string {
			p = strings.TrimSpace(p)
			if p == "" {
				return ""
			}
			if filepath.IsAbs(p) {
				return filepath.Clean(p)
			}
			return filepath.Clean(filepath.Join(baseDir, p))
		}
		cfg.Audit = resolvePath(cfg.Audit)
		cfg.Manifest = resolvePath(cfg.Manifest)
		cfg.Report = resolvePath(cfg.Report)
		cfg.SignKey = resolvePath(cfg.SignKey)
		cfg.SignCert = resolvePath(cfg.SignCert)
		cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 10
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 30
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	return cfg, nil
}

// setupLogging tees diagnostic logs into a rotating file when a log
// directory is configured. It returns nil when file logging is off.
func setupLogging(cfg config) (*lumberjack.Logger, error) {
	if cfg.Logs.Directory == "" {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Logs.Directory, "mkbootable.log"),
		MaxSize:    cfg.Logs.MaxSizeMB,
		MaxAge:     cfg.Logs.MaxAgeDays,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   cfg.Logs.Compress,
	}
	common.SetLogOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator, nil
}
