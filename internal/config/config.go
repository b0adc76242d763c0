// Package config loads process configuration from defaults, an optional YAML
// file, CERTLEDGER_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete process configuration.
type Config struct {
	Transport   string `yaml:"transport"`
	Addr        string `yaml:"addr"`
	Driver      string `yaml:"driver"`
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Transport: TransportStdio,
		Addr:      ":8081",
		Driver:    DriverSQLite,
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds the configuration for a process started with args (without
// the program name). getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("certledger", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	transport := fs.String("transport", cfg.Transport, "Transport mode: stdio or http")
	port := fs.String("port", "", "HTTP port (only used with --transport http)")
	addr := fs.String("addr", cfg.Addr, "HTTP listen address (only used with --transport http)")
	driver := fs.String("driver", cfg.Driver, "Storage driver: sqlite or postgres")
	dataDir := fs.String("data-dir", cfg.DataDir, "Directory for the SQLite database")
	databaseURL := fs.String("database-url", "", "PostgreSQL connection string")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", cfg.LogFormat, "Log format: text or json")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	path := *configPath
	if path == "" {
		path = getenv("CERTLEDGER_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	if set["transport"] {
		cfg.Transport = *transport
	}
	if set["addr"] {
		cfg.Addr = *addr
	}
	if set["port"] {
		cfg.Addr = ":" + *port
	}
	if set["driver"] {
		cfg.Driver = *driver
	}
	if set["data-dir"] {
		cfg.DataDir = *dataDir
	}
	if set["database-url"] {
		cfg.DatabaseURL = *databaseURL
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if set["log-format"] {
		cfg.LogFormat = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("CERTLEDGER_TRANSPORT", &c.Transport)
	str("CERTLEDGER_ADDR", &c.Addr)
	if p := getenv("PORT"); p != "" {
		c.Addr = ":" + p
	}
	str("CERTLEDGER_DRIVER", &c.Driver)
	str("CERTLEDGER_DATA_DIR", &c.DataDir)
	str("DATABASE_URL", &c.DatabaseURL)
	str("CERTLEDGER_DATABASE_URL", &c.DatabaseURL)
	str("CERTLEDGER_LOG_LEVEL", &c.LogLevel)
	str("CERTLEDGER_LOG_FORMAT", &c.LogFormat)
	return nil
}

// Validate rejects unknown modes and incomplete storage settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (use stdio or http)", c.Transport))
	}
	switch c.Driver {
	case DriverSQLite:
		if c.DataDir == "" {
			errs = append(errs, errors.New("data dir is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q (use sqlite or postgres)", c.Driver))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (use text or json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Logger builds the structured logger described by the config.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
