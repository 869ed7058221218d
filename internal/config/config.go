// Package config loads the coordinator's TOML configuration file and
// supplies defaults for every optional setting.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root of the TOML configuration file.
type Config struct {
	ContentTypes  map[string][]string `toml:"content_types"`
	PresenceTypes map[string][]string `toml:"presence_types"`
	Settings      Settings            `toml:"settings"`
	Network       Network             `toml:"network"`
	TLS           TLS                 `toml:"tls"`
	Database      Database            `toml:"database"`
}

// Settings holds the scalar operational knobs.
type Settings struct {
	LogLevel          string `toml:"log_level"`
	QueueTimeoutSec   int    `toml:"queue_timeout_secs"`
	RequestTimeoutSec int    `toml:"request_timeout_secs"`
}

// Network is the HTTPS listen address.
type Network struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// TLS points at the certificate and key files on disk.
type TLS struct {
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// Database is the Postgres connection block.
type Database struct {
	Address  string `toml:"address"`
	Port     int    `toml:"port"`
	Name     string `toml:"name"`
	User     string `toml:"user,omitempty"`
	Password string `toml:"password,omitempty"`
	SSLMode  string `toml:"ssl_mode,omitempty"`
}

// QueueTimeout returns the configured lease timeout, defaulting to 30s.
func (s Settings) QueueTimeout() time.Duration {
	if s.QueueTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.QueueTimeoutSec) * time.Second
}

// RequestTimeout returns the configured per-request timeout, defaulting to 5s.
func (s Settings) RequestTimeout() time.Duration {
	if s.RequestTimeoutSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.RequestTimeoutSec) * time.Second
}

// DSN renders a libpq connection string for database/sql.Open("postgres", ...).
func (d Database) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		d.Address, d.Port, d.Name, sslModeOrDefault(d.SSLMode))
	if d.User != "" {
		dsn += fmt.Sprintf(" user=%s", d.User)
	}
	if d.Password != "" {
		dsn += fmt.Sprintf(" password=%s", d.Password)
	}
	return dsn
}

func sslModeOrDefault(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}

func defaultConfig() Config {
	return Config{
		ContentTypes:  map[string][]string{},
		PresenceTypes: map[string][]string{},
		Settings: Settings{
			LogLevel:          "INFO",
			QueueTimeoutSec:   30,
			RequestTimeoutSec: 5,
		},
		Network: Network{Address: "0.0.0.0", Port: 8443},
		TLS:     TLS{Cert: "cert.pem", Key: "key.pem"},
		Database: Database{
			Address: "127.0.0.1",
			Port:    5432,
			Name:    "instrumentality",
			SSLMode: "disable",
		},
	}
}

// Load reads and decodes the TOML file at path, applying defaults for any
// field the file omits. If the file does not exist, an example config is
// written alongside it and an error is returned so the caller can exit
// non-zero on first run, per the external-interface contract.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := WriteExample(path); writeErr != nil {
				return nil, fmt.Errorf("config %s missing; failed to write example: %w", path, writeErr)
			}
			return nil, fmt.Errorf("config %s did not exist; example written, please edit and restart", path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// WriteExample writes a fully-populated example configuration file next to
// path, creating parent directories as needed.
func WriteExample(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	example := defaultConfig()
	example.ContentTypes = map[string][]string{
		"PLATFORM_1": {"story", "post"},
	}
	example.PresenceTypes = map[string][]string{
		"PLATFORM_1": {"online", "idle"},
	}

	data, err := toml.Marshal(example)
	if err != nil {
		return fmt.Errorf("marshal example config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
