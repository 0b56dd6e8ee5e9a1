// Package config loads, normalizes, and validates cloud-session configuration.
//
// It supplies defaults for the local daemon endpoints, the workspace snapshot
// path and logging, expands tilde paths, and reads an optional TOML file.
// Missing files are not an error; the defaults describe a daemon listening on
// the loopback interface.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Daemon holds the loopback endpoints of the credential daemon.
type Daemon struct {
	BaseURL        string `toml:"base_url"`
	WebsocketPath  string `toml:"websocket_path"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Push controls the notification channel.
type Push struct {
	Reconnect           bool `toml:"reconnect"`
	ReconnectMinBackoff int  `toml:"reconnect_min_backoff"`
	ReconnectMaxBackoff int  `toml:"reconnect_max_backoff"`
}

// Workspace locates the local session snapshot.
type Workspace struct {
	Path string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Config encapsulates all configuration values.
type Config struct {
	Daemon    Daemon    `toml:"daemon"`
	Push      Push      `toml:"push"`
	Workspace Workspace `toml:"workspace"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. An empty path
// selects the default location. The returned bool reports whether the file
// existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		path = defaultConfigPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, "", false, err
	}

	exists := true
	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, "", false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// RequestTimeout returns the per-call daemon timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Daemon.RequestTimeout) * time.Second
}

// WebsocketURL derives the push channel URL from the daemon base URL.
func (c *Config) WebsocketURL() string {
	u, err := url.Parse(c.Daemon.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.Daemon.WebsocketPath
	return u.String()
}

// ReconnectBackoff returns the push reconnect bounds.
func (c *Config) ReconnectBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Push.ReconnectMinBackoff) * time.Second,
		time.Duration(c.Push.ReconnectMaxBackoff) * time.Second
}

func (c *Config) normalize() error {
	c.Daemon.BaseURL = strings.TrimRight(strings.TrimSpace(c.Daemon.BaseURL), "/")
	c.Daemon.WebsocketPath = strings.TrimSpace(c.Daemon.WebsocketPath)
	if c.Daemon.WebsocketPath != "" && !strings.HasPrefix(c.Daemon.WebsocketPath, "/") {
		c.Daemon.WebsocketPath = "/" + c.Daemon.WebsocketPath
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	var err error
	if c.Workspace.Path, err = expandPath(strings.TrimSpace(c.Workspace.Path)); err != nil {
		return err
	}
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return err
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
