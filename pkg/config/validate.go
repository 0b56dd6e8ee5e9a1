package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validatePush(); err != nil {
		return err
	}
	if c.Workspace.Path == "" {
		return errors.New("workspace.path must be set")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateDaemon() error {
	u, err := url.Parse(c.Daemon.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("daemon.base_url is not a valid URL: %q", c.Daemon.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("daemon.base_url must use http or https, got %q", u.Scheme)
	}
	if !isLoopback(u.Hostname()) {
		return fmt.Errorf("daemon.base_url must point at the loopback interface, got %q", u.Hostname())
	}
	if c.Daemon.WebsocketPath == "" {
		return errors.New("daemon.websocket_path must be set")
	}
	if c.Daemon.RequestTimeout <= 0 {
		return errors.New("daemon.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validatePush() error {
	if c.Push.ReconnectMinBackoff <= 0 || c.Push.ReconnectMaxBackoff <= 0 {
		return errors.New("push reconnect backoff values must be positive")
	}
	if c.Push.ReconnectMinBackoff > c.Push.ReconnectMaxBackoff {
		return errors.New("push.reconnect_min_backoff must not exceed push.reconnect_max_backoff")
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
