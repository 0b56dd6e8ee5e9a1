package config

const (
	defaultConfigPath          = "~/.config/cloud-session/config.toml"
	defaultDaemonBaseURL       = "http://localhost:8080"
	defaultWebsocketPath       = "/websocket/register-client"
	defaultRequestTimeout      = 30
	defaultReconnectMinBackoff = 1
	defaultReconnectMaxBackoff = 30
	defaultWorkspacePath       = "~/.local/share/cloud-session/workspace.json"
	defaultLogLevel            = "info"
	defaultLogFormat           = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			BaseURL:        defaultDaemonBaseURL,
			WebsocketPath:  defaultWebsocketPath,
			RequestTimeout: defaultRequestTimeout,
		},
		Push: Push{
			ReconnectMinBackoff: defaultReconnectMinBackoff,
			ReconnectMaxBackoff: defaultReconnectMaxBackoff,
		},
		Workspace: Workspace{
			Path: defaultWorkspacePath,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
