package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Listen:                      "127.0.0.1:7787",
			HeartbeatIntervalSeconds:    30,
			BrowserCheckIntervalSeconds: 60,
			BrowserProcesses:            DefaultBrowserProcesses(),
		},
		Storage: StorageConfig{
			DataDir: "~/.local/share/tabmon",
			File:    "sessions.db",
			Encrypt: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "tabmon.log",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Insecure: true,
		},
		Client: ClientConfig{
			Retries:        2,
			RetryDelayMs:   200,
			TimeoutSeconds: 5,
		},
	}
}

// DefaultBrowserProcesses lists process-name fragments of supported browsers.
func DefaultBrowserProcesses() []string {
	return []string{"chrome", "chromium", "firefox", "brave", "msedge", "vivaldi", "opera"}
}
