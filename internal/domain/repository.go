package domain

import (
	"context"
	"time"
)

// SessionStore persists finalized sessions and the settings record.
// Implementation: SQLite (SQLCipher-encrypted or plain) in infra.
type SessionStore interface {
	// AddSession persists a record, stamping CreatedAt. Returns the new ID.
	AddSession(ctx context.Context, rec SessionRecord) (int64, error)

	// GetSessions returns sessions whose date key falls in r (inclusive).
	GetSessions(ctx context.Context, r DateRange) ([]SessionRecord, error)

	// DeleteSessionsInRange deletes by CreatedAt. Nil bounds default to 0 and now.
	DeleteSessionsInRange(ctx context.Context, startMs, endMs *int64) (int64, error)

	// DeleteSessionsByDate deletes every session on dateKey. Empty key is a no-op.
	DeleteSessionsByDate(ctx context.Context, dateKey string) (int64, error)

	// DeleteSessionsByDomains deletes sessions whose stored domain equals one
	// of domains, case-insensitively. An empty list is a no-op.
	DeleteSessionsByDomains(ctx context.Context, domains []string) (int64, error)

	// GetSettings returns the stored settings merged over defaults.
	GetSettings(ctx context.Context) (Settings, error)

	// SaveSettings merges patch over the current settings, persists and returns them.
	SaveSettings(ctx context.Context, patch SettingsPatch) (Settings, error)

	// ResetAll removes all sessions and restores default settings.
	ResetAll(ctx context.Context) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// TabHost answers questions about the browser's currently open tabs.
// Implementation: in-memory mirror fed by the extension's event stream.
type TabHost interface {
	// GetTab returns the tab or ErrTabNotFound.
	GetTab(ctx context.Context, id TabID) (*Tab, error)

	// ActiveTab returns the foreground tab of a window, or nil if none is known.
	ActiveTab(ctx context.Context, windowID WindowID) (*Tab, error)

	// QueryTabs returns every open tab.
	QueryTabs(ctx context.Context) ([]Tab, error)
}

// Clock is the tracker's time source.
type Clock interface {
	Now() time.Time
}

// MetricsRecorder receives tracking telemetry.
// Implementation: OpenTelemetry OTLP exporter, or a no-op.
type MetricsRecorder interface {
	// SessionFinalized records one persisted session.
	SessionFinalized(ctx context.Context, rec SessionRecord)

	// EventProcessed records one dispatched browser event.
	EventProcessed(ctx context.Context, eventType EventType)

	// Close flushes pending metrics.
	Close(ctx context.Context) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Terminate asks a process to exit (SIGTERM) so it can flush.
	Terminate(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry lets the CLI discover the running daemon.
// Implementation: JSON file in the data directory.
type DaemonRegistry interface {
	// Register records the current daemon's PID and address.
	Register(daemon Daemon) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// Get returns the registry state, or nil if no daemon registered.
	Get() (*RegistryEntry, error)

	// IsAlive reports whether the registered daemon PID is running.
	IsAlive() (bool, error)

	// Clear removes the registry record.
	Clear() error

	// Path returns the registry file path.
	Path() string
}

// KeyProvider abstracts the source of the session database key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// AutostartManager installs the daemon as a per-user login service.
// Implementation: launchd LaunchAgent on macOS, systemd user unit on Linux.
type AutostartManager interface {
	// Install writes the service definition and loads it.
	Install(execPath, configPath string) error

	// Uninstall unloads and removes the service definition.
	Uninstall() error

	// IsInstalled checks if the service definition exists.
	IsInstalled() bool

	// NeedsUpdate reports whether the installed definition differs from
	// what Install would write now.
	NeedsUpdate(execPath, configPath string) bool

	// Path returns the service definition file path.
	Path() string
}
