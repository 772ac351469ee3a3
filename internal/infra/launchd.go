package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

// LaunchdLabel is the launchd label and systemd unit name of the daemon.
const LaunchdLabel = "com.focusd.tabmon"

// LaunchAgent plist template (runs as user)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{.ConfigPath}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

// systemd user unit template
const systemdUnitTemplate = `[Unit]
Description=tabmon browser tab activity tracker ({{.Label}})

[Service]
ExecStart="{{.ExecutablePath}}" serve --config "{{.ConfigPath}}"
Restart=on-failure
RestartSec=10
StandardError=append:{{.ErrorLogPath}}

[Install]
WantedBy=default.target
`

type serviceConfig struct {
	Label          string
	ExecutablePath string
	ConfigPath     string
	ErrorLogPath   string
}

// ServiceKind selects the service manager flavor.
type ServiceKind string

const (
	ServiceLaunchd ServiceKind = "launchd"
	ServiceSystemd ServiceKind = "systemd"
)

// commandRunner runs a service manager command. Replaced in tests.
type commandRunner func(name string, args ...string) error

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// LaunchdManagerImpl implements domain.AutostartManager.
type LaunchdManagerImpl struct {
	kind     ServiceKind
	unitPath string
	errorLog string
	runner   commandRunner
}

// NewAutostartManager picks launchd on macOS and systemd elsewhere.
// errorLog receives the daemon's stderr.
func NewAutostartManager(errorLog string) (*LaunchdManagerImpl, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return NewLaunchdManager(ServiceLaunchd,
			filepath.Join(home, "Library/LaunchAgents", LaunchdLabel+".plist"), errorLog), nil
	}
	return NewLaunchdManager(ServiceSystemd,
		filepath.Join(home, ".config/systemd/user", LaunchdLabel+".service"), errorLog), nil
}

// NewLaunchdManager creates a manager writing its definition to unitPath.
func NewLaunchdManager(kind ServiceKind, unitPath, errorLog string) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{
		kind:     kind,
		unitPath: unitPath,
		errorLog: errorLog,
		runner:   runCommand,
	}
}

// generateContent renders the service definition.
func (m *LaunchdManagerImpl) generateContent(execPath, configPath string) ([]byte, error) {
	tmplStr := launchAgentTemplate
	if m.kind == ServiceSystemd {
		tmplStr = systemdUnitTemplate
	}

	config := serviceConfig{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		ConfigPath:     configPath,
		ErrorLogPath:   m.errorLog,
	}

	tmpl, err := template.New("service").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute service template: %w", err)
	}

	return buf.Bytes(), nil
}

// Install writes the definition and loads it.
func (m *LaunchdManagerImpl) Install(execPath, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(m.unitPath), 0755); err != nil {
		return err
	}

	content, err := m.generateContent(execPath, configPath)
	if err != nil {
		return err
	}

	// Unload a stale definition first (ignore errors if not loaded)
	if m.IsInstalled() {
		_ = m.unload()
	}

	if err := os.WriteFile(m.unitPath, content, 0644); err != nil {
		return err
	}
	return m.load()
}

// Uninstall unloads and removes the definition.
func (m *LaunchdManagerImpl) Uninstall() error {
	// Unload first (ignore errors if not loaded)
	_ = m.unload()

	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if m.kind == ServiceSystemd {
		_ = m.runner("systemctl", "--user", "daemon-reload")
	}
	return nil
}

// IsInstalled checks if the definition file exists.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate checks if the definition exists but has different content than expected.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath, configPath string) bool {
	if !m.IsInstalled() {
		return false // Doesn't exist, needs install not update
	}

	currentContent, err := os.ReadFile(m.unitPath)
	if err != nil {
		return true // Can't read, assume needs update
	}

	expectedContent, err := m.generateContent(execPath, configPath)
	if err != nil {
		return true
	}

	return !bytes.Equal(currentContent, expectedContent)
}

// Path returns the definition file path.
func (m *LaunchdManagerImpl) Path() string {
	return m.unitPath
}

// Kind returns the service manager flavor.
func (m *LaunchdManagerImpl) Kind() ServiceKind {
	return m.kind
}

// load registers the definition with the service manager.
// Note: `launchctl load` is deprecated but still works on macOS.
func (m *LaunchdManagerImpl) load() error {
	if m.kind == ServiceSystemd {
		if err := m.runner("systemctl", "--user", "daemon-reload"); err != nil {
			return fmt.Errorf("systemctl daemon-reload: %w", err)
		}
		if err := m.runner("systemctl", "--user", "enable", "--now", LaunchdLabel+".service"); err != nil {
			return fmt.Errorf("systemctl enable: %w", err)
		}
		return nil
	}
	if err := m.runner("launchctl", "load", m.unitPath); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}
	return nil
}

// unload stops the service and removes it from the service manager.
func (m *LaunchdManagerImpl) unload() error {
	if m.kind == ServiceSystemd {
		return m.runner("systemctl", "--user", "disable", "--now", LaunchdLabel+".service")
	}
	return m.runner("launchctl", "unload", m.unitPath)
}

// Ensure LaunchdManagerImpl implements domain.AutostartManager.
var _ domain.AutostartManager = (*LaunchdManagerImpl)(nil)
