package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

// ErrNotRunning is returned when no live daemon is registered.
var ErrNotRunning = errors.New("tabmon daemon is not running")

// pollInterval is how often registry state is re-read while waiting.
var pollInterval = 100 * time.Millisecond

// StartDetached spawns "tabmon serve" as a detached process.
// The daemon runs independently of the calling terminal.
func StartDetached(configPath string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}

	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(executable, args...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - the daemon logs to its own file
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// Reap nothing; the child outlives us.
	_ = cmd.Process.Release()
	return pid, nil
}

// WaitUntilAlive polls the registry until a live daemon is registered.
func WaitUntilAlive(ctx context.Context, registry domain.DaemonRegistry) (*domain.RegistryEntry, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		alive, err := registry.IsAlive()
		if err == nil && alive {
			return registry.Get()
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("daemon did not come up: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// StopDaemon asks the registered daemon to exit and waits for it to go away.
// The daemon flushes its live sessions on SIGTERM before exiting.
func StopDaemon(ctx context.Context, registry domain.DaemonRegistry, pm domain.ProcessManager) error {
	entry, err := registry.Get()
	if err != nil {
		return err
	}
	if entry == nil || !pm.IsRunning(entry.PID) {
		if entry != nil {
			_ = registry.Clear()
		}
		return ErrNotRunning
	}

	if err := pm.Terminate(entry.PID); err != nil {
		return fmt.Errorf("terminate daemon %d: %w", entry.PID, err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for pm.IsRunning(entry.PID) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon %d still running: %w", entry.PID, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
