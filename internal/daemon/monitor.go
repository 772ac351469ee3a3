package daemon

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

// BrowserMonitor checks whether any supported browser process is running.
type BrowserMonitor struct {
	processManager domain.ProcessManager
	processes      []string
	logger         *zap.Logger
}

// NewBrowserMonitor creates a monitor for the given process-name fragments.
func NewBrowserMonitor(pm domain.ProcessManager, processes []string, logger *zap.Logger) *BrowserMonitor {
	return &BrowserMonitor{
		processManager: pm,
		processes:      processes,
		logger:         logger,
	}
}

// BrowserRunning reports whether a browser process exists. Lookup errors
// count as running so a flaky process table never triggers a flush.
func (m *BrowserMonitor) BrowserRunning() bool {
	if len(m.processes) == 0 {
		return true
	}
	for _, name := range m.processes {
		pids, err := m.processManager.FindByName(name)
		if err != nil {
			m.logger.Debug("process lookup failed", zap.String("process", name), zap.Error(err))
			return true
		}
		if len(pids) > 0 {
			return true
		}
	}
	return false
}
