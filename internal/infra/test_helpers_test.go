package infra

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	runningPIDs    map[int]bool
	terminatedPIDs []int
	byName         map[string][]int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		byName:      make(map[string][]int),
	}
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	return m.byName[pattern], nil
}

func (m *mockProcessManager) Terminate(pid int) error {
	m.terminatedPIDs = append(m.terminatedPIDs, pid)
	delete(m.runningPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}

// stepClock is a settable test clock.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock(ms int64) *stepClock {
	return &stepClock{t: time.UnixMilli(ms)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) SetMs(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.UnixMilli(ms)
}

// storeBackend opens a session store in dir.
type storeBackend struct {
	name string
	open func(t *testing.T, dir string, clock domain.Clock) *SQLSessionStore
}

// storeBackends lists both drivers so each store test runs against both.
func storeBackends() []storeBackend {
	return []storeBackend{
		{
			name: "sqlcipher",
			open: func(t *testing.T, dir string, clock domain.Clock) *SQLSessionStore {
				key, err := GenerateKey()
				require.NoError(t, err)
				s, err := NewEncryptedSessionStore(context.Background(), dir, "sessions.db", key, clock)
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "modernc",
			open: func(t *testing.T, dir string, clock domain.Clock) *SQLSessionStore {
				s, err := NewPlainSessionStore(context.Background(), filepath.Join(dir, "sessions.db"), clock)
				require.NoError(t, err)
				return s
			},
		},
	}
}

// newTestStore opens a store of the given backend in a temp directory.
func newTestStore(t *testing.T, b storeBackend, clock domain.Clock) *SQLSessionStore {
	t.Helper()
	s := b.open(t, t.TempDir(), clock)
	t.Cleanup(func() { s.Close() })
	return s
}
