package daemon

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/messaging"
)

// mockTracker records what the event loop drives.
type mockTracker struct {
	mu          sync.Mutex
	startErr    error
	dispatchErr error
	started     int
	stopped     int
	events      []domain.BrowserEvent
	finalized   []domain.SessionReason
	live        []domain.TabTimerState
	active      domain.TabID
}

func newMockTracker() *mockTracker {
	return &mockTracker{active: domain.TabIDNone}
}

func (m *mockTracker) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return m.startErr
}

func (m *mockTracker) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
	m.live = nil
	return nil
}

func (m *mockTracker) Dispatch(ctx context.Context, ev domain.BrowserEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.dispatchErr
}

func (m *mockTracker) FinalizeAll(ctx context.Context, reason domain.SessionReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = append(m.finalized, reason)
	m.live = nil
	m.active = domain.TabIDNone
	return nil
}

func (m *mockTracker) LiveTabs() ([]domain.TabTimerState, domain.TabID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TabTimerState(nil), m.live...), m.active
}

func (m *mockTracker) snapshot() (started, stopped int, events []domain.BrowserEvent, finalized []domain.SessionReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.stopped, append([]domain.BrowserEvent(nil), m.events...), append([]domain.SessionReason(nil), m.finalized...)
}

// mockTabs counts mirrored events.
type mockTabs struct {
	mu      sync.Mutex
	applied []domain.BrowserEvent
	open    int
}

func (m *mockTabs) Apply(ev domain.BrowserEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, ev)
	if ev.Type == domain.EventTabsSnapshot {
		m.open = len(ev.Tabs)
	}
}

func (m *mockTabs) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// mockMessages answers every request with a fixed result.
type mockMessages struct {
	mu       sync.Mutex
	requests []messaging.Request
	senders  []messaging.Sender
	result   any
}

func (m *mockMessages) Handle(ctx context.Context, req messaging.Request, sender messaging.Sender) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.senders = append(m.senders, sender)
	return m.result
}

// mockRegistry is an in-memory DaemonRegistry.
type mockRegistry struct {
	mu          sync.Mutex
	entry       *domain.RegistryEntry
	registerErr error
	heartbeats  int
	cleared     int
	alive       bool
}

var _ domain.DaemonRegistry = (*mockRegistry)(nil)

func (m *mockRegistry) Register(d domain.Daemon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	m.entry = &domain.RegistryEntry{Version: 1, PID: d.PID, Addr: d.Addr, StartedAt: d.StartedAt.Unix()}
	m.alive = true
	return nil
}

func (m *mockRegistry) UpdateHeartbeat() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entry == nil {
		return errors.New("no daemon registered")
	}
	m.heartbeats++
	return nil
}

func (m *mockRegistry) Get() (*domain.RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entry == nil {
		return nil, nil
	}
	e := *m.entry
	return &e, nil
}

func (m *mockRegistry) IsAlive() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive, nil
}

func (m *mockRegistry) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry = nil
	m.alive = false
	m.cleared++
	return nil
}

func (m *mockRegistry) Path() string { return "/tmp/daemon.json" }

func (m *mockRegistry) counts() (heartbeats, cleared int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats, m.cleared
}

// mockProcessManager is a test double for ProcessManager.
type mockProcessManager struct {
	mu         sync.Mutex
	running    map[int]bool
	byName     map[string][]int
	findErr    error
	terminated []int
	exitOnTerm bool
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		running:    make(map[int]bool),
		byName:     make(map[string][]int),
		exitOnTerm: true,
	}
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byName[pattern], nil
}

func (m *mockProcessManager) Terminate(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, pid)
	if m.exitOnTerm {
		delete(m.running, pid)
	}
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[pid] = running
}
