package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

// mockSessionStore implements domain.SessionStore for testing
type mockSessionStore struct {
	mu       sync.Mutex
	sessions []domain.SessionRecord
	settings domain.Settings
	addErr   error
	failURL  string // AddSession fails only for this URL when set
	nextID   int64
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{settings: domain.DefaultSettings()}
}

func (m *mockSessionStore) AddSession(ctx context.Context, rec domain.SessionRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil && (m.failURL == "" || m.failURL == rec.URL) {
		return 0, m.addErr
	}
	m.nextID++
	rec.ID = m.nextID
	m.sessions = append(m.sessions, rec)
	return rec.ID, nil
}

func (m *mockSessionStore) GetSessions(ctx context.Context, r domain.DateRange) ([]domain.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SessionRecord(nil), m.sessions...), nil
}

func (m *mockSessionStore) DeleteSessionsInRange(ctx context.Context, startMs, endMs *int64) (int64, error) {
	return 0, nil
}

func (m *mockSessionStore) DeleteSessionsByDate(ctx context.Context, dateKey string) (int64, error) {
	return 0, nil
}

func (m *mockSessionStore) DeleteSessionsByDomains(ctx context.Context, domains []string) (int64, error) {
	return 0, nil
}

func (m *mockSessionStore) GetSettings(ctx context.Context) (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *mockSessionStore) SaveSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = m.settings.Merge(patch)
	return m.settings, nil
}

func (m *mockSessionStore) ResetAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = nil
	m.settings = domain.DefaultSettings()
	return nil
}

func (m *mockSessionStore) Close() error { return nil }

// byURL returns stored sessions sorted by URL for stable assertions.
func (m *mockSessionStore) byURL() []domain.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.SessionRecord(nil), m.sessions...)
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// mockTabHost implements domain.TabHost for testing
type mockTabHost struct {
	tabs     map[domain.TabID]domain.Tab
	queryErr error
}

func newMockTabHost(tabs ...domain.Tab) *mockTabHost {
	h := &mockTabHost{tabs: make(map[domain.TabID]domain.Tab)}
	for _, tab := range tabs {
		h.tabs[tab.ID] = tab
	}
	return h
}

func (m *mockTabHost) put(tab domain.Tab) { m.tabs[tab.ID] = tab }

func (m *mockTabHost) GetTab(ctx context.Context, id domain.TabID) (*domain.Tab, error) {
	tab, ok := m.tabs[id]
	if !ok {
		return nil, domain.ErrTabNotFound
	}
	return &tab, nil
}

func (m *mockTabHost) ActiveTab(ctx context.Context, windowID domain.WindowID) (*domain.Tab, error) {
	for _, tab := range m.tabs {
		if tab.WindowID == windowID && tab.Active {
			return &tab, nil
		}
	}
	return nil, nil
}

func (m *mockTabHost) QueryTabs(ctx context.Context) ([]domain.Tab, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	out := make([]domain.Tab, 0, len(m.tabs))
	for _, tab := range m.tabs {
		out = append(out, tab)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeClock is a settable clock in milliseconds.
type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms = ms
}

// mockMetrics implements domain.MetricsRecorder for testing
type mockMetrics struct {
	mu        sync.Mutex
	finalized int
	events    []domain.EventType
}

func (m *mockMetrics) SessionFinalized(ctx context.Context, rec domain.SessionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized++
}

func (m *mockMetrics) EventProcessed(ctx context.Context, eventType domain.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

func (m *mockMetrics) Close(ctx context.Context) error { return nil }
