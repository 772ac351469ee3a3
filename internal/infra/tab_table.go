package infra

import (
	"context"
	"sort"
	"sync"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

// TabTable implements domain.TabHost as an in-memory mirror of the browser's
// open tabs. The extension's event stream keeps it current; a tabs-snapshot
// event replaces it wholesale.
type TabTable struct {
	mu   sync.RWMutex
	tabs map[domain.TabID]domain.Tab
}

// NewTabTable creates an empty table.
func NewTabTable() *TabTable {
	return &TabTable{tabs: make(map[domain.TabID]domain.Tab)}
}

// Apply updates the mirror from one browser event. It must run before the
// tracker sees the same event.
func (t *TabTable) Apply(ev domain.BrowserEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case domain.EventTabsSnapshot:
		t.tabs = make(map[domain.TabID]domain.Tab, len(ev.Tabs))
		for _, tab := range ev.Tabs {
			t.tabs[tab.ID] = tab
		}

	case domain.EventTabCreated:
		if ev.Tab == nil {
			return
		}
		t.tabs[ev.Tab.ID] = *ev.Tab
		if ev.Tab.Active {
			t.foregroundLocked(ev.Tab.ID, ev.Tab.WindowID)
		}

	case domain.EventTabActivated:
		tab, ok := t.tabs[ev.TabID]
		if !ok {
			return
		}
		if ev.WindowID != 0 {
			tab.WindowID = ev.WindowID
			t.tabs[ev.TabID] = tab
		}
		t.foregroundLocked(ev.TabID, tab.WindowID)

	case domain.EventTabUpdated:
		tab, ok := t.tabs[ev.TabID]
		if ev.Tab != nil {
			tab = *ev.Tab
			tab.ID = ev.TabID
			ok = true
		}
		if !ok {
			return
		}
		if ev.URL != "" {
			tab.URL = ev.URL
		}
		t.tabs[ev.TabID] = tab
		if tab.Active {
			t.foregroundLocked(tab.ID, tab.WindowID)
		}

	case domain.EventTabRemoved:
		delete(t.tabs, ev.TabID)
	}
}

// foregroundLocked marks id as the only active tab in windowID.
func (t *TabTable) foregroundLocked(id domain.TabID, windowID domain.WindowID) {
	for tid, tab := range t.tabs {
		if tab.WindowID != windowID {
			continue
		}
		tab.Active = tid == id
		t.tabs[tid] = tab
	}
}

// GetTab returns the tab or domain.ErrTabNotFound.
func (t *TabTable) GetTab(ctx context.Context, id domain.TabID) (*domain.Tab, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tab, ok := t.tabs[id]
	if !ok {
		return nil, domain.ErrTabNotFound
	}
	return &tab, nil
}

// ActiveTab returns the foreground tab of windowID, or nil.
func (t *TabTable) ActiveTab(ctx context.Context, windowID domain.WindowID) (*domain.Tab, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, tab := range t.tabs {
		if tab.WindowID == windowID && tab.Active {
			return &tab, nil
		}
	}
	return nil, nil
}

// QueryTabs returns every open tab ordered by ID.
func (t *TabTable) QueryTabs(ctx context.Context) ([]domain.Tab, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Tab, 0, len(t.tabs))
	for _, tab := range t.tabs {
		out = append(out, tab)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of open tabs.
func (t *TabTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tabs)
}

// Ensure TabTable implements domain.TabHost.
var _ domain.TabHost = (*TabTable)(nil)
