// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

// ManualClock is a domain.Clock that only moves when told to.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualClock creates a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{t: start}
}

// Now returns the current fake time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// EventSink receives the events a FakeBrowser emits.
type EventSink func(ctx context.Context, ev domain.BrowserEvent) error

// FakeBrowser scripts a single-window browser session and emits the
// lifecycle events a real extension would forward.
type FakeBrowser struct {
	mu       sync.Mutex
	sink     EventSink
	windowID domain.WindowID
	nextID   domain.TabID
	tabs     map[domain.TabID]*domain.Tab
	active   domain.TabID
}

// NewFakeBrowser creates a browser with one empty window.
func NewFakeBrowser(sink EventSink) *FakeBrowser {
	return &FakeBrowser{
		sink:     sink,
		windowID: 1,
		nextID:   100,
		tabs:     make(map[domain.TabID]*domain.Tab),
		active:   domain.TabIDNone,
	}
}

// OpenTab opens url in a new tab. A foreground tab becomes the active one.
func (b *FakeBrowser) OpenTab(ctx context.Context, url string, foreground bool) (domain.TabID, error) {
	b.mu.Lock()
	b.nextID++
	tab := &domain.Tab{ID: b.nextID, WindowID: b.windowID, URL: url, Active: foreground}
	b.tabs[tab.ID] = tab
	if foreground {
		b.setActiveLocked(tab.ID)
	}
	ev := domain.BrowserEvent{Type: domain.EventTabCreated, Tab: copyTab(tab)}
	b.mu.Unlock()

	if err := b.sink(ctx, ev); err != nil {
		return 0, err
	}
	return tab.ID, nil
}

// Activate brings tab id to the foreground.
func (b *FakeBrowser) Activate(ctx context.Context, id domain.TabID) error {
	b.mu.Lock()
	b.setActiveLocked(id)
	b.mu.Unlock()

	return b.sink(ctx, domain.BrowserEvent{Type: domain.EventTabActivated, TabID: id, WindowID: b.windowID})
}

// Navigate loads url in tab id.
func (b *FakeBrowser) Navigate(ctx context.Context, id domain.TabID, url string) error {
	b.mu.Lock()
	tab, ok := b.tabs[id]
	if ok {
		tab.URL = url
	}
	ev := domain.BrowserEvent{Type: domain.EventTabUpdated, TabID: id, URL: url, Tab: copyTab(tab)}
	b.mu.Unlock()

	return b.sink(ctx, ev)
}

// Close closes tab id.
func (b *FakeBrowser) Close(ctx context.Context, id domain.TabID) error {
	b.mu.Lock()
	delete(b.tabs, id)
	if b.active == id {
		b.active = domain.TabIDNone
	}
	b.mu.Unlock()

	return b.sink(ctx, domain.BrowserEvent{Type: domain.EventTabRemoved, TabID: id, WindowID: b.windowID})
}

// Blur moves focus away from every browser window.
func (b *FakeBrowser) Blur(ctx context.Context) error {
	return b.sink(ctx, domain.BrowserEvent{Type: domain.EventWindowFocusChanged, WindowID: domain.WindowIDNone})
}

// Focus returns focus to the browser window.
func (b *FakeBrowser) Focus(ctx context.Context) error {
	return b.sink(ctx, domain.BrowserEvent{Type: domain.EventWindowFocusChanged, WindowID: b.windowID})
}

// Idle reports an idle detector transition.
func (b *FakeBrowser) Idle(ctx context.Context, state domain.IdleState) error {
	return b.sink(ctx, domain.BrowserEvent{Type: domain.EventIdleStateChanged, IdleState: state})
}

// Snapshot emits the full tab list, as an extension does on reconnect.
func (b *FakeBrowser) Snapshot(ctx context.Context) error {
	b.mu.Lock()
	tabs := make([]domain.Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		tabs = append(tabs, *t)
	}
	b.mu.Unlock()

	return b.sink(ctx, domain.BrowserEvent{Type: domain.EventTabsSnapshot, Tabs: tabs})
}

func (b *FakeBrowser) setActiveLocked(id domain.TabID) {
	for tid, t := range b.tabs {
		t.Active = tid == id
	}
	b.active = id
}

func copyTab(t *domain.Tab) *domain.Tab {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
