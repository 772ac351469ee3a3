// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/hostname"
	"github.com/eliteGoblin/focusd/tab_mon/internal/timeutil"
)

// InteractionWindowMs caps what a single interaction ping may credit. It
// matches the content script's ping interval.
const InteractionWindowMs int64 = 5000

// finalizeConcurrency bounds parallel persistence during FinalizeAll.
const finalizeConcurrency = 8

// Tracker turns the host's tab lifecycle events into per-tab duration
// accounting. It keeps one TabTimerState per open, non-ignored tab and at
// most one active tab. Finalized sessions are handed to the SessionStore.
//
// State mutation happens under mu; persistence happens after mu is released,
// so the map is always in its post-transition form before any store call.
type Tracker struct {
	store   domain.SessionStore
	host    domain.TabHost
	clock   domain.Clock
	metrics domain.MetricsRecorder
	logger  *zap.Logger

	mu          sync.Mutex
	settings    domain.Settings
	states      map[domain.TabID]*domain.TabTimerState
	activeTabID domain.TabID
}

// NewTracker creates a tracker with default settings. Call Start to load
// persisted settings and bootstrap from the host's open tabs.
func NewTracker(
	store domain.SessionStore,
	host domain.TabHost,
	clock domain.Clock,
	metrics domain.MetricsRecorder,
	logger *zap.Logger,
) *Tracker {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Tracker{
		store:       store,
		host:        host,
		clock:       clock,
		metrics:     metrics,
		logger:      logger,
		settings:    domain.DefaultSettings(),
		states:      make(map[domain.TabID]*domain.TabTimerState),
		activeTabID: domain.TabIDNone,
	}
}

func (t *Tracker) now() int64 {
	return t.clock.Now().UnixMilli()
}

// --- lifecycle ---

// Start loads settings from the store and reconstructs state for every open,
// non-ignored tab. No session records are written for tabs that were already
// open. Safe to call again after a pause or reset.
func (t *Tracker) Start(ctx context.Context) error {
	settings, err := t.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	tabs, err := t.host.QueryTabs(ctx)
	if err != nil {
		t.logger.Warn("failed to enumerate tabs, starting empty", zap.Error(err))
		tabs = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.settings = settings
	if !settings.TrackingEnabled {
		t.logger.Info("tracking disabled, bootstrap skipped")
		return nil
	}

	now := t.now()
	if _, ok := t.states[t.activeTabID]; !ok {
		t.activeTabID = domain.TabIDNone
	}
	for _, tab := range tabs {
		if t.activeTabID != domain.TabIDNone {
			break
		}
		if tab.Active && !t.isIgnoredLocked(tab.URL) {
			t.activeTabID = tab.ID
		}
	}

	created := 0
	for _, tab := range tabs {
		if t.isIgnoredLocked(tab.URL) {
			continue
		}
		if _, exists := t.states[tab.ID]; exists {
			continue
		}
		t.createStateLocked(tab, tab.ID == t.activeTabID, now)
		created++
	}

	t.logger.Info("tracker bootstrapped",
		zap.Int("open_tabs", len(tabs)),
		zap.Int("tracked_tabs", created),
		zap.Int64("active_tab", int64(t.activeTabID)))
	return nil
}

// Resync reconciles live states with the host after a full tab snapshot.
// States of tabs the host no longer reports are finalized with reason
// removed; open, non-ignored tabs without a state get one. If no tab is
// active, the first foreground tab becomes active.
func (t *Tracker) Resync(ctx context.Context) error {
	tabs, err := t.host.QueryTabs(ctx)
	if err != nil {
		return fmt.Errorf("query tabs: %w", err)
	}

	t.mu.Lock()
	if !t.settings.TrackingEnabled {
		t.mu.Unlock()
		return nil
	}

	now := t.now()
	open := make(map[domain.TabID]bool, len(tabs))
	for _, tab := range tabs {
		open[tab.ID] = true
	}

	var records []*domain.SessionRecord
	for id := range t.states {
		if !open[id] {
			records = append(records, t.finalizeLocked(id, domain.ReasonRemoved, now))
		}
	}
	if _, ok := t.states[t.activeTabID]; !ok {
		t.activeTabID = domain.TabIDNone
	}

	for _, tab := range tabs {
		if t.isIgnoredLocked(tab.URL) {
			continue
		}
		if t.activeTabID == domain.TabIDNone && tab.Active {
			t.activeTabID = tab.ID
			if s, ok := t.states[tab.ID]; ok {
				s.Accumulate(domain.StateActive, now)
				continue
			}
		}
		if _, exists := t.states[tab.ID]; !exists {
			t.createStateLocked(tab, tab.ID == t.activeTabID, now)
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, rec := range records {
		errs = append(errs, t.persist(ctx, rec))
	}
	return multierr.Combine(errs...)
}

// Stop finalizes every live session with reason flush.
func (t *Tracker) Stop(ctx context.Context) error {
	return t.FinalizeAll(ctx, domain.ReasonFlush)
}

// Settings returns a copy of the current settings.
func (t *Tracker) Settings() domain.Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.settings
	s.IgnoredSites = append([]string(nil), t.settings.IgnoredSites...)
	return s
}

// ApplySettings replaces the tracker's settings. Live states whose URL is now
// ignored are dropped without being persisted.
func (t *Tracker) ApplySettings(settings domain.Settings) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.settings = settings
	for id, state := range t.states {
		if !t.isIgnoredLocked(state.URL) {
			continue
		}
		delete(t.states, id)
		if t.activeTabID == id {
			t.activeTabID = domain.TabIDNone
		}
		t.logger.Debug("dropped live state for ignored site",
			zap.Int64("tab_id", int64(id)),
			zap.String("domain", state.Domain))
	}
}

// LiveTabs returns copies of every live state and the active tab pointer.
func (t *Tracker) LiveTabs() ([]domain.TabTimerState, domain.TabID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.TabTimerState, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, *s)
	}
	return out, t.activeTabID
}

// --- event handlers ---

// Dispatch routes a host event to its handler.
func (t *Tracker) Dispatch(ctx context.Context, ev domain.BrowserEvent) error {
	var err error
	switch ev.Type {
	case domain.EventTabCreated:
		if ev.Tab == nil {
			return nil
		}
		t.HandleTabCreated(ctx, *ev.Tab)
	case domain.EventTabActivated:
		err = t.HandleTabActivated(ctx, ev.TabID)
	case domain.EventTabUpdated:
		tab := domain.Tab{ID: ev.TabID}
		if ev.Tab != nil {
			tab = *ev.Tab
		}
		err = t.HandleTabUpdated(ctx, ev.TabID, ev.URL, tab)
	case domain.EventTabRemoved:
		err = t.HandleTabRemoved(ctx, ev.TabID)
	case domain.EventWindowFocusChanged:
		err = t.HandleWindowFocusChanged(ctx, ev.WindowID)
	case domain.EventIdleStateChanged:
		t.HandleIdleStateChanged(ev.IdleState)
	case domain.EventTabsSnapshot:
		err = t.Resync(ctx)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	if t.metrics != nil {
		t.metrics.EventProcessed(ctx, ev.Type)
	}
	return err
}

// HandleTabCreated starts tracking a newly opened tab. A foreground tab goes
// through the activation transition so only one state is ever active.
func (t *Tracker) HandleTabCreated(ctx context.Context, tab domain.Tab) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.settings.TrackingEnabled || t.isIgnoredLocked(tab.URL) {
		return
	}

	now := t.now()
	if _, exists := t.states[tab.ID]; exists {
		return
	}
	if tab.Active {
		t.deactivatePreviousLocked(tab.ID, now)
		t.activeTabID = tab.ID
	}
	t.createStateLocked(tab, tab.Active, now)
}

// HandleTabActivated moves focus to tabID. The previous active tab is flushed
// to background. If the tab cannot be resolved or is ignored the active
// pointer is cleared. A missing state is synthesized.
func (t *Tracker) HandleTabActivated(ctx context.Context, tabID domain.TabID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.settings.TrackingEnabled {
		return nil
	}
	t.activateLocked(ctx, tabID, t.now())
	return nil
}

// HandleTabUpdated handles navigation: the prior session is finalized with
// reason navigation and, unless the new URL is ignored, a fresh state starts.
func (t *Tracker) HandleTabUpdated(ctx context.Context, tabID domain.TabID, url string, tab domain.Tab) error {
	if url == "" {
		return nil
	}

	t.mu.Lock()
	if !t.settings.TrackingEnabled {
		t.mu.Unlock()
		return nil
	}
	if prev, ok := t.states[tabID]; ok && prev.URL == url {
		t.mu.Unlock()
		return nil
	}

	now := t.now()
	rec := t.finalizeLocked(tabID, domain.ReasonNavigation, now)

	if !t.isIgnoredLocked(url) {
		tab.ID = tabID
		tab.URL = url
		// The focused tab stays focused across navigation
		active := tab.Active || t.activeTabID == tabID
		if active {
			t.deactivatePreviousLocked(tabID, now)
			t.activeTabID = tabID
		}
		t.createStateLocked(tab, active, now)
	} else if t.activeTabID == tabID {
		t.activeTabID = domain.TabIDNone
	}
	t.mu.Unlock()

	return t.persist(ctx, rec)
}

// HandleTabRemoved finalizes the tab's session with reason removed. While
// tracking is disabled any state is dropped without persisting.
func (t *Tracker) HandleTabRemoved(ctx context.Context, tabID domain.TabID) error {
	t.mu.Lock()
	if !t.settings.TrackingEnabled {
		delete(t.states, tabID)
		if t.activeTabID == tabID {
			t.activeTabID = domain.TabIDNone
		}
		t.mu.Unlock()
		return nil
	}

	rec := t.finalizeLocked(tabID, domain.ReasonRemoved, t.now())
	if t.activeTabID == tabID {
		t.activeTabID = domain.TabIDNone
	}
	t.mu.Unlock()

	return t.persist(ctx, rec)
}

// HandleWindowFocusChanged handles focus moving between windows. Focus leaving
// the browser (WindowIDNone) flushes the active tab to background.
func (t *Tracker) HandleWindowFocusChanged(ctx context.Context, windowID domain.WindowID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.settings.TrackingEnabled {
		return nil
	}

	now := t.now()
	if windowID == domain.WindowIDNone {
		t.deactivatePreviousLocked(domain.TabIDNone, now)
		t.activeTabID = domain.TabIDNone
		return nil
	}

	tab, err := t.host.ActiveTab(ctx, windowID)
	if err != nil {
		t.logger.Debug("active tab lookup failed",
			zap.Int64("window_id", int64(windowID)),
			zap.Error(err))
		return nil
	}
	if tab == nil {
		return nil
	}
	t.activateLocked(ctx, tab.ID, now)
	return nil
}

// HandleIdleStateChanged re-flushes the active tab when the user returns and
// moves it to background when the machine goes idle or locks.
func (t *Tracker) HandleIdleStateChanged(state domain.IdleState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if state == domain.IdleActive {
		if s, ok := t.states[t.activeTabID]; ok {
			s.Accumulate(domain.StateActive, now)
		}
		return
	}

	if s, ok := t.states[t.activeTabID]; ok {
		s.Accumulate(domain.StateBackground, now)
	}
	t.activeTabID = domain.TabIDNone
}

// HandleInteractionPing credits interaction time to tabID: the time since the
// last state change, capped at one ping window and floored at zero.
func (t *Tracker) HandleInteractionPing(tabID domain.TabID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.settings.InteractionTracking {
		return
	}
	s, ok := t.states[tabID]
	if !ok {
		return
	}

	inc := t.now() - s.LastChanged
	if inc > InteractionWindowMs {
		inc = InteractionWindowMs
	}
	if inc > 0 {
		s.InteractionTime += inc
	}
}

// --- finalization ---

// FinalizeSession finalizes and persists one tab. Unknown tabs are a no-op.
func (t *Tracker) FinalizeSession(ctx context.Context, tabID domain.TabID, reason domain.SessionReason) error {
	t.mu.Lock()
	rec := t.finalizeLocked(tabID, reason, t.now())
	t.mu.Unlock()

	return t.persist(ctx, rec)
}

// FinalizeAll finalizes every live state and clears the active pointer. All
// records are persisted concurrently; one failure does not stop the others
// and every failure is returned.
func (t *Tracker) FinalizeAll(ctx context.Context, reason domain.SessionReason) error {
	t.mu.Lock()
	now := t.now()
	records := make([]*domain.SessionRecord, 0, len(t.states))
	for id := range t.states {
		records = append(records, t.finalizeLocked(id, reason, now))
	}
	t.activeTabID = domain.TabIDNone
	t.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	errs := make([]error, len(records))
	var g errgroup.Group
	g.SetLimit(finalizeConcurrency)
	for i, rec := range records {
		g.Go(func() error {
			errs[i] = t.persist(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	err := multierr.Combine(errs...)
	if err != nil {
		t.logger.Error("finalize all: some sessions were not persisted",
			zap.String("reason", string(reason)),
			zap.Int("failed", len(multierr.Errors(err))),
			zap.Int("total", len(records)))
	} else {
		t.logger.Info("finalized all sessions",
			zap.String("reason", string(reason)),
			zap.Int("count", len(records)))
	}
	return err
}

// finalizeLocked flushes the state, removes it and returns its record.
// Returns nil for unknown tabs.
func (t *Tracker) finalizeLocked(tabID domain.TabID, reason domain.SessionReason, now int64) *domain.SessionRecord {
	s, ok := t.states[tabID]
	if !ok {
		return nil
	}

	s.Accumulate(s.State, now)
	rec := &domain.SessionRecord{
		URL:             s.URL,
		Domain:          s.Domain,
		Date:            timeutil.DateKey(s.StartTime),
		OpenTime:        now - s.StartTime,
		ActiveTime:      s.ActiveTime,
		BackgroundTime:  s.BackgroundTime,
		InteractionTime: s.InteractionTime,
		Reason:          reason,
	}
	delete(t.states, tabID)
	return rec
}

// persist stores a finalized record. A nil record is a no-op.
func (t *Tracker) persist(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil {
		return nil
	}

	id, err := t.store.AddSession(ctx, *rec)
	if err != nil {
		t.logger.Warn("failed to persist session",
			zap.String("domain", rec.Domain),
			zap.String("reason", string(rec.Reason)),
			zap.Error(err))
		return fmt.Errorf("persist session for %s: %w", rec.Domain, err)
	}
	rec.ID = id

	t.logger.Debug("session finalized",
		zap.Int64("id", id),
		zap.String("domain", rec.Domain),
		zap.String("reason", string(rec.Reason)),
		zap.Int64("active_ms", rec.ActiveTime),
		zap.Int64("background_ms", rec.BackgroundTime))
	if t.metrics != nil {
		t.metrics.SessionFinalized(ctx, *rec)
	}
	return nil
}

// --- helpers (mu held) ---

func (t *Tracker) isIgnoredLocked(url string) bool {
	return hostname.IsIgnored(url, t.settings.IgnoredSites)
}

func (t *Tracker) createStateLocked(tab domain.Tab, active bool, now int64) *domain.TabTimerState {
	state := domain.StateBackground
	if active {
		state = domain.StateActive
	}
	s := &domain.TabTimerState{
		TabID:       tab.ID,
		URL:         tab.URL,
		Domain:      hostname.Extract(tab.URL),
		StartTime:   now,
		LastChanged: now,
		State:       state,
	}
	t.states[tab.ID] = s
	return s
}

// deactivatePreviousLocked flushes the current active tab to background
// unless it is next.
func (t *Tracker) deactivatePreviousLocked(next domain.TabID, now int64) {
	if t.activeTabID == domain.TabIDNone || t.activeTabID == next {
		return
	}
	if prev, ok := t.states[t.activeTabID]; ok {
		prev.Accumulate(domain.StateBackground, now)
	}
}

func (t *Tracker) activateLocked(ctx context.Context, tabID domain.TabID, now int64) {
	t.deactivatePreviousLocked(tabID, now)
	t.activeTabID = tabID

	tab, err := t.host.GetTab(ctx, tabID)
	if err != nil || tab == nil {
		if err != nil && !errors.Is(err, domain.ErrTabNotFound) {
			t.logger.Debug("tab lookup failed", zap.Int64("tab_id", int64(tabID)), zap.Error(err))
		}
		t.activeTabID = domain.TabIDNone
		return
	}
	if t.isIgnoredLocked(tab.URL) {
		t.activeTabID = domain.TabIDNone
		return
	}

	s, ok := t.states[tabID]
	if !ok {
		s = t.createStateLocked(*tab, true, now)
	}
	s.Accumulate(domain.StateActive, now)
}
