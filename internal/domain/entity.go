// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"time"
)

// ErrTabNotFound is returned by a TabHost when the tab is no longer open.
var ErrTabNotFound = errors.New("tab not found")

// TabID identifies a browser tab. Unique among open tabs.
type TabID int64

// WindowID identifies a browser window.
type WindowID int64

const (
	// TabIDNone marks "no active tab".
	TabIDNone TabID = -1
	// WindowIDNone is reported by the host when no browser window has focus.
	WindowIDNone WindowID = -1
)

// TabState is the focus state of a tracked tab.
type TabState string

const (
	StateActive     TabState = "active"
	StateBackground TabState = "background"
)

// SessionReason records why a session was finalized.
type SessionReason string

const (
	ReasonClosed      SessionReason = "closed"
	ReasonNavigation  SessionReason = "navigation"
	ReasonRemoved     SessionReason = "removed"
	ReasonPaused      SessionReason = "paused"
	ReasonReset       SessionReason = "reset"
	ReasonRangeDelete SessionReason = "range-delete"
	ReasonDayDelete   SessionReason = "day-delete"
	ReasonFlush       SessionReason = "flush"
)

// IdleState mirrors the host's idle detector.
type IdleState string

const (
	IdleActive IdleState = "active"
	IdleIdle   IdleState = "idle"
	IdleLocked IdleState = "locked"
)

// Tab is the host's view of an open browser tab.
type Tab struct {
	ID       TabID    `json:"id"`
	WindowID WindowID `json:"windowId"`
	URL      string   `json:"url"`
	Active   bool     `json:"active"` // foreground tab of its window
}

// TabTimerState is the live accumulator for one open, non-ignored tab.
// All times are milliseconds since the Unix epoch; durations are milliseconds.
type TabTimerState struct {
	TabID           TabID    `json:"tabId"`
	URL             string   `json:"url"`
	Domain          string   `json:"domain"`
	StartTime       int64    `json:"startTime"`
	LastChanged     int64    `json:"lastChanged"`
	State           TabState `json:"state"`
	ActiveTime      int64    `json:"activeTime"`
	BackgroundTime  int64    `json:"backgroundTime"`
	InteractionTime int64    `json:"interactionTime"`
}

// Accumulate credits the time since LastChanged to the current state, then
// moves to next. Calling it with next == State flushes pending time and
// resets LastChanged without changing state.
func (s *TabTimerState) Accumulate(next TabState, timestamp int64) {
	delta := timestamp - s.LastChanged

	if s.State == StateActive {
		s.ActiveTime += delta
	} else {
		s.BackgroundTime += delta
	}

	s.State = next
	s.LastChanged = timestamp
}

// SessionRecord is a finalized, persisted tab session. Immutable once stored.
type SessionRecord struct {
	ID              int64         `json:"id,omitempty"`
	URL             string        `json:"url"`
	Domain          string        `json:"domain"`
	Date            string        `json:"date"` // YYYY-MM-DD, local day of session start
	OpenTime        int64         `json:"openTime"`
	ActiveTime      int64         `json:"activeTime"`
	BackgroundTime  int64         `json:"backgroundTime"`
	InteractionTime int64         `json:"interactionTime"`
	Reason          SessionReason `json:"reason"`
	CreatedAt       int64         `json:"createdAt"` // persistence time, ms
}

// WorkingHours is descriptive only; no tracking decision consults it.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Settings is the single process-wide settings record.
type Settings struct {
	IgnoredSites        []string       `json:"ignoredSites"`
	Categories          map[string]any `json:"categories"` // reserved, passed through
	TrackingEnabled     bool           `json:"trackingEnabled"`
	WorkingHours        WorkingHours   `json:"workingHours"`
	InteractionTracking bool           `json:"interactionTracking"`
}

// DefaultSettings returns the settings seeded on first read.
func DefaultSettings() Settings {
	return Settings{
		IgnoredSites:        []string{"unknown", "newtab", "extensions"},
		Categories:          map[string]any{},
		TrackingEnabled:     true,
		WorkingHours:        WorkingHours{Start: "09:00", End: "18:00"},
		InteractionTracking: true,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left untouched.
type SettingsPatch struct {
	IgnoredSites        []string       `json:"ignoredSites,omitempty"`
	Categories          map[string]any `json:"categories,omitempty"`
	TrackingEnabled     *bool          `json:"trackingEnabled,omitempty"`
	WorkingHours        *WorkingHours  `json:"workingHours,omitempty"`
	InteractionTracking *bool          `json:"interactionTracking,omitempty"`
}

// Merge shallow-merges the patch over s and returns the result.
func (s Settings) Merge(p SettingsPatch) Settings {
	out := s
	if p.IgnoredSites != nil {
		out.IgnoredSites = append([]string(nil), p.IgnoredSites...)
	}
	if p.Categories != nil {
		out.Categories = p.Categories
	}
	if p.TrackingEnabled != nil {
		out.TrackingEnabled = *p.TrackingEnabled
	}
	if p.WorkingHours != nil {
		out.WorkingHours = *p.WorkingHours
	}
	if p.InteractionTracking != nil {
		out.InteractionTracking = *p.InteractionTracking
	}
	return out
}

// DateRange bounds a session query by date key (inclusive). Empty means open.
type DateRange struct {
	StartDate string
	EndDate   string
}

// EventType names a browser lifecycle event forwarded by the extension.
type EventType string

const (
	EventTabCreated         EventType = "tab-created"
	EventTabActivated       EventType = "tab-activated"
	EventTabUpdated         EventType = "tab-updated"
	EventTabRemoved         EventType = "tab-removed"
	EventWindowFocusChanged EventType = "window-focus-changed"
	EventIdleStateChanged   EventType = "idle-state-changed"
	EventTabsSnapshot       EventType = "tabs-snapshot"
)

// BrowserEvent is one host lifecycle event. Which fields are set depends on Type.
type BrowserEvent struct {
	Type      EventType `json:"type"`
	Tab       *Tab      `json:"tab,omitempty"`
	TabID     TabID     `json:"tabId,omitempty"`
	WindowID  WindowID  `json:"windowId,omitempty"`
	URL       string    `json:"url,omitempty"` // new URL for tab-updated
	IdleState IdleState `json:"idleState,omitempty"`
	Tabs      []Tab     `json:"tabs,omitempty"` // tabs-snapshot only
}

// Daemon represents the running tabmon daemon process.
type Daemon struct {
	PID        int
	Addr       string // bridge listen address
	StartedAt  time.Time
	AppVersion string
}

// RegistryEntry is the on-disk record the CLI uses to find the daemon.
type RegistryEntry struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	Addr          string `json:"addr"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	AppVersion    string `json:"app_version,omitempty"`
}
