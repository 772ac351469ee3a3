// Package messaging maps UI requests onto tracker and store operations.
package messaging

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/hostname"
	"github.com/eliteGoblin/focusd/tab_mon/internal/report"
	"github.com/eliteGoblin/focusd/tab_mon/internal/timeutil"
)

// Request types understood by the façade.
const (
	TypeGetTodaySummary = "get-today-summary"
	TypeGetSessions     = "get-sessions"
	TypeExportData      = "export-data"
	TypeToggleTracking  = "toggle-tracking"
	TypeSaveSettings    = "save-settings"
	TypeGetSettings     = "get-settings"
	TypeResetData       = "reset-data"
	TypeDeleteRange     = "delete-range"
	TypeDeleteDay       = "delete-day"
	TypeInteractionPing = "interaction-ping"
	TypePing            = "ping"
	TypeGetLiveTabs     = "get-live-tabs"
)

// Request is one UI message. Only the fields its Type uses are read.
type Request struct {
	Type      string                `json:"type"`
	StartDate string                `json:"startDate,omitempty"`
	EndDate   string                `json:"endDate,omitempty"`
	Settings  *domain.SettingsPatch `json:"settings,omitempty"`
	StartMs   *int64                `json:"startMs,omitempty"`
	EndMs     *int64                `json:"endMs,omitempty"`
	DateKey   string                `json:"dateKey,omitempty"`
	Format    string                `json:"format,omitempty"`
}

// Sender identifies where a request came from. TabID is zero or negative
// when the request did not originate in a tab.
type Sender struct {
	TabID domain.TabID
}

// OK is the acknowledgement result of side-effecting operations.
type OK struct {
	OK bool `json:"ok"`
}

// ErrorResult is returned in place of a result when an operation fails.
type ErrorResult struct {
	Error string `json:"error"`
}

// LiveTabs is the get-live-tabs result.
type LiveTabs struct {
	Tabs        []domain.TabTimerState `json:"tabs"`
	ActiveTabID domain.TabID           `json:"activeTabId"`
}

// Tracker is the subset of the tab tracker the façade drives.
type Tracker interface {
	Start(ctx context.Context) error
	FinalizeAll(ctx context.Context, reason domain.SessionReason) error
	ApplySettings(settings domain.Settings)
	Settings() domain.Settings
	HandleInteractionPing(tabID domain.TabID)
	LiveTabs() ([]domain.TabTimerState, domain.TabID)
}

// Facade executes requests. It is not safe for concurrent use; the daemon
// serializes calls together with browser events.
type Facade struct {
	tracker Tracker
	store   domain.SessionStore
	clock   domain.Clock
	logger  *zap.Logger
}

// NewFacade creates a façade over tracker and store.
func NewFacade(tracker Tracker, store domain.SessionStore, clock domain.Clock, logger *zap.Logger) *Facade {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Facade{
		tracker: tracker,
		store:   store,
		clock:   clock,
		logger:  logger,
	}
}

// Handle runs one request and returns a JSON-serializable result. Failures
// and panics come back as ErrorResult; an unknown type yields nil.
func (f *Facade) Handle(ctx context.Context, req Request, sender Sender) (result any) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("message handler panicked",
				zap.String("type", req.Type),
				zap.Any("panic", r))
			result = ErrorResult{Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	res, err := f.handle(ctx, req, sender)
	if err != nil {
		f.logger.Error("message handling failed",
			zap.String("type", req.Type),
			zap.Error(err))
		return ErrorResult{Error: err.Error()}
	}
	return res
}

func (f *Facade) handle(ctx context.Context, req Request, sender Sender) (any, error) {
	switch req.Type {
	case TypeGetTodaySummary:
		return f.todaySummary(ctx)
	case TypeGetSessions:
		return f.store.GetSessions(ctx, domain.DateRange{StartDate: req.StartDate, EndDate: req.EndDate})
	case TypeExportData:
		return f.export(ctx, req.Format)
	case TypeToggleTracking:
		return f.toggleTracking(ctx)
	case TypeSaveSettings:
		return f.saveSettings(ctx, req.Settings)
	case TypeGetSettings:
		return f.tracker.Settings(), nil
	case TypeResetData:
		return f.resetData(ctx)
	case TypeDeleteRange:
		return f.deleteRange(ctx, req.StartMs, req.EndMs)
	case TypeDeleteDay:
		return f.deleteDay(ctx, req.DateKey)
	case TypeInteractionPing:
		if sender.TabID > 0 {
			f.tracker.HandleInteractionPing(sender.TabID)
		}
		return OK{OK: true}, nil
	case TypePing:
		return OK{OK: true}, nil
	case TypeGetLiveTabs:
		tabs, active := f.tracker.LiveTabs()
		return LiveTabs{Tabs: tabs, ActiveTabID: active}, nil
	default:
		f.logger.Debug("unknown message type", zap.String("type", req.Type))
		return nil, nil
	}
}

func (f *Facade) todaySummary(ctx context.Context) (report.TodaySummary, error) {
	dateKey := timeutil.DateKey(f.clock.Now().UnixMilli())
	sessions, err := f.store.GetSessions(ctx, domain.DateRange{StartDate: dateKey, EndDate: dateKey})
	if err != nil {
		return report.TodaySummary{}, err
	}
	return report.Summarize(dateKey, sessions), nil
}

// export returns every session as a list (json) or as CSV text.
func (f *Facade) export(ctx context.Context, format string) (any, error) {
	sessions, err := f.store.GetSessions(ctx, domain.DateRange{})
	if err != nil {
		return nil, err
	}

	switch format {
	case "", report.FormatJSON:
		return sessions, nil
	case report.FormatCSV:
		var buf bytes.Buffer
		if err := report.WriteCSV(&buf, sessions); err != nil {
			return nil, err
		}
		return buf.String(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// toggleTracking pauses (finalize, then persist disabled) or resumes
// (persist enabled, then bootstrap). Returns the new enabled flag.
func (f *Facade) toggleTracking(ctx context.Context) (bool, error) {
	enable := !f.tracker.Settings().TrackingEnabled

	if !enable {
		if err := f.tracker.FinalizeAll(ctx, domain.ReasonPaused); err != nil {
			return false, fmt.Errorf("pause tracking: %w", err)
		}
	}

	settings, err := f.store.SaveSettings(ctx, domain.SettingsPatch{TrackingEnabled: &enable})
	if err != nil {
		return false, err
	}
	f.tracker.ApplySettings(settings)

	if enable {
		if err := f.tracker.Start(ctx); err != nil {
			return false, fmt.Errorf("resume tracking: %w", err)
		}
	}

	f.logger.Info("tracking toggled", zap.Bool("enabled", settings.TrackingEnabled))
	return settings.TrackingEnabled, nil
}

// saveSettings persists patch and reconciles the tracker with the result.
// Sessions of domains newly added to the ignore list are deleted.
func (f *Facade) saveSettings(ctx context.Context, patch *domain.SettingsPatch) (domain.Settings, error) {
	if patch == nil {
		patch = &domain.SettingsPatch{}
	}
	prev := f.tracker.Settings()

	disabling := patch.TrackingEnabled != nil && !*patch.TrackingEnabled && prev.TrackingEnabled
	if disabling {
		if err := f.tracker.FinalizeAll(ctx, domain.ReasonPaused); err != nil {
			return domain.Settings{}, fmt.Errorf("pause tracking: %w", err)
		}
	}

	settings, err := f.store.SaveSettings(ctx, *patch)
	if err != nil {
		return domain.Settings{}, err
	}
	f.tracker.ApplySettings(settings)

	if !prev.TrackingEnabled && settings.TrackingEnabled {
		if err := f.tracker.Start(ctx); err != nil {
			return domain.Settings{}, fmt.Errorf("resume tracking: %w", err)
		}
	}

	if patch.IgnoredSites != nil {
		added := newlyIgnored(prev.IgnoredSites, patch.IgnoredSites)
		if len(added) > 0 {
			n, err := f.store.DeleteSessionsByDomains(ctx, added)
			if err != nil {
				return domain.Settings{}, err
			}
			f.logger.Info("deleted sessions of newly ignored sites",
				zap.Strings("domains", added),
				zap.Int64("deleted", n))
		}
	}
	return settings, nil
}

// newlyIgnored returns the normalized rules in next that prev lacked.
func newlyIgnored(prev, next []string) []string {
	seen := make(map[string]bool, len(prev))
	for _, r := range prev {
		seen[hostname.NormalizeRule(r)] = true
	}

	var added []string
	for _, r := range next {
		n := hostname.NormalizeRule(r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		added = append(added, n)
	}
	return added
}

func (f *Facade) resetData(ctx context.Context) (OK, error) {
	if err := f.tracker.FinalizeAll(ctx, domain.ReasonReset); err != nil {
		return OK{}, fmt.Errorf("finalize before reset: %w", err)
	}
	if err := f.store.ResetAll(ctx); err != nil {
		return OK{}, err
	}
	settings, err := f.store.GetSettings(ctx)
	if err != nil {
		return OK{}, err
	}
	f.tracker.ApplySettings(settings)
	if err := f.tracker.Start(ctx); err != nil {
		return OK{}, err
	}

	f.logger.Info("all tracking data reset")
	return OK{OK: true}, nil
}

func (f *Facade) deleteRange(ctx context.Context, startMs, endMs *int64) (OK, error) {
	if err := f.tracker.FinalizeAll(ctx, domain.ReasonRangeDelete); err != nil {
		return OK{}, fmt.Errorf("finalize before delete: %w", err)
	}
	n, err := f.store.DeleteSessionsInRange(ctx, startMs, endMs)
	if err != nil {
		return OK{}, err
	}
	f.logger.Info("deleted sessions in range", zap.Int64("deleted", n))
	return OK{OK: true}, nil
}

func (f *Facade) deleteDay(ctx context.Context, dateKey string) (OK, error) {
	if err := f.tracker.FinalizeAll(ctx, domain.ReasonDayDelete); err != nil {
		return OK{}, fmt.Errorf("finalize before delete: %w", err)
	}
	if dateKey == "" {
		return OK{OK: true}, nil
	}
	n, err := f.store.DeleteSessionsByDate(ctx, dateKey)
	if err != nil {
		return OK{}, err
	}
	f.logger.Info("deleted sessions for day", zap.String("date", dateKey), zap.Int64("deleted", n))
	return OK{OK: true}, nil
}
