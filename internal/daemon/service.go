// Package daemon runs the tabmon event loop and its HTTP bridge.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/messaging"
)

// ErrStopped is returned for work submitted after the event loop exited.
var ErrStopped = errors.New("daemon event loop stopped")

// EventTracker is the tracker surface the event loop drives.
type EventTracker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Dispatch(ctx context.Context, ev domain.BrowserEvent) error
	FinalizeAll(ctx context.Context, reason domain.SessionReason) error
	LiveTabs() ([]domain.TabTimerState, domain.TabID)
}

// TabMirror keeps the daemon's copy of the browser's open tabs.
type TabMirror interface {
	Apply(ev domain.BrowserEvent)
	Len() int
}

// MessageHandler executes UI requests.
type MessageHandler interface {
	Handle(ctx context.Context, req messaging.Request, sender messaging.Sender) any
}

// ServiceConfig holds event loop configuration.
type ServiceConfig struct {
	HeartbeatInterval    time.Duration // How often to update the registry heartbeat
	BrowserCheckInterval time.Duration // How often to check for a running browser, 0 disables
	ShutdownTimeout      time.Duration // Budget for the final flush
}

// DefaultServiceConfig returns default service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		HeartbeatInterval:    30 * time.Second,
		BrowserCheckInterval: 60 * time.Second,
		ShutdownTimeout:      10 * time.Second,
	}
}

// Status is a point-in-time view of the running daemon.
type Status struct {
	PID         int          `json:"pid"`
	StartedAt   int64        `json:"startedAt"`
	OpenTabs    int          `json:"openTabs"`
	LiveTabs    int          `json:"liveTabs"`
	ActiveTabID domain.TabID `json:"activeTabId"`
}

type job struct {
	run  func(ctx context.Context)
	done chan struct{}
}

// Service owns the tracker. Every browser event and UI message runs as a job
// on the single Run goroutine, one at a time, to completion.
type Service struct {
	config   ServiceConfig
	tracker  EventTracker
	tabs     TabMirror
	messages MessageHandler
	registry domain.DaemonRegistry
	monitor  *BrowserMonitor
	daemon   domain.Daemon
	logger   *zap.Logger

	jobs    chan job
	ready   chan struct{}
	stopped chan struct{}
}

// NewService creates the event loop. monitor may be nil.
func NewService(
	config ServiceConfig,
	tracker EventTracker,
	tabs TabMirror,
	messages MessageHandler,
	registry domain.DaemonRegistry,
	monitor *BrowserMonitor,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Service {
	return &Service{
		config:   config,
		tracker:  tracker,
		tabs:     tabs,
		messages: messages,
		registry: registry,
		monitor:  monitor,
		daemon:   daemon,
		logger:   logger,
		jobs:     make(chan job),
		ready:    make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Ready is closed once the tracker has bootstrapped and jobs are accepted.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Run registers the daemon, bootstraps the tracker and processes jobs until
// ctx is canceled. On exit every live session is flushed and the registry
// entry removed.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.stopped)

	if err := s.registry.Register(s.daemon); err != nil {
		s.logger.Error("failed to register daemon", zap.Error(err))
		return err
	}
	defer func() {
		if err := s.registry.Clear(); err != nil {
			s.logger.Warn("failed to clear registry", zap.Error(err))
		}
	}()

	if err := s.tracker.Start(ctx); err != nil {
		s.logger.Error("tracker bootstrap failed", zap.Error(err))
		return err
	}

	s.logger.Info("tabmon daemon started",
		zap.Int("pid", s.daemon.PID),
		zap.String("addr", s.daemon.Addr))
	close(s.ready)

	heartbeatTicker := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	var browserC <-chan time.Time
	if s.monitor != nil && s.config.BrowserCheckInterval > 0 {
		browserTicker := time.NewTicker(s.config.BrowserCheckInterval)
		defer browserTicker.Stop()
		browserC = browserTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tabmon daemon stopping")
			s.shutdown()
			return nil

		case j := <-s.jobs:
			j.run(ctx)
			close(j.done)

		case <-heartbeatTicker.C:
			if err := s.registry.UpdateHeartbeat(); err != nil {
				s.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-browserC:
			s.checkBrowser(ctx)
		}
	}
}

// shutdown flushes live sessions with a fresh context; ctx is already done.
func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.tracker.Stop(ctx); err != nil {
		s.logger.Error("failed to flush sessions on shutdown", zap.Error(err))
	}
}

// checkBrowser flushes tracking when no browser process is left, since the
// extension cannot report tab closes for a browser that has exited.
func (s *Service) checkBrowser(ctx context.Context) {
	if s.monitor.BrowserRunning() {
		return
	}
	live, _ := s.tracker.LiveTabs()
	if len(live) == 0 && s.tabs.Len() == 0 {
		return
	}

	s.logger.Info("no browser running, flushing live sessions", zap.Int("live", len(live)))
	if err := s.tracker.FinalizeAll(ctx, domain.ReasonFlush); err != nil {
		s.logger.Error("flush after browser exit failed", zap.Error(err))
	}
	s.tabs.Apply(domain.BrowserEvent{Type: domain.EventTabsSnapshot})
}

// submit runs fn on the event loop and waits for it to finish.
func (s *Service) submit(ctx context.Context, fn func(ctx context.Context)) error {
	j := job{run: fn, done: make(chan struct{})}

	select {
	case s.jobs <- j:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-j.done:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent mirrors ev into the tab table and dispatches it to the tracker.
func (s *Service) HandleEvent(ctx context.Context, ev domain.BrowserEvent) error {
	var err error
	if serr := s.submit(ctx, func(ctx context.Context) {
		s.tabs.Apply(ev)
		err = s.tracker.Dispatch(ctx, ev)
	}); serr != nil {
		return serr
	}
	return err
}

// HandleMessage runs one UI request.
func (s *Service) HandleMessage(ctx context.Context, req messaging.Request, sender messaging.Sender) (any, error) {
	var result any
	if err := s.submit(ctx, func(ctx context.Context) {
		result = s.messages.Handle(ctx, req, sender)
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Status reports live counters.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.submit(ctx, func(ctx context.Context) {
		live, active := s.tracker.LiveTabs()
		st = Status{
			PID:         s.daemon.PID,
			StartedAt:   s.daemon.StartedAt.UnixMilli(),
			OpenTabs:    s.tabs.Len(),
			LiveTabs:    len(live),
			ActiveTabID: active,
		}
	})
	return st, err
}
