//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/tab_mon/internal/client"
	"github.com/eliteGoblin/focusd/tab_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/infra"
	"github.com/eliteGoblin/focusd/tab_mon/internal/messaging"
	"github.com/eliteGoblin/focusd/tab_mon/internal/report"
	"github.com/eliteGoblin/focusd/tab_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/tab_mon/test/fixtures"
)

// stack is one daemon wired end to end and reached over HTTP.
type stack struct {
	dir      string
	clock    *fixtures.ManualClock
	store    *infra.SQLSessionStore
	registry *infra.FileRegistry
	client   *client.Client
	browser  *fixtures.FakeBrowser
	server   *httptest.Server
	cancel   context.CancelFunc
	done     chan error
}

func startStack(dir string, store *infra.SQLSessionStore, clock *fixtures.ManualClock) *stack {
	logger := zap.NewNop()
	pm := infra.NewProcessManager()

	tabs := infra.NewTabTable()
	tracker := usecase.NewTracker(store, tabs, clock, infra.NoopRecorder{}, logger)
	facade := messaging.NewFacade(tracker, store, clock, logger)
	registry := infra.NewFileRegistry(dir, pm)

	svc := daemon.NewService(daemon.DefaultServiceConfig(), tracker, tabs, facade, registry, nil,
		domain.Daemon{PID: pm.GetCurrentPID(), Addr: "127.0.0.1:0", StartedAt: time.Now()}, logger)
	server := httptest.NewServer(daemon.NewServer(svc, "test", logger).Handler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	Eventually(svc.Ready()).Should(BeClosed())

	c := client.New(strings.TrimPrefix(server.URL, "http://"), client.DefaultOptions(), logger)

	return &stack{
		dir:      dir,
		clock:    clock,
		store:    store,
		registry: registry,
		client:   c,
		browser:  fixtures.NewFakeBrowser(c.SendEvent),
		server:   server,
		cancel:   cancel,
		done:     done,
	}
}

func (s *stack) stop() {
	s.cancel()
	Eventually(s.done).Should(Receive(BeNil()))
	s.server.Close()
}

func (s *stack) call(req messaging.Request, out any) {
	Expect(s.client.Call(context.Background(), req, out)).To(Succeed())
}

func (s *stack) sessions() []domain.SessionRecord {
	var sessions []domain.SessionRecord
	s.call(messaging.Request{Type: messaging.TypeGetSessions}, &sessions)
	return sessions
}

func (s *stack) advance(ms int64) {
	s.clock.Advance(time.Duration(ms) * time.Millisecond)
}

var _ = Describe("Tab activity tracking", func() {
	var (
		ctx   context.Context
		dir   string
		clock *fixtures.ManualClock
		st    *stack
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		clock = fixtures.NewManualClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.Local))

		store, err := infra.NewPlainSessionStore(ctx, filepath.Join(dir, "sessions.db"), clock)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		st = startStack(dir, store, clock)
	})

	AfterEach(func() {
		if st != nil {
			st.stop()
		}
	})

	It("registers the daemon while running", func() {
		entry, err := st.registry.Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(entry).NotTo(BeNil())
		Expect(entry.PID).To(Equal(os.Getpid()))

		health, err := st.client.Ping(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(health.OK).To(BeTrue())
	})

	Context("when the user switches between tabs", func() {
		It("splits foreground and background time", func() {
			a, err := st.browser.OpenTab(ctx, "https://docs.example.com/guide", true)
			Expect(err).NotTo(HaveOccurred())

			st.advance(10_000)
			b, err := st.browser.OpenTab(ctx, "https://news.example.org/", true)
			Expect(err).NotTo(HaveOccurred())

			st.advance(5_000)
			Expect(st.browser.Close(ctx, a)).To(Succeed())

			st.advance(2_000)
			Expect(st.browser.Close(ctx, b)).To(Succeed())

			sessions := st.sessions()
			Expect(sessions).To(HaveLen(2))

			Expect(sessions[0].Domain).To(Equal("docs.example.com"))
			Expect(sessions[0].ActiveTime).To(Equal(int64(10_000)))
			Expect(sessions[0].BackgroundTime).To(Equal(int64(5_000)))
			Expect(sessions[0].OpenTime).To(Equal(int64(15_000)))
			Expect(sessions[0].Reason).To(Equal(domain.ReasonRemoved))

			Expect(sessions[1].Domain).To(Equal("news.example.org"))
			Expect(sessions[1].ActiveTime).To(Equal(int64(7_000)))
			Expect(sessions[1].Date).To(Equal("2024-03-10"))
		})
	})

	Context("when a tab navigates", func() {
		It("closes the old page's session and starts a new one", func() {
			id, err := st.browser.OpenTab(ctx, "https://a.example.com/", true)
			Expect(err).NotTo(HaveOccurred())

			st.advance(3_000)
			Expect(st.browser.Navigate(ctx, id, "https://b.example.com/")).To(Succeed())

			st.advance(4_000)
			Expect(st.browser.Close(ctx, id)).To(Succeed())

			sessions := st.sessions()
			Expect(sessions).To(HaveLen(2))
			Expect(sessions[0].Reason).To(Equal(domain.ReasonNavigation))
			Expect(sessions[0].ActiveTime).To(Equal(int64(3_000)))
			Expect(sessions[1].Domain).To(Equal("b.example.com"))
			Expect(sessions[1].ActiveTime).To(Equal(int64(4_000)))
		})
	})

	Context("when the browser loses focus", func() {
		It("counts the unfocused time as background", func() {
			id, err := st.browser.OpenTab(ctx, "https://focus.example.com/", true)
			Expect(err).NotTo(HaveOccurred())

			st.advance(1_000)
			Expect(st.browser.Blur(ctx)).To(Succeed())
			st.advance(6_000)
			Expect(st.browser.Focus(ctx)).To(Succeed())
			st.advance(2_000)
			Expect(st.browser.Close(ctx, id)).To(Succeed())

			sessions := st.sessions()
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].ActiveTime).To(Equal(int64(3_000)))
			Expect(sessions[0].BackgroundTime).To(Equal(int64(6_000)))
		})
	})

	Context("when tracking is paused", func() {
		It("finalizes live tabs and ignores events until resumed", func() {
			_, err := st.browser.OpenTab(ctx, "https://paused.example.com/", true)
			Expect(err).NotTo(HaveOccurred())
			st.advance(2_000)

			var enabled bool
			st.call(messaging.Request{Type: messaging.TypeToggleTracking}, &enabled)
			Expect(enabled).To(BeFalse())

			sessions := st.sessions()
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].Reason).To(Equal(domain.ReasonPaused))

			_, err = st.browser.OpenTab(ctx, "https://while-paused.example.com/", true)
			Expect(err).NotTo(HaveOccurred())

			var live messaging.LiveTabs
			st.call(messaging.Request{Type: messaging.TypeGetLiveTabs}, &live)
			Expect(live.Tabs).To(BeEmpty())

			st.call(messaging.Request{Type: messaging.TypeToggleTracking}, &enabled)
			Expect(enabled).To(BeTrue())

			st.call(messaging.Request{Type: messaging.TypeGetLiveTabs}, &live)
			Expect(live.Tabs).To(HaveLen(2))
		})
	})

	Context("when a site is added to the ignore list", func() {
		It("deletes its history and stops tracking it", func() {
			id, err := st.browser.OpenTab(ctx, "https://www.social.example/feed", true)
			Expect(err).NotTo(HaveOccurred())
			st.advance(5_000)
			Expect(st.browser.Close(ctx, id)).To(Succeed())
			Expect(st.sessions()).To(HaveLen(1))

			var settings domain.Settings
			st.call(messaging.Request{
				Type:     messaging.TypeSaveSettings,
				Settings: &domain.SettingsPatch{IgnoredSites: []string{"social.example"}},
			}, &settings)
			Expect(settings.IgnoredSites).To(ConsistOf("social.example"))
			Expect(st.sessions()).To(BeEmpty())

			id, err = st.browser.OpenTab(ctx, "https://m.social.example/", true)
			Expect(err).NotTo(HaveOccurred())
			st.advance(5_000)
			Expect(st.browser.Close(ctx, id)).To(Succeed())
			Expect(st.sessions()).To(BeEmpty())
		})
	})

	It("summarizes today and exports CSV", func() {
		id, err := st.browser.OpenTab(ctx, "https://report.example.com/", true)
		Expect(err).NotTo(HaveOccurred())
		st.advance(60_000)
		Expect(st.browser.Close(ctx, id)).To(Succeed())

		var summary report.TodaySummary
		st.call(messaging.Request{Type: messaging.TypeGetTodaySummary}, &summary)
		Expect(summary.Date).To(Equal("2024-03-10"))
		Expect(summary.Totals.ActiveTime).To(Equal(int64(60_000)))
		Expect(summary.TopDomains).To(HaveLen(1))

		raw, err := st.client.Send(ctx, messaging.Request{Type: messaging.TypeExportData, Format: report.FormatCSV}, domain.TabIDNone)
		Expect(err).NotTo(HaveOccurred())
		var csvText string
		Expect(json.Unmarshal(raw, &csvText)).To(Succeed())
		Expect(csvText).To(ContainSubstring("report.example.com"))
	})

	It("reconciles state from a reconnect snapshot", func() {
		id, err := st.browser.OpenTab(ctx, "https://kept.example.com/", true)
		Expect(err).NotTo(HaveOccurred())
		_, err = st.browser.OpenTab(ctx, "https://gone.example.com/", false)
		Expect(err).NotTo(HaveOccurred())

		// The close of the second tab was lost; the snapshot only lists the first.
		st.advance(1_000)
		Expect(st.client.SendEvent(ctx, domain.BrowserEvent{
			Type: domain.EventTabsSnapshot,
			Tabs: []domain.Tab{{ID: id, WindowID: 1, URL: "https://kept.example.com/", Active: true}},
		})).To(Succeed())

		sessions := st.sessions()
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Domain).To(Equal("gone.example.com"))

		var live messaging.LiveTabs
		st.call(messaging.Request{Type: messaging.TypeGetLiveTabs}, &live)
		Expect(live.Tabs).To(HaveLen(1))
		Expect(live.ActiveTabID).To(Equal(id))
	})

	It("flushes live sessions on shutdown", func() {
		_, err := st.browser.OpenTab(ctx, "https://flush.example.com/", true)
		Expect(err).NotTo(HaveOccurred())
		st.advance(8_000)

		store, registry := st.store, st.registry
		st.stop()
		st = nil

		sessions, err := store.GetSessions(ctx, domain.DateRange{})
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Reason).To(Equal(domain.ReasonFlush))
		Expect(sessions[0].ActiveTime).To(Equal(int64(8_000)))

		entry, err := registry.Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(entry).To(BeNil())
	})
})

var _ = Describe("Encrypted session store", func() {
	It("reopens with the same key and rejects a different one", func() {
		ctx := context.Background()
		dir := GinkgoT().TempDir()
		clock := fixtures.NewManualClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.Local))

		key, err := infra.EnsureKey(infra.NewFileKeyProvider(dir))
		Expect(err).NotTo(HaveOccurred())

		store, err := infra.NewEncryptedSessionStore(ctx, dir, "sessions.db", key, clock)
		Expect(err).NotTo(HaveOccurred())
		st := startStack(dir, store, clock)

		id, err := st.browser.OpenTab(ctx, "https://secret.example.com/", true)
		Expect(err).NotTo(HaveOccurred())
		st.advance(4_000)
		Expect(st.browser.Close(ctx, id)).To(Succeed())
		st.stop()
		Expect(store.Close()).To(Succeed())

		again, err := infra.EnsureKey(infra.NewFileKeyProvider(dir))
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(Equal(key))

		reopened, err := infra.NewEncryptedSessionStore(ctx, dir, "sessions.db", again, clock)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(reopened.Close)

		sessions, err := reopened.GetSessions(ctx, domain.DateRange{})
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Domain).To(Equal("secret.example.com"))

		wrong, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		_, err = infra.NewEncryptedSessionStore(ctx, dir, "sessions.db", wrong, clock)
		Expect(err).To(HaveOccurred())
	})
})
