package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/messaging"
	"github.com/eliteGoblin/focusd/tab_mon/internal/report"
	"github.com/eliteGoblin/focusd/tab_mon/internal/timeutil"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4A90E2")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#874BFD"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderSummary(w io.Writer, s report.TodaySummary) {
	fmt.Fprintln(w, titleStyle.Render("Today "+s.Date))

	totals := newTable("Open", "Active", "Background", "Interaction").
		Row(
			timeutil.FormatDuration(s.Totals.OpenTime),
			timeutil.FormatDuration(s.Totals.ActiveTime),
			timeutil.FormatDuration(s.Totals.BackgroundTime),
			timeutil.FormatDuration(s.Totals.InteractionTime),
		)
	fmt.Fprintln(w, totals.Render())

	if len(s.TopDomains) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No sessions recorded today."))
		return
	}

	top := newTable("Domain", "Active", "Open", "Visits")
	for _, d := range s.TopDomains {
		top.Row(
			d.Domain,
			timeutil.FormatDuration(d.ActiveTime),
			timeutil.FormatDuration(d.OpenTime),
			humanize.Comma(int64(d.Visits)),
		)
	}
	fmt.Fprintln(w, top.Render())
}

func renderSessions(w io.Writer, sessions []domain.SessionRecord) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No sessions."))
		return
	}

	t := newTable("ID", "Date", "Domain", "Active", "Background", "Open", "Reason")
	for _, s := range sessions {
		t.Row(
			strconv.FormatInt(s.ID, 10),
			s.Date,
			s.Domain,
			timeutil.FormatDuration(s.ActiveTime),
			timeutil.FormatDuration(s.BackgroundTime),
			timeutil.FormatDuration(s.OpenTime),
			string(s.Reason),
		)
	}
	fmt.Fprintln(w, t.Render())

	totals := report.SumDurations(sessions)
	fmt.Fprintf(w, "%s sessions, %s active\n",
		humanize.Comma(int64(len(sessions))),
		timeutil.FormatDuration(totals.ActiveTime))
}

func renderLiveTabs(w io.Writer, live messaging.LiveTabs) {
	if len(live.Tabs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No tabs are being tracked."))
		return
	}

	t := newTable("Tab", "Domain", "State", "Active", "Background", "Interaction")
	for _, s := range live.Tabs {
		marker := ""
		if s.TabID == live.ActiveTabID {
			marker = " *"
		}
		t.Row(
			strconv.FormatInt(int64(s.TabID), 10)+marker,
			s.Domain,
			string(s.State),
			timeutil.FormatDuration(s.ActiveTime),
			timeutil.FormatDuration(s.BackgroundTime),
			timeutil.FormatDuration(s.InteractionTime),
		)
	}
	fmt.Fprintln(w, t.Render())
}
