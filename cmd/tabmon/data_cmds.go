package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/tab_mon/internal/client"
	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/messaging"
	"github.com/eliteGoblin/focusd/tab_mon/internal/report"
	"github.com/eliteGoblin/focusd/tab_mon/internal/timeutil"
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's totals and top domains",
	RunE:  runToday,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	Long:  `Lists sessions whose date falls between --from and --to (inclusive, YYYY-MM-DD).`,
	RunE:  runSessions,
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Show tabs currently being tracked",
	RunE:  runLive,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all sessions as JSON or CSV",
	RunE:  runExport,
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Pause or resume tracking",
	RunE:  runToggle,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change tracking settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print current settings as JSON",
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings",
	Long: `Changes only the settings given as flags. Domains newly added to the
ignore list have their recorded sessions deleted.`,
	RunE: runSettingsSet,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all sessions and restore default settings",
	RunE:  runReset,
}

var deleteDayCmd = &cobra.Command{
	Use:   "delete-day YYYY-MM-DD",
	Short: "Delete all sessions of one day",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteDay,
}

var deleteRangeCmd = &cobra.Command{
	Use:   "delete-range",
	Short: "Delete sessions saved between two days",
	Long: `Deletes sessions saved from the start of --from to the end of --to.
Either bound may be omitted.`,
	RunE: runDeleteRange,
}

var (
	fromDate     string
	toDate       string
	exportFormat string
	exportOutput string
	forceReset   bool

	setIgnored     []string
	setTracking    bool
	setInteraction bool
	setWorkStart   string
	setWorkEnd     string
)

func init() {
	for _, c := range []*cobra.Command{todayCmd, sessionsCmd, liveCmd, settingsGetCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	}
	sessionsCmd.Flags().StringVar(&fromDate, "from", "", "First day (YYYY-MM-DD)")
	sessionsCmd.Flags().StringVar(&toDate, "to", "", "Last day (YYYY-MM-DD)")
	deleteRangeCmd.Flags().StringVar(&fromDate, "from", "", "First day (YYYY-MM-DD)")
	deleteRangeCmd.Flags().StringVar(&toDate, "to", "", "Last day (YYYY-MM-DD)")

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", report.FormatJSON, "Export format (json|csv)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")

	settingsSetCmd.Flags().StringSliceVar(&setIgnored, "ignored-sites", nil, "Replace the ignore list (comma separated)")
	settingsSetCmd.Flags().BoolVar(&setTracking, "tracking", true, "Enable or disable tracking")
	settingsSetCmd.Flags().BoolVar(&setInteraction, "interaction", true, "Enable or disable interaction tracking")
	settingsSetCmd.Flags().StringVar(&setWorkStart, "work-start", "", "Working hours start (HH:MM)")
	settingsSetCmd.Flags().StringVar(&setWorkEnd, "work-end", "", "Working hours end (HH:MM)")
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	resetCmd.Flags().BoolVar(&forceReset, "force", false, "Confirm deleting all data")

	rootCmd.AddCommand(todayCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(deleteDayCmd)
	rootCmd.AddCommand(deleteRangeCmd)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func runToday(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		raw, err := c.Send(ctx, messaging.Request{Type: messaging.TypeGetTodaySummary}, domain.TabIDNone)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), raw)
		}
		var summary report.TodaySummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			return err
		}
		renderSummary(cmd.OutOrStdout(), summary)
		return nil
	})
}

func runSessions(cmd *cobra.Command, args []string) error {
	if err := validateDates(fromDate, toDate); err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *client.Client) error {
		raw, err := c.Send(ctx, messaging.Request{
			Type:      messaging.TypeGetSessions,
			StartDate: fromDate,
			EndDate:   toDate,
		}, domain.TabIDNone)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), raw)
		}
		var sessions []domain.SessionRecord
		if err := json.Unmarshal(raw, &sessions); err != nil {
			return err
		}
		renderSessions(cmd.OutOrStdout(), sessions)
		return nil
	})
}

func runLive(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		raw, err := c.Send(ctx, messaging.Request{Type: messaging.TypeGetLiveTabs}, domain.TabIDNone)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), raw)
		}
		var live messaging.LiveTabs
		if err := json.Unmarshal(raw, &live); err != nil {
			return err
		}
		renderLiveTabs(cmd.OutOrStdout(), live)
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != report.FormatJSON && exportFormat != report.FormatCSV {
		return fmt.Errorf("unsupported export format %q", exportFormat)
	}

	return withClient(func(ctx context.Context, c *client.Client) error {
		raw, err := c.Send(ctx, messaging.Request{Type: messaging.TypeExportData, Format: exportFormat}, domain.TabIDNone)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			defer f.Close()
			out = f
		}

		if exportFormat == report.FormatCSV {
			var text string
			if err := json.Unmarshal(raw, &text); err != nil {
				return err
			}
			_, err = io.WriteString(out, text)
			return err
		}
		return printJSON(out, raw)
	})
}

func runToggle(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		var enabled bool
		if err := c.Call(ctx, messaging.Request{Type: messaging.TypeToggleTracking}, &enabled); err != nil {
			return err
		}
		if enabled {
			fmt.Fprintln(cmd.OutOrStdout(), "Tracking resumed")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Tracking paused")
		}
		return nil
	})
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		raw, err := c.Send(ctx, messaging.Request{Type: messaging.TypeGetSettings}, domain.TabIDNone)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	})
}

// settingsPatchFromFlags builds a patch from the flags the user set.
func settingsPatchFromFlags(cmd *cobra.Command) (domain.SettingsPatch, error) {
	var patch domain.SettingsPatch
	flags := cmd.Flags()

	if flags.Changed("ignored-sites") {
		patch.IgnoredSites = append([]string{}, setIgnored...)
	}
	if flags.Changed("tracking") {
		v := setTracking
		patch.TrackingEnabled = &v
	}
	if flags.Changed("interaction") {
		v := setInteraction
		patch.InteractionTracking = &v
	}
	if flags.Changed("work-start") || flags.Changed("work-end") {
		if setWorkStart == "" || setWorkEnd == "" {
			return patch, errors.New("--work-start and --work-end must be given together")
		}
		for _, v := range []string{setWorkStart, setWorkEnd} {
			if _, err := time.Parse("15:04", v); err != nil {
				return patch, fmt.Errorf("invalid time %q, want HH:MM", v)
			}
		}
		patch.WorkingHours = &domain.WorkingHours{Start: setWorkStart, End: setWorkEnd}
	}
	return patch, nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	patch, err := settingsPatchFromFlags(cmd)
	if err != nil {
		return err
	}

	return withClient(func(ctx context.Context, c *client.Client) error {
		raw, err := c.Send(ctx, messaging.Request{Type: messaging.TypeSaveSettings, Settings: &patch}, domain.TabIDNone)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	if !forceReset {
		return errors.New("this deletes every recorded session; re-run with --force to confirm")
	}
	return withClient(func(ctx context.Context, c *client.Client) error {
		if err := c.Call(ctx, messaging.Request{Type: messaging.TypeResetData}, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All tracking data deleted")
		return nil
	})
}

func runDeleteDay(cmd *cobra.Command, args []string) error {
	dateKey := args[0]
	if _, err := timeutil.ParseDateKey(dateKey); err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *client.Client) error {
		if err := c.Call(ctx, messaging.Request{Type: messaging.TypeDeleteDay, DateKey: dateKey}, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted sessions of %s\n", dateKey)
		return nil
	})
}

func runDeleteRange(cmd *cobra.Command, args []string) error {
	startMs, endMs, err := rangeBounds(fromDate, toDate)
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *client.Client) error {
		req := messaging.Request{Type: messaging.TypeDeleteRange, StartMs: startMs, EndMs: endMs}
		if err := c.Call(ctx, req, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Deleted sessions in range")
		return nil
	})
}

func validateDates(keys ...string) error {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, err := timeutil.ParseDateKey(k); err != nil {
			return err
		}
	}
	return nil
}

// rangeBounds converts local day keys to a creation-time range: from the
// first millisecond of from to the last millisecond of to. Empty keys stay nil.
func rangeBounds(from, to string) (startMs, endMs *int64, err error) {
	if from != "" {
		day, err := timeutil.ParseDateKey(from)
		if err != nil {
			return nil, nil, err
		}
		ms := day.UnixMilli()
		startMs = &ms
	}
	if to != "" {
		day, err := timeutil.ParseDateKey(to)
		if err != nil {
			return nil, nil, err
		}
		ms := day.AddDate(0, 0, 1).UnixMilli() - 1
		endMs = &ms
	}
	if startMs != nil && endMs != nil && *startMs > *endMs {
		return nil, nil, fmt.Errorf("--from %s is after --to %s", from, to)
	}
	return startMs, endMs, nil
}
