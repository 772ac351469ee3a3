package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"url", "domain", "date", "openTime", "activeTime", "backgroundTime", "interactionTime", "reason",
}

// WriteCSV writes sessions as CSV with a header row.
func WriteCSV(w io.Writer, sessions []domain.SessionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range sessions {
		row := []string{
			s.URL,
			s.Domain,
			s.Date,
			strconv.FormatInt(s.OpenTime, 10),
			strconv.FormatInt(s.ActiveTime, 10),
			strconv.FormatInt(s.BackgroundTime, 10),
			strconv.FormatInt(s.InteractionTime, 10),
			string(s.Reason),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes sessions as an indented JSON array.
func WriteJSON(w io.Writer, sessions []domain.SessionRecord) error {
	if sessions == nil {
		sessions = []domain.SessionRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sessions)
}

// Write dispatches on format.
func Write(w io.Writer, format string, sessions []domain.SessionRecord) error {
	switch format {
	case "", FormatJSON:
		return WriteJSON(w, sessions)
	case FormatCSV:
		return WriteCSV(w, sessions)
	default:
		return fmt.Errorf("unsupported export format %q (use json or csv)", format)
	}
}
