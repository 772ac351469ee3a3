// Package timeutil holds date-key and duration helpers shared by the tracker,
// the store and the report layer.
package timeutil

import (
	"fmt"
	"time"
)

// DateKeyLayout is the YYYY-MM-DD layout of session date keys.
const DateKeyLayout = "2006-01-02"

// SystemClock implements domain.Clock with the wall clock.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }

// NowMs returns the current time in milliseconds since the epoch.
func NowMs() int64 { return time.Now().UnixMilli() }

// DateKey returns the local calendar day of ms as YYYY-MM-DD.
func DateKey(ms int64) string {
	return time.UnixMilli(ms).Local().Format(DateKeyLayout)
}

// ParseDateKey validates a YYYY-MM-DD key and returns local midnight of that day.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(DateKeyLayout, key, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	return t, nil
}

// FormatDuration renders ms as HH:MM:SS. Negative input renders as zero.
func FormatDuration(ms int64) string {
	total := ms / 1000
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
