// Package report aggregates finalized sessions for summaries and exports.
package report

import (
	"sort"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/hostname"
	"github.com/eliteGoblin/focusd/tab_mon/internal/timeutil"
)

// DefaultTopDomains is how many domains the today summary lists.
const DefaultTopDomains = 5

// Durations holds the four summed duration fields, in milliseconds.
type Durations struct {
	OpenTime        int64 `json:"openTime"`
	ActiveTime      int64 `json:"activeTime"`
	BackgroundTime  int64 `json:"backgroundTime"`
	InteractionTime int64 `json:"interactionTime"`
}

func (d *Durations) add(s domain.SessionRecord) {
	d.OpenTime += s.OpenTime
	d.ActiveTime += s.ActiveTime
	d.BackgroundTime += s.BackgroundTime
	d.InteractionTime += s.InteractionTime
}

// DomainBucket aggregates sessions of one domain.
type DomainBucket struct {
	Domain string `json:"domain"`
	Durations
	Visits int `json:"visits"`
}

// DateBucket aggregates sessions of one day.
type DateBucket struct {
	Date string `json:"date"`
	Durations
	Visits int `json:"visits"`
}

// Aggregate is the derived summary of a session set. Not persisted.
type Aggregate struct {
	Totals   Durations                `json:"totals"`
	ByDomain map[string]*DomainBucket `json:"byDomain"`
	ByDate   map[string]*DateBucket   `json:"byDate"`
}

// TodaySummary is the popup's view of the current day.
type TodaySummary struct {
	Totals     Durations      `json:"totals"`
	TopDomains []DomainBucket `json:"topDomains"`
	Date       string         `json:"date"`
}

// SumDurations totals every duration field across sessions.
func SumDurations(sessions []domain.SessionRecord) Durations {
	var d Durations
	for _, s := range sessions {
		d.add(s)
	}
	return d
}

// AggregateSessions builds totals plus per-domain and per-date buckets.
// Sessions missing a domain fall back to the URL's domain.
func AggregateSessions(sessions []domain.SessionRecord) Aggregate {
	agg := Aggregate{
		Totals:   SumDurations(sessions),
		ByDomain: make(map[string]*DomainBucket),
		ByDate:   make(map[string]*DateBucket),
	}

	for _, s := range sessions {
		d := s.Domain
		if d == "" {
			d = hostname.Extract(s.URL)
		}
		db, ok := agg.ByDomain[d]
		if !ok {
			db = &DomainBucket{Domain: d}
			agg.ByDomain[d] = db
		}
		db.add(s)
		db.Visits++

		key := s.Date
		if key == "" {
			key = timeutil.DateKey(s.CreatedAt)
		}
		dt, ok := agg.ByDate[key]
		if !ok {
			dt = &DateBucket{Date: key}
			agg.ByDate[key] = dt
		}
		dt.add(s)
		dt.Visits++
	}

	return agg
}

// TopDomains returns up to limit domain buckets ordered by active time,
// ties broken by domain name.
func TopDomains(byDomain map[string]*DomainBucket, limit int) []DomainBucket {
	out := make([]DomainBucket, 0, len(byDomain))
	for _, b := range byDomain {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActiveTime != out[j].ActiveTime {
			return out[i].ActiveTime > out[j].ActiveTime
		}
		return out[i].Domain < out[j].Domain
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortedDates returns the date buckets in ascending date order.
func SortedDates(byDate map[string]*DateBucket) []DateBucket {
	out := make([]DateBucket, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// FilterByDate keeps sessions whose date key lies within [start, end].
// Empty bounds are open.
func FilterByDate(sessions []domain.SessionRecord, start, end string) []domain.SessionRecord {
	out := make([]domain.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		if start != "" && s.Date < start {
			continue
		}
		if end != "" && s.Date > end {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Summarize builds the today summary for dateKey from that day's sessions.
func Summarize(dateKey string, sessions []domain.SessionRecord) TodaySummary {
	agg := AggregateSessions(sessions)
	return TodaySummary{
		Totals:     agg.Totals,
		TopDomains: TopDomains(agg.ByDomain, DefaultTopDomains),
		Date:       dateKey,
	}
}
