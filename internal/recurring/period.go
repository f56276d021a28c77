// Package recurring materializes instances of recurring templates, at most
// once per template per calendar month.
package recurring

import (
	"time"

	"fintrack/internal/core"
)

// Period is one calendar month, both ends inclusive.
type Period struct {
	Start core.Date
	End   core.Date
}

// PeriodOf returns the calendar month containing d.
func PeriodOf(d core.Date) Period {
	start := core.NewDate(d.Year(), d.Month(), 1)
	return Period{Start: start, End: core.Date{Time: start.AddDate(0, 1, -1)}}
}

// Contains reports whether d falls within p.
func (p Period) Contains(d core.Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) String() string {
	return p.Start.YearMonth()
}

// NextDueDate is the first day of the month following ref's month.
func NextDueDate(ref time.Time) core.Date {
	return core.NewDate(ref.Year(), int(ref.Month())+1, 1)
}

// IsActive reports whether a template should generate instances. Templates
// paused through the legacy description marker count as paused.
func IsActive(template core.Transaction) bool {
	if template.Status == core.StatusPaused {
		return false
	}
	return !core.HasLegacyPauseMarker(template.Description)
}

// InstanceDate places the template's day of month inside p. Days that do
// not exist in the period (31 in April, 29-31 in February) clamp to its
// last day.
func InstanceDate(template core.Transaction, p Period) core.Date {
	day := template.Date.Day()
	if last := p.End.Day(); day > last {
		day = last
	}
	return core.NewDate(p.Start.Year(), p.Start.Month(), day)
}
