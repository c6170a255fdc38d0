package activity

import (
	"fmt"
	"time"
)

// DefaultTimezone is the reference zone used when none is configured.
const DefaultTimezone = "Asia/Seoul"

// WeekWindow spans Monday 00:00:00 through Sunday 23:59:59 in one location.
type WeekWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ComputeWeekWindow returns the week containing now, evaluated in loc.
func ComputeWeekWindow(now time.Time, loc *time.Location) WeekWindow {
	if loc == nil {
		loc = defaultLocation()
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	start := today.AddDate(0, 0, -Weekday(local))
	end := time.Date(start.Year(), start.Month(), start.Day()+6, 23, 59, 59, 0, loc)
	return WeekWindow{Start: start, End: end}
}

// Previous returns the window shifted back exactly seven days.
func (w WeekWindow) Previous() WeekWindow {
	return WeekWindow{
		Start: w.Start.AddDate(0, 0, -7),
		End:   w.End.AddDate(0, 0, -7),
	}
}

// Contains reports whether t lies in [Start, End].
func (w WeekWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ContainsDate reports whether the local calendar date of t lies between the
// window's start and end dates, inclusive.
func (w WeekWindow) ContainsDate(t time.Time) bool {
	loc := w.Start.Location()
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	first := time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, loc)
	last := time.Date(w.End.Year(), w.End.Month(), w.End.Day(), 0, 0, 0, 0, loc)
	return !day.Before(first) && !day.After(last)
}

// String renders the window as "2006-01-02..2006-01-02".
func (w WeekWindow) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(dateLayout), w.End.Format(dateLayout))
}

// LoadLocation resolves a zone name. The default zone falls back to a fixed
// UTC+9 offset when the tz database is unavailable.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultTimezone {
			return time.FixedZone("KST", 9*60*60), nil
		}
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func defaultLocation() *time.Location {
	loc, _ := LoadLocation(DefaultTimezone)
	return loc
}
