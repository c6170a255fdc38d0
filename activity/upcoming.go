package activity

import (
	"sort"
	"time"
)

// UpcomingLimit caps the upcoming schedule list.
const UpcomingLimit = 5

// SelectUpcoming sorts events by start, latest first, and projects the first
// UpcomingLimit of them. Ties keep their input order. The category is the
// calendar list name for the organizer, then the organizer's display name.
func SelectUpcoming(events []NormalizedEvent, calendars []CalendarInfo) []UpcomingEntry {
	sorted := make([]NormalizedEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.After(sorted[j].Start)
	})
	if len(sorted) > UpcomingLimit {
		sorted = sorted[:UpcomingLimit]
	}

	names := calendarNames(calendars)
	out := make([]UpcomingEntry, 0, len(sorted))
	for _, evt := range sorted {
		out = append(out, UpcomingEntry{
			Time:     evt.Start.Format(time.RFC3339),
			Name:     evt.Summary,
			Category: organizerLabel(evt, names),
		})
	}
	return out
}

func organizerLabel(evt NormalizedEvent, names map[string]string) string {
	if name := names[evt.OrganizerID]; evt.OrganizerID != "" && name != "" {
		return name
	}
	if evt.OrganizerName != "" {
		return evt.OrganizerName
	}
	return UnknownCategory
}
