package activity

// ComputeWeeklySpans folds timed events starting inside window into one span
// per Monday-based weekday. A non-empty userID keeps only events that user
// created. Weekdays without events are omitted; output is Monday first.
func ComputeWeeklySpans(userID string, events []NormalizedEvent, window WeekWindow) []DailyActivitySpan {
	var (
		seen  [7]bool
		spans [7]DailyActivitySpan
	)
	for i := range spans {
		spans[i] = DailyActivitySpan{Weekday: i, StartHour: 24, EndHour: 0}
	}

	for _, evt := range events {
		if evt.AllDay || !createdBy(userID, evt) || !window.Contains(evt.Start) {
			continue
		}
		day := Weekday(evt.Start)
		startHour := FractionalHour(evt.Start)
		endHour := FractionalHour(evt.End)
		if startHour < spans[day].StartHour {
			spans[day].StartHour = startHour
		}
		if endHour > spans[day].EndHour {
			spans[day].EndHour = endHour
		}
		seen[day] = true
	}

	out := make([]DailyActivitySpan, 0, 7)
	for i, ok := range seen {
		if ok {
			out = append(out, spans[i])
		}
	}
	return out
}

// ComputeCalendarDurations sums event minutes per calendar for events whose
// local start or end date falls within the window's dates. Every calendar key
// of eventsByCalendar is present in the result. A non-empty userID applies the
// same creator filter as ComputeWeeklySpans.
func ComputeCalendarDurations(userID string, eventsByCalendar map[string][]NormalizedEvent, window WeekWindow) map[string]float64 {
	totals := make(map[string]float64, len(eventsByCalendar))
	for calendarID, events := range eventsByCalendar {
		total := 0.0
		for _, evt := range events {
			if !createdBy(userID, evt) {
				continue
			}
			if !window.ContainsDate(evt.Start) && !window.ContainsDate(evt.End) {
				continue
			}
			total += evt.Duration().Minutes()
		}
		totals[calendarID] = total
	}
	return totals
}

// GroupByCalendar indexes normalized events by their calendar id. Calendars
// listed in ids are present even when they have no events.
func GroupByCalendar(events []NormalizedEvent, ids ...string) map[string][]NormalizedEvent {
	grouped := make(map[string][]NormalizedEvent, len(ids))
	for _, id := range ids {
		grouped[id] = nil
	}
	for _, evt := range events {
		grouped[evt.CalendarID] = append(grouped[evt.CalendarID], evt)
	}
	return grouped
}

// TotalsInOrder projects a duration map into a slice following order; ids
// missing from order are appended sorted by descending minutes.
func TotalsInOrder(totals map[string]float64, order []string) []CalendarDurationTotal {
	out := make([]CalendarDurationTotal, 0, len(totals))
	placed := make(map[string]bool, len(order))
	for _, id := range order {
		minutes, ok := totals[id]
		if !ok || placed[id] {
			continue
		}
		placed[id] = true
		out = append(out, CalendarDurationTotal{CalendarID: id, TotalMinutes: minutes})
	}
	var rest []CalendarDurationTotal
	for id, minutes := range totals {
		if !placed[id] {
			rest = append(rest, CalendarDurationTotal{CalendarID: id, TotalMinutes: minutes})
		}
	}
	sortTotals(rest)
	return append(out, rest...)
}

func createdBy(userID string, evt NormalizedEvent) bool {
	return userID == "" || evt.CreatorID == userID
}
