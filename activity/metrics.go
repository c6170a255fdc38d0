package activity

import "sort"

const (
	// ProductiveSpanHours is the span length a day must exceed to count.
	ProductiveSpanHours = 6.0
	// HighActivityDays is the minimum number of long days for a reported index.
	HighActivityDays = 4
	// CategoryLimit caps the category distribution.
	CategoryLimit = 6
	// UnknownCategory labels ids without a display name on record.
	UnknownCategory = "unknown"
)

// ComputeProductivityIndex counts spans longer than ProductiveSpanHours.
// Below HighActivityDays the percent is reported as zero; the denominator is
// always seven days.
func ComputeProductivityIndex(spans []DailyActivitySpan) ProductivityIndex {
	count := 0
	for _, span := range spans {
		if span.Hours() > ProductiveSpanHours {
			count++
		}
	}
	if count < HighActivityDays {
		return ProductivityIndex{Count: count}
	}
	return ProductivityIndex{
		Count:        count,
		Percent:      float64(count) / 7 * 100,
		HighActivity: true,
	}
}

// ComputeCategoryDistribution counts events per organizer (falling back to the
// calendar id) and returns the top CategoryLimit entries, highest count first
// with ties kept in encounter order. With seedKnown every listed calendar
// starts at zero in list order, so idle calendars can fill the chart.
func ComputeCategoryDistribution(events []NormalizedEvent, calendars []CalendarInfo, seedKnown bool) []CategoryEntry {
	names := calendarNames(calendars)

	var order []string
	counts := make(map[string]int)
	add := func(id string) {
		if _, ok := counts[id]; !ok {
			order = append(order, id)
			counts[id] = 0
		}
	}

	if seedKnown {
		for _, cal := range calendars {
			add(cal.ID)
		}
	}
	for _, evt := range events {
		id := categoryKey(evt)
		if id == "" {
			continue
		}
		add(id)
		counts[id]++
	}

	entries := make([]CategoryEntry, 0, len(order))
	for _, id := range order {
		name, ok := names[id]
		if !ok || name == "" {
			name = UnknownCategory
		}
		entries = append(entries, CategoryEntry{Category: id, Summary: name, EntryNumber: counts[id]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EntryNumber > entries[j].EntryNumber
	})
	if len(entries) > CategoryLimit {
		entries = entries[:CategoryLimit]
	}
	return entries
}

func categoryKey(evt NormalizedEvent) string {
	if evt.OrganizerID != "" {
		return evt.OrganizerID
	}
	return evt.CalendarID
}

func calendarNames(calendars []CalendarInfo) map[string]string {
	names := make(map[string]string, len(calendars))
	for _, cal := range calendars {
		names[cal.ID] = cal.Summary
	}
	return names
}

func sortTotals(totals []CalendarDurationTotal) {
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].TotalMinutes != totals[j].TotalMinutes {
			return totals[i].TotalMinutes > totals[j].TotalMinutes
		}
		return totals[i].CalendarID < totals[j].CalendarID
	})
}
