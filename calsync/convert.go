package calsync

import (
	"google.golang.org/api/calendar/v3"

	"lookback-cloud/activity"
)

const statusCancelled = "cancelled"

// ConvertEvent maps a Calendar API event onto a RawEvent. Cancelled events
// report false.
func ConvertEvent(event *calendar.Event) (activity.RawEvent, bool) {
	if event == nil || event.Status == statusCancelled {
		return activity.RawEvent{}, false
	}
	raw := activity.RawEvent{
		ID:          event.Id,
		Summary:     event.Summary,
		Description: event.Description,
		Start:       convertDateTime(event.Start),
		End:         convertDateTime(event.End),
		Sequence:    event.Sequence,
		Status:      event.Status,
		Recurrence:  event.Recurrence,
	}
	if event.Organizer != nil {
		raw.Organizer = &activity.Person{Email: event.Organizer.Email, DisplayName: event.Organizer.DisplayName}
	}
	if event.Creator != nil {
		raw.Creator = &activity.Person{Email: event.Creator.Email, DisplayName: event.Creator.DisplayName}
	}
	return raw, true
}

func convertDateTime(dt *calendar.EventDateTime) *activity.EventDateTime {
	if dt == nil {
		return nil
	}
	return &activity.EventDateTime{
		Date:     dt.Date,
		DateTime: dt.DateTime,
		TimeZone: dt.TimeZone,
	}
}

// ConvertCalendar keeps the fields the dashboard needs from a calendar list entry.
func ConvertCalendar(entry *calendar.CalendarListEntry) activity.CalendarInfo {
	summary := entry.Summary
	if entry.SummaryOverride != "" {
		summary = entry.SummaryOverride
	}
	return activity.CalendarInfo{
		ID:          entry.Id,
		Summary:     summary,
		Description: entry.Description,
	}
}
