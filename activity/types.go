package activity

import "time"

// Person is the organizer/creator block of a provider event.
type Person struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// EventDateTime carries either an all-day Date ("2006-01-02") or a DateTime
// instant. Exactly one of the two is expected to be set.
type EventDateTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// RawEvent is a calendar event as stored after a provider fetch.
type RawEvent struct {
	ID          string         `json:"id"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Organizer   *Person        `json:"organizer,omitempty"`
	Creator     *Person        `json:"creator,omitempty"`
	Start       *EventDateTime `json:"start,omitempty"`
	End         *EventDateTime `json:"end,omitempty"`
	Sequence    int64          `json:"sequence"`
	Status      string         `json:"status,omitempty"`
	Recurrence  []string       `json:"recurrence,omitempty"`
}

// OrganizerEmail returns the organizer email or "".
func (e RawEvent) OrganizerEmail() string {
	if e.Organizer == nil {
		return ""
	}
	return e.Organizer.Email
}

// CreatorEmail returns the creator email or "".
func (e RawEvent) CreatorEmail() string {
	if e.Creator == nil {
		return ""
	}
	return e.Creator.Email
}

// CalendarEventBatch groups the raw events of one calendar.
type CalendarEventBatch struct {
	CalendarID string     `json:"calendar_id"`
	Events     []RawEvent `json:"events"`
}

// CalendarInfo is one entry of a user's calendar list.
type CalendarInfo struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
}

// NormalizedEvent is a RawEvent with explicit instants in the reference zone.
type NormalizedEvent struct {
	ID            string
	Summary       string
	Start         time.Time
	End           time.Time
	AllDay        bool
	OrganizerID   string
	OrganizerName string
	CreatorID     string
	CalendarID    string
}

// Duration is End - Start.
func (e NormalizedEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// DailyActivitySpan is the earliest start and latest end hour seen on one weekday.
type DailyActivitySpan struct {
	Weekday   int     `json:"day"`
	StartHour float64 `json:"startTime"`
	EndHour   float64 `json:"endTime"`
}

// Hours is the length of the active span.
func (s DailyActivitySpan) Hours() float64 {
	return s.EndHour - s.StartHour
}

// CalendarDurationTotal is the accumulated event time of one calendar.
type CalendarDurationTotal struct {
	CalendarID   string  `json:"calendar_id"`
	TotalMinutes float64 `json:"total_minutes"`
}

// ProductivityIndex counts weekdays with a long active span.
type ProductivityIndex struct {
	Count        int     `json:"count"`
	Percent      float64 `json:"percent"`
	HighActivity bool    `json:"high_activity"`
}

// CategoryEntry is one row of the category distribution chart.
type CategoryEntry struct {
	Category    string `json:"category"`
	Summary     string `json:"summary"`
	EntryNumber int    `json:"entry_number"`
}

// UpcomingEntry is one row of the upcoming schedule list.
type UpcomingEntry struct {
	Time     string `json:"time"`
	Name     string `json:"name"`
	Category string `json:"category"`
}
