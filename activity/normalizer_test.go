package activity

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := LoadLocation(DefaultTimezone)
	require.NoError(t, err)
	return loc
}

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return NewNormalizer(seoul(t), zerolog.Nop())
}

func timed(id, start, end string) RawEvent {
	return RawEvent{
		ID:    id,
		Start: &EventDateTime{DateTime: start},
		End:   &EventDateTime{DateTime: end},
	}
}

func allDay(id, start, end string) RawEvent {
	return RawEvent{
		ID:    id,
		Start: &EventDateTime{Date: start},
		End:   &EventDateTime{Date: end},
	}
}

func TestNormalizeTimedEvent(t *testing.T) {
	n := newTestNormalizer(t)
	raw := timed("evt-1", "2024-01-08T09:00:00+09:00", "2024-01-08T11:30:00+09:00")
	raw.Summary = "Standup"
	raw.Organizer = &Person{Email: "team@example.com", DisplayName: "Team"}
	raw.Creator = &Person{Email: "me@example.com"}

	evt, err := n.Normalize(raw, "primary")
	require.NoError(t, err)

	assert.Equal(t, 0, Weekday(evt.Start))
	assert.InDelta(t, 9.0, FractionalHour(evt.Start), 1e-9)
	assert.InDelta(t, 11.5, FractionalHour(evt.End), 1e-9)
	assert.Equal(t, 150*time.Minute, evt.Duration())
	assert.False(t, evt.AllDay)
	assert.Equal(t, "team@example.com", evt.OrganizerID)
	assert.Equal(t, "Team", evt.OrganizerName)
	assert.Equal(t, "me@example.com", evt.CreatorID)
	assert.Equal(t, "primary", evt.CalendarID)
}

func TestNormalizeConvertsToReferenceZone(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name      string
		start     string
		wantHour  int
		wantDay   int
		wantMonth time.Month
	}{
		{name: "utc designator", start: "2024-01-08T00:00:00Z", wantHour: 9, wantDay: 8, wantMonth: time.January},
		{name: "explicit offset", start: "2024-01-07T20:00:00-05:00", wantHour: 10, wantDay: 8, wantMonth: time.January},
		{name: "fractional seconds", start: "2024-01-08T01:15:30.250Z", wantHour: 10, wantDay: 8, wantMonth: time.January},
		{name: "naive local", start: "2024-01-08T14:00:00", wantHour: 14, wantDay: 8, wantMonth: time.January},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := n.Normalize(timed("x", tc.start, "2024-01-09T23:00:00+09:00"), "cal")
			require.NoError(t, err)
			assert.Equal(t, tc.wantHour, evt.Start.Hour())
			assert.Equal(t, tc.wantDay, evt.Start.Day())
			assert.Equal(t, tc.wantMonth, evt.Start.Month())
			assert.Equal(t, n.Location(), evt.Start.Location())
		})
	}
}

func TestNormalizeNaiveDateTimeUsesEventZone(t *testing.T) {
	n := newTestNormalizer(t)
	raw := timed("x", "2024-01-08T09:00:00", "2024-01-08T10:00:00")
	raw.Start.TimeZone = "UTC"
	raw.End.TimeZone = "UTC"

	evt, err := n.Normalize(raw, "cal")
	require.NoError(t, err)
	assert.Equal(t, 18, evt.Start.Hour())
	assert.Equal(t, 19, evt.End.Hour())
}

func TestNormalizeAllDayEndIsInclusive(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name      string
		start     string
		end       string
		wantStart string
		wantEnd   string
	}{
		{name: "single day", start: "2024-01-10", end: "2024-01-11", wantStart: "2024-01-10", wantEnd: "2024-01-10"},
		{name: "three days", start: "2024-01-10", end: "2024-01-13", wantStart: "2024-01-10", wantEnd: "2024-01-12"},
		{name: "month boundary", start: "2024-01-31", end: "2024-02-01", wantStart: "2024-01-31", wantEnd: "2024-01-31"},
		{name: "degenerate end", start: "2024-01-10", end: "2024-01-10", wantStart: "2024-01-10", wantEnd: "2024-01-10"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := n.Normalize(allDay("x", tc.start, tc.end), "cal")
			require.NoError(t, err)
			assert.True(t, evt.AllDay)
			assert.Equal(t, tc.wantStart, evt.Start.Format(dateLayout))
			assert.Equal(t, tc.wantEnd, evt.End.Format(dateLayout))
			assert.True(t, isMidnight(evt.Start))
			assert.True(t, isMidnight(evt.End))
			assert.False(t, evt.End.Before(evt.Start))
		})
	}
}

func TestNormalizeMidnightEndMovesToPreviousDay(t *testing.T) {
	n := newTestNormalizer(t)

	evt, err := n.Normalize(timed("late", "2024-01-08T22:00:00+09:00", "2024-01-09T00:00:00+09:00"), "cal")
	require.NoError(t, err)
	assert.Equal(t, 8, evt.End.Day())
	assert.Equal(t, 23, evt.End.Hour())
	assert.Equal(t, 59, evt.End.Minute())
	assert.Equal(t, 59, evt.End.Second())

	// A zero-length event at midnight must not end before it starts.
	evt, err = n.Normalize(timed("zero", "2024-01-09T00:00:00+09:00", "2024-01-09T00:00:00+09:00"), "cal")
	require.NoError(t, err)
	assert.Equal(t, evt.Start, evt.End)
}

func TestNormalizeRejectsBadEvents(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name    string
		raw     RawEvent
		wantErr error
	}{
		{name: "no start", raw: RawEvent{ID: "a", End: &EventDateTime{Date: "2024-01-02"}}, wantErr: ErrMissingTime},
		{name: "empty start", raw: RawEvent{ID: "b", Start: &EventDateTime{}, End: &EventDateTime{Date: "2024-01-02"}}, wantErr: ErrMissingTime},
		{name: "garbage datetime", raw: timed("c", "yesterday", "2024-01-08T10:00:00+09:00"), wantErr: ErrMalformedEvent},
		{name: "garbage date", raw: allDay("d", "2024-13-45", "2024-01-02"), wantErr: ErrMalformedEvent},
		{name: "end before start", raw: timed("e", "2024-01-08T10:00:00+09:00", "2024-01-08T09:00:00+09:00"), wantErr: ErrMalformedEvent},
		{name: "mixed representation", raw: RawEvent{ID: "f", Start: &EventDateTime{DateTime: "2024-01-08T10:00:00+09:00"}, End: &EventDateTime{Date: "2024-01-09"}}, wantErr: ErrMalformedEvent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(tc.raw, "cal")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestNormalizeBatchSkipsAndReports(t *testing.T) {
	var reasons []string
	n := newTestNormalizer(t).WithSkipHook(func(reason string) {
		reasons = append(reasons, reason)
	})

	batch := CalendarEventBatch{
		CalendarID: "work",
		Events: []RawEvent{
			timed("ok-1", "2024-01-08T09:00:00+09:00", "2024-01-08T10:00:00+09:00"),
			timed("bad", "not-a-time", "2024-01-08T10:00:00+09:00"),
			{ID: "missing"},
			allDay("ok-2", "2024-01-09", "2024-01-10"),
		},
	}

	events := n.NormalizeBatch(batch)
	require.Len(t, events, 2)
	assert.Equal(t, "ok-1", events[0].ID)
	assert.Equal(t, "ok-2", events[1].ID)
	for _, evt := range events {
		assert.Equal(t, "work", evt.CalendarID)
	}
	assert.Equal(t, []string{SkipMalformed, SkipMissingTime}, reasons)
}

func TestNormalizeAllEmptyInput(t *testing.T) {
	n := newTestNormalizer(t)
	assert.Empty(t, n.NormalizeAll(nil))
	assert.Empty(t, n.NormalizeAll([]CalendarEventBatch{{CalendarID: "empty"}}))
}

func TestFractionalHourTruncatesSeconds(t *testing.T) {
	ts := time.Date(2024, 1, 8, 13, 45, 59, 0, time.UTC)
	assert.InDelta(t, 13.75, FractionalHour(ts), 1e-9)
}

func TestWeekdayIsMondayBased(t *testing.T) {
	monday := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		assert.Equal(t, i, Weekday(monday.AddDate(0, 0, i)))
	}
}
