package activity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectUpcomingSortsLatestFirst(t *testing.T) {
	loc := seoul(t)
	day := func(month time.Month, d int) time.Time { return time.Date(2024, month, d, 9, 0, 0, 0, loc) }

	events := []NormalizedEvent{
		{ID: "jan", Summary: "New year", Start: day(time.January, 1), End: day(time.January, 1), OrganizerID: "home"},
		{ID: "jun", Summary: "Summer", Start: day(time.June, 1), End: day(time.June, 1), OrganizerID: "guest@x.com", OrganizerName: "Guest"},
		{ID: "mar", Summary: "Spring", Start: day(time.March, 1), End: day(time.March, 1)},
	}
	calendars := []CalendarInfo{{ID: "home", Summary: "Home"}}

	got := SelectUpcoming(events, calendars)
	require.Len(t, got, 3)
	assert.Equal(t, UpcomingEntry{Time: "2024-06-01T09:00:00+09:00", Name: "Summer", Category: "Guest"}, got[0])
	assert.Equal(t, UpcomingEntry{Time: "2024-03-01T09:00:00+09:00", Name: "Spring", Category: UnknownCategory}, got[1])
	assert.Equal(t, UpcomingEntry{Time: "2024-01-01T09:00:00+09:00", Name: "New year", Category: "Home"}, got[2])

	// Input order is untouched.
	assert.Equal(t, "jan", events[0].ID)
}

func TestSelectUpcomingLimitsToFive(t *testing.T) {
	loc := seoul(t)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, loc)
	var events []NormalizedEvent
	for i := 0; i < 8; i++ {
		start := base.AddDate(0, 0, i)
		events = append(events, NormalizedEvent{ID: fmt.Sprint(i), Summary: fmt.Sprint("e", i), Start: start, End: start})
	}

	got := SelectUpcoming(events, nil)
	require.Len(t, got, UpcomingLimit)
	assert.Equal(t, "e7", got[0].Name)
	assert.Equal(t, "e3", got[4].Name)
}

func TestSelectUpcomingEmpty(t *testing.T) {
	assert.Empty(t, SelectUpcoming(nil, nil))
}
