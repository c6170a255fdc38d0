package calsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lookback-cloud/activity"
	"lookback-cloud/store"
)

func newTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})

	cleanup := func() {
		_ = client.Close()
		server.Close()
	}

	return client, cleanup
}

type fakeSource struct {
	calendars []activity.CalendarInfo
	events    map[string][]activity.RawEvent
	failing   map[string]error
	listErr   error
	windows   [][2]time.Time
}

func (f *fakeSource) CalendarList(ctx context.Context, userID string) ([]activity.CalendarInfo, error) {
	return f.calendars, f.listErr
}

func (f *fakeSource) Events(ctx context.Context, userID, calendarID string, from, to time.Time) ([]activity.RawEvent, error) {
	f.windows = append(f.windows, [2]time.Time{from, to})
	if err := f.failing[calendarID]; err != nil {
		return nil, err
	}
	return f.events[calendarID], nil
}

func timedEvent(id string, seq int64, start, end string) activity.RawEvent {
	return activity.RawEvent{
		ID:       id,
		Sequence: seq,
		Start:    &activity.EventDateTime{DateTime: start},
		End:      &activity.EventDateTime{DateTime: end},
	}
}

func newTestSyncer(t *testing.T, source Source, st Store, opts Options) *Syncer {
	t.Helper()
	loc, err := activity.LoadLocation("")
	require.NoError(t, err)
	clock := activity.FixedClock{At: time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)}
	return NewSyncer(source, st, activity.NewNormalizer(loc, zerolog.Nop()), clock, opts, zerolog.Nop())
}

func TestSyncAllStoresListAndEvents(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	st := store.NewCalendarStore(client, zerolog.Nop())
	source := &fakeSource{
		calendars: []activity.CalendarInfo{{ID: "primary", Summary: "Me"}, {ID: "work", Summary: "Work"}},
		events: map[string][]activity.RawEvent{
			"primary": {
				timedEvent("a", 0, "2024-01-08T09:00:00+09:00", "2024-01-08T10:00:00+09:00"),
				timedEvent("a", 2, "2024-01-08T11:00:00+09:00", "2024-01-08T12:00:00+09:00"),
			},
		},
	}
	s := newTestSyncer(t, source, st, Options{Lookback: 7 * 24 * time.Hour, Horizon: 24 * time.Hour})

	res, err := s.Run(ctx, "me@example.com", KindAll)
	require.NoError(t, err)
	assert.Equal(t, Result{UserID: "me@example.com", Kind: KindAll, Calendars: 2, Events: 1}, res)

	calendars, err := st.CalendarList(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, source.calendars, calendars)

	batches, err := st.EventsForUser(ctx, "me@example.com")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Len(t, batches[0].Events, 1)
	assert.EqualValues(t, 2, batches[0].Events[0].Sequence)
	assert.Empty(t, batches[1].Events)

	require.NotEmpty(t, source.windows)
	now := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(-7*24*time.Hour), source.windows[0][0])
	assert.Equal(t, now.Add(24*time.Hour), source.windows[0][1])

	state, err := st.LastSynced(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Contains(t, state, KindCalendars)
	assert.Contains(t, state, KindEvents)
}

func TestSyncEventsSkipsFailingCalendar(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	st := store.NewCalendarStore(client, zerolog.Nop())
	require.NoError(t, st.PutCalendarList(ctx, "me@example.com", []activity.CalendarInfo{{ID: "primary"}, {ID: "broken"}}))
	require.NoError(t, st.ReplaceEvents(ctx, "me@example.com", []activity.CalendarEventBatch{{CalendarID: "stale"}}))

	source := &fakeSource{
		events: map[string][]activity.RawEvent{
			"primary": {timedEvent("a", 0, "2024-01-08T09:00:00+09:00", "2024-01-08T10:00:00+09:00")},
		},
		failing: map[string]error{"broken": errors.New("403 forbidden")},
	}
	s := newTestSyncer(t, source, st, Options{})

	res, err := s.SyncEvents(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, res.Failed)
	assert.Equal(t, 1, res.Calendars)

	batches, err := st.EventsForUser(ctx, "me@example.com")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "primary", batches[0].CalendarID)
}

func TestSyncEventsFailsWhenEveryCalendarFails(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	st := store.NewCalendarStore(client, zerolog.Nop())
	require.NoError(t, st.PutCalendarList(ctx, "me@example.com", []activity.CalendarInfo{{ID: "primary"}}))
	require.NoError(t, st.ReplaceEvents(ctx, "me@example.com", []activity.CalendarEventBatch{{
		CalendarID: "primary",
		Events:     []activity.RawEvent{{ID: "kept"}},
	}}))

	boom := errors.New("backend down")
	s := newTestSyncer(t, &fakeSource{failing: map[string]error{"primary": boom}}, st, Options{})

	_, err := s.SyncEvents(ctx, "me@example.com")
	assert.ErrorIs(t, err, boom)

	batches, err := st.EventsForUser(ctx, "me@example.com")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "kept", batches[0].Events[0].ID)
}

func TestSyncEventsExpandsRecurringMasters(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	st := store.NewCalendarStore(client, zerolog.Nop())
	require.NoError(t, st.PutCalendarList(ctx, "me@example.com", []activity.CalendarInfo{{ID: "primary"}}))

	master := timedEvent("gym", 0, "2024-01-01T07:00:00+09:00", "2024-01-01T08:00:00+09:00")
	master.Recurrence = []string{"RRULE:FREQ=DAILY;COUNT=30"}
	source := &fakeSource{events: map[string][]activity.RawEvent{"primary": {master}}}

	s := newTestSyncer(t, source, st, Options{Lookback: 2 * 24 * time.Hour, Horizon: 24 * time.Hour, ExpandRecurring: true})
	res, err := s.SyncEvents(ctx, "me@example.com")
	require.NoError(t, err)
	// Now is 2024-01-10 12:00 KST; the window covers 01-08 12:00 .. 01-11 12:00.
	assert.Equal(t, 3, res.Events)

	batches, err := st.EventsForUser(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "gym_20240108T220000Z", batches[0].Events[0].ID)
}

func TestSyncerRejectsUnknownKind(t *testing.T) {
	s := newTestSyncer(t, &fakeSource{}, nil, Options{})
	_, err := s.Run(context.Background(), "me@example.com", "everything")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSyncCalendarListPropagatesSourceError(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()

	boom := errors.New("no token")
	s := newTestSyncer(t, &fakeSource{listErr: boom}, store.NewCalendarStore(client, zerolog.Nop()), Options{})
	_, err := s.SyncAll(context.Background(), "me@example.com")
	assert.ErrorIs(t, err, boom)
}
