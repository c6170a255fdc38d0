package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lookback-cloud/activity"
	"lookback-cloud/metrics"
)

// Sync kinds accepted by Run and the queue.
const (
	KindCalendars = "calendars"
	KindEvents    = "events"
	KindAll       = "all"
)

// ErrUnknownKind is returned for sync kinds other than the ones above.
var ErrUnknownKind = errors.New("unknown sync kind")

// Source reads calendars and events from the provider.
type Source interface {
	CalendarList(ctx context.Context, userID string) ([]activity.CalendarInfo, error)
	Events(ctx context.Context, userID, calendarID string, from, to time.Time) ([]activity.RawEvent, error)
}

// Store persists what a sync fetched.
type Store interface {
	PutCalendarList(ctx context.Context, userID string, calendars []activity.CalendarInfo) error
	CalendarList(ctx context.Context, userID string) ([]activity.CalendarInfo, error)
	ReplaceEvents(ctx context.Context, userID string, batches []activity.CalendarEventBatch) error
	MarkSynced(ctx context.Context, userID, kind string, at time.Time) error
}

// Options bounds the event window fetched around now.
type Options struct {
	Lookback time.Duration
	Horizon  time.Duration
	// ExpandRecurring expands RRULE masters locally; needed when the source
	// does not return single events.
	ExpandRecurring bool
}

// Result summarizes one sync run.
type Result struct {
	UserID    string   `json:"user_id"`
	Kind      string   `json:"kind"`
	Calendars int      `json:"calendars"`
	Events    int      `json:"events"`
	Failed    []string `json:"failed_calendars,omitempty"`
}

// Syncer pulls a user's calendars and events into the store.
type Syncer struct {
	source     Source
	store      Store
	normalizer *activity.Normalizer
	clock      activity.Clock
	opts       Options
	logger     zerolog.Logger
}

func NewSyncer(source Source, store Store, normalizer *activity.Normalizer, clock activity.Clock, opts Options, logger zerolog.Logger) *Syncer {
	if clock == nil {
		clock = activity.SystemClock{}
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * 24 * time.Hour
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 30 * 24 * time.Hour
	}
	return &Syncer{
		source:     source,
		store:      store,
		normalizer: normalizer,
		clock:      clock,
		opts:       opts,
		logger:     logger.With().Str("component", "syncer").Logger(),
	}
}

// Run dispatches one sync of the given kind.
func (s *Syncer) Run(ctx context.Context, userID, kind string) (Result, error) {
	start := time.Now()
	var (
		res Result
		err error
	)
	switch kind {
	case KindCalendars:
		res, err = s.SyncCalendarList(ctx, userID)
	case KindEvents:
		res, err = s.SyncEvents(ctx, userID)
	case KindAll, "":
		kind = KindAll
		res, err = s.SyncAll(ctx, userID)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	metrics.RecordSync(kind, time.Since(start), err)
	return res, err
}

// SyncCalendarList fetches and stores the user's calendar list.
func (s *Syncer) SyncCalendarList(ctx context.Context, userID string) (Result, error) {
	res := Result{UserID: userID, Kind: KindCalendars}
	calendars, err := s.source.CalendarList(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("fetch calendar list for %s: %w", userID, err)
	}
	if err := s.store.PutCalendarList(ctx, userID, calendars); err != nil {
		return res, fmt.Errorf("store calendar list for %s: %w", userID, err)
	}
	s.markSynced(ctx, userID, KindCalendars)

	res.Calendars = len(calendars)
	s.logger.Info().Str("user_id", userID).Int("calendars", res.Calendars).Msg("calendar list synced")
	return res, nil
}

// SyncEvents replaces the user's stored events with a fresh fetch of every
// listed calendar. A calendar that fails is logged and left out; the run
// fails only when every calendar failed.
func (s *Syncer) SyncEvents(ctx context.Context, userID string) (Result, error) {
	res := Result{UserID: userID, Kind: KindEvents}

	calendars, err := s.store.CalendarList(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("read calendar list for %s: %w", userID, err)
	}
	if len(calendars) == 0 {
		listed, err := s.SyncCalendarList(ctx, userID)
		if err != nil {
			return res, err
		}
		if listed.Calendars == 0 {
			return res, nil
		}
		if calendars, err = s.store.CalendarList(ctx, userID); err != nil {
			return res, fmt.Errorf("read calendar list for %s: %w", userID, err)
		}
	}

	now := s.clock.Now()
	from, to := now.Add(-s.opts.Lookback), now.Add(s.opts.Horizon)

	var (
		batches  []activity.CalendarEventBatch
		firstErr error
	)
	for _, cal := range calendars {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		events, err := s.source.Events(ctx, userID, cal.ID, from, to)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Str("calendar_id", cal.ID).Msg("skipping calendar after fetch failure")
			res.Failed = append(res.Failed, cal.ID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		events = activity.DedupeLatest(events)
		if s.opts.ExpandRecurring && s.normalizer != nil {
			events = s.normalizer.ExpandRecurring(events, from, to)
		}
		batches = append(batches, activity.CalendarEventBatch{CalendarID: cal.ID, Events: events})
		res.Events += len(events)
	}

	if len(batches) == 0 && firstErr != nil {
		return res, fmt.Errorf("fetch events for %s: %w", userID, firstErr)
	}
	if err := s.store.ReplaceEvents(ctx, userID, batches); err != nil {
		return res, fmt.Errorf("store events for %s: %w", userID, err)
	}
	s.markSynced(ctx, userID, KindEvents)

	res.Calendars = len(batches)
	s.logger.Info().Str("user_id", userID).Int("calendars", res.Calendars).Int("events", res.Events).Int("failed", len(res.Failed)).Msg("events synced")
	return res, nil
}

// SyncAll refreshes the calendar list, then the events.
func (s *Syncer) SyncAll(ctx context.Context, userID string) (Result, error) {
	if _, err := s.SyncCalendarList(ctx, userID); err != nil {
		return Result{UserID: userID, Kind: KindAll}, err
	}
	res, err := s.SyncEvents(ctx, userID)
	res.Kind = KindAll
	return res, err
}

func (s *Syncer) markSynced(ctx context.Context, userID, kind string) {
	if err := s.store.MarkSynced(ctx, userID, kind, s.clock.Now()); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Str("kind", kind).Msg("failed to record sync time")
	}
}
