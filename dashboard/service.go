package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lookback-cloud/activity"
)

var (
	// ErrUpstream wraps failures of the calendar store; nothing partial is returned.
	ErrUpstream = errors.New("calendar store unavailable")
	// ErrMissingUser is returned when no user id is given.
	ErrMissingUser = errors.New("user id is required")
)

// CalendarReader is the read side of the calendar store.
type CalendarReader interface {
	EventsForUser(ctx context.Context, userID string) ([]activity.CalendarEventBatch, error)
	CalendarList(ctx context.Context, userID string) ([]activity.CalendarInfo, error)
}

// SyncStateReader reports when a user's data was last refreshed.
type SyncStateReader interface {
	LastSynced(ctx context.Context, userID string) (map[string]time.Time, error)
}

// WeeklyActivity holds the active span per weekday for this week and last.
type WeeklyActivity struct {
	Week     activity.WeekWindow          `json:"week"`
	ThisWeek []activity.DailyActivitySpan `json:"this_week"`
	LastWeek []activity.DailyActivitySpan `json:"last_week"`
}

// CalendarTime is the time spent in one calendar this week.
type CalendarTime struct {
	CalendarID   string  `json:"calendar_id"`
	Summary      string  `json:"summary"`
	TotalMinutes float64 `json:"total_minutes"`
}

// Summary bundles every dashboard widget for one user.
type Summary struct {
	UserID       string                     `json:"user_id"`
	Weekly       WeeklyActivity             `json:"weekly_activity"`
	SpendingTime []CalendarTime             `json:"spending_time"`
	Productivity activity.ProductivityIndex `json:"productivity"`
	Categories   []activity.CategoryEntry   `json:"categories"`
	Upcoming     []activity.UpcomingEntry   `json:"upcoming"`
	LastSynced   map[string]time.Time       `json:"last_synced,omitempty"`
}

// Options tunes dashboard computations.
type Options struct {
	// SeedKnownCalendars lists idle calendars at zero in the category chart.
	SeedKnownCalendars bool
}

// Service computes dashboard views from stored calendar data.
type Service struct {
	reader     CalendarReader
	syncState  SyncStateReader
	normalizer *activity.Normalizer
	clock      activity.Clock
	opts       Options
	logger     zerolog.Logger
}

func NewService(reader CalendarReader, normalizer *activity.Normalizer, clock activity.Clock, opts Options, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = activity.SystemClock{}
	}
	svc := &Service{
		reader:     reader,
		normalizer: normalizer,
		clock:      clock,
		opts:       opts,
		logger:     logger.With().Str("component", "dashboard").Logger(),
	}
	if state, ok := reader.(SyncStateReader); ok {
		svc.syncState = state
	}
	return svc
}

// snapshot is one user's data loaded and normalized for a single request.
type snapshot struct {
	calendars []activity.CalendarInfo
	events    []activity.NormalizedEvent
	window    activity.WeekWindow
}

func (s *Service) load(ctx context.Context, userID string) (*snapshot, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	calendars, err := s.reader.CalendarList(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: calendar list for %s: %w", ErrUpstream, userID, err)
	}
	batches, err := s.reader.EventsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: events for %s: %w", ErrUpstream, userID, err)
	}

	snap := &snapshot{
		calendars: calendars,
		events:    s.normalizer.NormalizeAll(batches),
		window:    activity.ComputeWeekWindow(s.clock.Now(), s.normalizer.Location()),
	}
	s.logger.Debug().Str("user_id", userID).Int("calendars", len(calendars)).Int("events", len(snap.events)).Str("week", snap.window.String()).Msg("dashboard data loaded")
	return snap, nil
}

// WeeklyActivity returns the user's own active spans for this and last week.
func (s *Service) WeeklyActivity(ctx context.Context, userID string) (WeeklyActivity, error) {
	snap, err := s.load(ctx, userID)
	if err != nil {
		return WeeklyActivity{}, err
	}
	return s.weekly(userID, snap), nil
}

func (s *Service) weekly(userID string, snap *snapshot) WeeklyActivity {
	return WeeklyActivity{
		Week:     snap.window,
		ThisWeek: activity.ComputeWeeklySpans(userID, snap.events, snap.window),
		LastWeek: activity.ComputeWeeklySpans(userID, snap.events, snap.window.Previous()),
	}
}

// SpendingTime returns minutes per calendar this week, in calendar list order.
func (s *Service) SpendingTime(ctx context.Context, userID string) ([]CalendarTime, error) {
	snap, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.spending(snap), nil
}

func (s *Service) spending(snap *snapshot) []CalendarTime {
	ids := make([]string, 0, len(snap.calendars))
	names := make(map[string]string, len(snap.calendars))
	for _, cal := range snap.calendars {
		ids = append(ids, cal.ID)
		names[cal.ID] = cal.Summary
	}

	grouped := activity.GroupByCalendar(snap.events, ids...)
	totals := activity.ComputeCalendarDurations("", grouped, snap.window)

	out := make([]CalendarTime, 0, len(totals))
	for _, total := range activity.TotalsInOrder(totals, ids) {
		name := names[total.CalendarID]
		if name == "" {
			name = activity.UnknownCategory
		}
		out = append(out, CalendarTime{CalendarID: total.CalendarID, Summary: name, TotalMinutes: total.TotalMinutes})
	}
	return out
}

// Productivity returns this week's productivity index for the user.
func (s *Service) Productivity(ctx context.Context, userID string) (activity.ProductivityIndex, error) {
	snap, err := s.load(ctx, userID)
	if err != nil {
		return activity.ProductivityIndex{}, err
	}
	return activity.ComputeProductivityIndex(activity.ComputeWeeklySpans(userID, snap.events, snap.window)), nil
}

// Categories returns the top calendars/organizers by event count this week.
func (s *Service) Categories(ctx context.Context, userID string) ([]activity.CategoryEntry, error) {
	snap, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.categories(snap), nil
}

func (s *Service) categories(snap *snapshot) []activity.CategoryEntry {
	var week []activity.NormalizedEvent
	for _, evt := range snap.events {
		if snap.window.Contains(evt.Start) {
			week = append(week, evt)
		}
	}
	return activity.ComputeCategoryDistribution(week, snap.calendars, s.opts.SeedKnownCalendars)
}

// Upcoming returns the upcoming schedule list across all calendars.
func (s *Service) Upcoming(ctx context.Context, userID string) ([]activity.UpcomingEntry, error) {
	snap, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return activity.SelectUpcoming(snap.events, snap.calendars), nil
}

// Summary computes every widget from a single load.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	snap, err := s.load(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	weekly := s.weekly(userID, snap)
	summary := Summary{
		UserID:       userID,
		Weekly:       weekly,
		SpendingTime: s.spending(snap),
		Productivity: activity.ComputeProductivityIndex(weekly.ThisWeek),
		Categories:   s.categories(snap),
		Upcoming:     activity.SelectUpcoming(snap.events, snap.calendars),
	}
	if s.syncState != nil {
		state, err := s.syncState.LastSynced(ctx, userID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to read sync state")
		} else if len(state) > 0 {
			summary.LastSynced = state
		}
	}
	return summary, nil
}
