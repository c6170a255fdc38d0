package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	dateLayout          = "2006-01-02"
	naiveDateTimeLayout = "2006-01-02T15:04:05"
)

var (
	// ErrMalformedEvent marks an event whose date/time fields cannot be parsed.
	ErrMalformedEvent = errors.New("malformed calendar event")
	// ErrMissingTime marks an event without usable start/end information.
	ErrMissingTime = errors.New("calendar event has no usable start/end")
)

// Skip reasons reported to the skip hook.
const (
	SkipMalformed   = "malformed"
	SkipMissingTime = "missing_time"
	// SkipRecurrence counts masters kept unexpanded because their rule is unreadable.
	SkipRecurrence = "unexpanded_recurrence"
)

// Normalizer converts raw provider events into NormalizedEvents in a fixed zone.
// It holds no per-call state and is safe for concurrent use.
type Normalizer struct {
	loc    *time.Location
	logger zerolog.Logger
	onSkip func(reason string)
}

// NewNormalizer returns a normalizer for the reference location.
func NewNormalizer(loc *time.Location, logger zerolog.Logger) *Normalizer {
	if loc == nil {
		loc = defaultLocation()
	}
	return &Normalizer{
		loc:    loc,
		logger: logger.With().Str("component", "normalizer").Logger(),
	}
}

// WithSkipHook registers fn to be called once per skipped event.
func (n *Normalizer) WithSkipHook(fn func(reason string)) *Normalizer {
	n.onSkip = fn
	return n
}

// Location is the reference zone events are converted into.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize maps one raw event. It returns an error wrapping ErrMalformedEvent
// or ErrMissingTime when the event must be skipped.
func (n *Normalizer) Normalize(raw RawEvent, calendarID string) (NormalizedEvent, error) {
	if raw.Start == nil || raw.End == nil {
		return NormalizedEvent{}, fmt.Errorf("event %s: %w", raw.ID, ErrMissingTime)
	}

	var (
		start, end time.Time
		allDay     bool
		err        error
	)

	switch {
	case raw.Start.DateTime != "":
		start, end, err = n.timedBounds(raw)
	case raw.Start.Date != "":
		allDay = true
		start, end, err = n.allDayBounds(raw)
	default:
		return NormalizedEvent{}, fmt.Errorf("event %s: %w", raw.ID, ErrMissingTime)
	}
	if err != nil {
		return NormalizedEvent{}, err
	}

	normalized := NormalizedEvent{
		ID:          raw.ID,
		Summary:     raw.Summary,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		OrganizerID: raw.OrganizerEmail(),
		CreatorID:   raw.CreatorEmail(),
		CalendarID:  calendarID,
	}
	if raw.Organizer != nil {
		normalized.OrganizerName = raw.Organizer.DisplayName
	}
	return normalized, nil
}

// NormalizeBatch normalizes every event of one calendar, logging and skipping
// the ones that fail.
func (n *Normalizer) NormalizeBatch(batch CalendarEventBatch) []NormalizedEvent {
	out := make([]NormalizedEvent, 0, len(batch.Events))
	for _, raw := range batch.Events {
		evt, err := n.Normalize(raw, batch.CalendarID)
		if err != nil {
			n.skip(raw, batch.CalendarID, err)
			continue
		}
		out = append(out, evt)
	}
	return out
}

// NormalizeAll flattens and normalizes a set of calendar batches in order.
func (n *Normalizer) NormalizeAll(batches []CalendarEventBatch) []NormalizedEvent {
	var out []NormalizedEvent
	for _, batch := range batches {
		out = append(out, n.NormalizeBatch(batch)...)
	}
	return out
}

func (n *Normalizer) skip(raw RawEvent, calendarID string, err error) {
	reason := SkipMalformed
	if errors.Is(err, ErrMissingTime) {
		reason = SkipMissingTime
		n.logger.Debug().Str("event_id", raw.ID).Str("calendar_id", calendarID).Msg("skipping event without start/end")
	} else {
		n.logger.Warn().Err(err).Str("event_id", raw.ID).Str("calendar_id", calendarID).Msg("skipping malformed calendar event")
	}
	if n.onSkip != nil {
		n.onSkip(reason)
	}
}

func (n *Normalizer) timedBounds(raw RawEvent) (time.Time, time.Time, error) {
	if raw.End.DateTime == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s: timed start with all-day end: %w", raw.ID, ErrMalformedEvent)
	}
	start, err := n.parseInstant(raw.Start.DateTime, raw.Start.TimeZone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s: start: %w", raw.ID, err)
	}
	end, err := n.parseInstant(raw.End.DateTime, raw.End.TimeZone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s: end: %w", raw.ID, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s: end before start: %w", raw.ID, ErrMalformedEvent)
	}

	// An end at local midnight belongs to the previous day.
	if isMidnight(end) {
		end = end.Add(-time.Second)
		if end.Before(start) {
			end = start
		}
	}
	return start, end, nil
}

func (n *Normalizer) allDayBounds(raw RawEvent) (time.Time, time.Time, error) {
	if raw.End.Date == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s: all-day start with timed end: %w", raw.ID, ErrMalformedEvent)
	}
	start, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw.Start.Date), n.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s: start date: %v: %w", raw.ID, err, ErrMalformedEvent)
	}
	endExclusive, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw.End.Date), n.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s: end date: %v: %w", raw.ID, err, ErrMalformedEvent)
	}
	end := endExclusive.AddDate(0, 0, -1)
	if end.Before(start) {
		end = start
	}
	return start, end, nil
}

// parseInstant accepts RFC 3339 (including a literal Z) and, for values
// without an offset, interprets them in tzName or the reference zone.
func (n *Normalizer) parseInstant(value, tzName string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.In(n.loc), nil
	}

	loc := n.loc
	if tzName != "" {
		if named, err := time.LoadLocation(tzName); err == nil {
			loc = named
		}
	}
	t, err := time.ParseInLocation(naiveDateTimeLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %v: %w", value, err, ErrMalformedEvent)
	}
	return t.In(n.loc), nil
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// FractionalHour is hour + minute/60; seconds are truncated.
func FractionalHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}

// Weekday returns the Monday-based weekday (Monday=0 ... Sunday=6).
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
