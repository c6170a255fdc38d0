package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"lookback-cloud/activity"
)

const (
	usersKey = "lookback:users"
)

var errNotInitialized = errors.New("calendar store not initialized")

// CalendarStore persists each user's calendar list and per-calendar event
// batches in Redis as JSON documents.
type CalendarStore struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewCalendarStore(client *redis.Client, logger zerolog.Logger) *CalendarStore {
	return &CalendarStore{
		client: client,
		logger: logger.With().Str("component", "calendar_store").Logger(),
	}
}

// PutCalendarList replaces the stored calendar list and registers the user.
func (s *CalendarStore) PutCalendarList(ctx context.Context, userID string, calendars []activity.CalendarInfo) error {
	if s == nil || s.client == nil {
		return errNotInitialized
	}
	if userID == "" {
		return errors.New("user_id is required")
	}
	if calendars == nil {
		calendars = []activity.CalendarInfo{}
	}

	data, err := json.Marshal(calendars)
	if err != nil {
		return fmt.Errorf("marshal calendar list: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, calendarsKey(userID), data, 0)
	pipe.SAdd(ctx, usersKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store calendar list: %w", err)
	}
	return nil
}

// CalendarList returns the stored calendar list; a user with no list yields nil.
func (s *CalendarStore) CalendarList(ctx context.Context, userID string) ([]activity.CalendarInfo, error) {
	if s == nil || s.client == nil {
		return nil, errNotInitialized
	}
	raw, err := s.client.Get(ctx, calendarsKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calendar list: %w", err)
	}

	var calendars []activity.CalendarInfo
	if err := json.Unmarshal(raw, &calendars); err != nil {
		return nil, fmt.Errorf("decode calendar list: %w", err)
	}
	return calendars, nil
}

// ReplaceEvents atomically swaps all of the user's batches for batches. A nil
// slice clears them.
func (s *CalendarStore) ReplaceEvents(ctx context.Context, userID string, batches []activity.CalendarEventBatch) error {
	if s == nil || s.client == nil {
		return errNotInitialized
	}
	if userID == "" {
		return errors.New("user_id is required")
	}
	existing, err := s.client.SMembers(ctx, eventsIndexKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("list event batches: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range existing {
		pipe.Del(ctx, eventsKey(userID, id))
	}
	pipe.Del(ctx, eventsIndexKey(userID))
	for _, batch := range batches {
		if batch.CalendarID == "" {
			continue
		}
		if batch.Events == nil {
			batch.Events = []activity.RawEvent{}
		}
		data, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("marshal events for %s: %w", batch.CalendarID, err)
		}
		pipe.Set(ctx, eventsKey(userID, batch.CalendarID), data, 0)
		pipe.SAdd(ctx, eventsIndexKey(userID), batch.CalendarID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace events: %w", err)
	}
	return nil
}

// EventsForUser returns one batch per stored calendar: calendars from the
// user's list first, in list order, then any remaining batches by id.
func (s *CalendarStore) EventsForUser(ctx context.Context, userID string) ([]activity.CalendarEventBatch, error) {
	if s == nil || s.client == nil {
		return nil, errNotInitialized
	}
	ids, err := s.client.SMembers(ctx, eventsIndexKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list event batches: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	calendars, err := s.CalendarList(ctx, userID)
	if err != nil {
		return nil, err
	}
	ordered := orderCalendarIDs(ids, calendars)

	batches := make([]activity.CalendarEventBatch, 0, len(ordered))
	for _, id := range ordered {
		raw, err := s.client.Get(ctx, eventsKey(userID, id)).Bytes()
		if err == redis.Nil {
			_ = s.client.SRem(ctx, eventsIndexKey(userID), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read events for %s: %w", id, err)
		}
		var batch activity.CalendarEventBatch
		if err := json.Unmarshal(raw, &batch); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Str("calendar_id", id).Msg("dropping undecodable event batch")
			continue
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// Users lists every user with a stored calendar list.
func (s *CalendarStore) Users(ctx context.Context) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, errNotInitialized
	}
	users, err := s.client.SMembers(ctx, usersKey).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

// MarkSynced records when a sync of kind last completed for the user.
func (s *CalendarStore) MarkSynced(ctx context.Context, userID, kind string, at time.Time) error {
	if s == nil || s.client == nil {
		return errNotInitialized
	}
	if err := s.client.HSet(ctx, syncStateKey(userID), kind, at.UTC().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("store sync state: %w", err)
	}
	return nil
}

// LastSynced returns the last completion time per sync kind.
func (s *CalendarStore) LastSynced(ctx context.Context, userID string) (map[string]time.Time, error) {
	if s == nil || s.client == nil {
		return nil, errNotInitialized
	}
	fields, err := s.client.HGetAll(ctx, syncStateKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	out := make(map[string]time.Time, len(fields))
	for kind, value := range fields {
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			continue
		}
		out[kind] = at
	}
	return out, nil
}

func orderCalendarIDs(ids []string, calendars []activity.CalendarInfo) []string {
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	ordered := make([]string, 0, len(ids))
	for _, cal := range calendars {
		if present[cal.ID] {
			ordered = append(ordered, cal.ID)
			delete(present, cal.ID)
		}
	}
	rest := make([]string, 0, len(present))
	for id := range present {
		rest = append(rest, id)
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

func calendarsKey(userID string) string {
	return fmt.Sprintf("lookback:calendars:%s", userID)
}

func eventsKey(userID, calendarID string) string {
	return fmt.Sprintf("lookback:events:%s:%s", userID, calendarID)
}

func eventsIndexKey(userID string) string {
	return fmt.Sprintf("lookback:events-index:%s", userID)
}

func syncStateKey(userID string) string {
	return fmt.Sprintf("lookback:sync:state:%s", userID)
}
