package calsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// ErrUnknownChannel is returned for push notifications of channels we do not track.
var ErrUnknownChannel = errors.New("unknown watch channel")

// DefaultChannelTTL is the lifetime requested for new push channels.
const DefaultChannelTTL = 24 * time.Hour

// Channel is a registered Google Calendar push notification channel.
type Channel struct {
	ID         string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id"`
	CalendarID string    `json:"calendar_id"`
	WebhookURL string    `json:"webhook_url"`
	Expiration time.Time `json:"expiration"`
}

// Watcher registers push channels on users' calendars so a change can
// trigger an event sync instead of waiting for the schedule.
type Watcher struct {
	services ServiceProvider
	client   *redis.Client
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewWatcher(services ServiceProvider, client *redis.Client, logger zerolog.Logger) *Watcher {
	return &Watcher{
		services: services,
		client:   client,
		ttl:      DefaultChannelTTL,
		now:      time.Now,
		logger:   logger.With().Str("component", "calendar_watch").Logger(),
	}
}

// Register opens a push channel on calendarID that posts to webhookURL.
func (w *Watcher) Register(ctx context.Context, userID, calendarID, webhookURL string) (Channel, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	svc, err := w.services.GetCalendarService(ctx, userID)
	if err != nil {
		return Channel{}, err
	}

	resp, err := svc.Events.Watch(calendarID, &calendar.Channel{
		Id:         uuid.NewString(),
		Type:       "web_hook",
		Address:    webhookURL,
		Expiration: w.now().Add(w.ttl).UnixMilli(),
	}).Context(ctx).Do()
	if err != nil {
		return Channel{}, fmt.Errorf("failed to register watch on %s: %w", calendarID, err)
	}

	ch := Channel{
		ID:         resp.Id,
		ResourceID: resp.ResourceId,
		UserID:     userID,
		CalendarID: calendarID,
		WebhookURL: webhookURL,
		Expiration: time.UnixMilli(resp.Expiration),
	}
	if err := w.save(ctx, ch); err != nil {
		return Channel{}, err
	}
	w.logger.Info().Str("user_id", userID).Str("calendar_id", calendarID).Str("channel_id", ch.ID).Time("expiration", ch.Expiration).Msg("watch channel registered")
	return ch, nil
}

func (w *Watcher) save(ctx context.Context, ch Channel) error {
	ttl := ch.Expiration.Sub(w.now())
	if ttl <= 0 {
		ttl = time.Minute
	}
	pipe := w.client.TxPipeline()
	pipe.HSet(ctx, channelKey(ch.ID), map[string]interface{}{
		"resource_id": ch.ResourceID,
		"user_id":     ch.UserID,
		"calendar_id": ch.CalendarID,
		"webhook_url": ch.WebhookURL,
		"expiration":  strconv.FormatInt(ch.Expiration.UnixMilli(), 10),
	})
	pipe.Expire(ctx, channelKey(ch.ID), ttl)
	pipe.SAdd(ctx, userChannelsKey(ch.UserID), ch.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store watch channel: %w", err)
	}
	return nil
}

// Lookup resolves a channel id from a push notification.
func (w *Watcher) Lookup(ctx context.Context, channelID string) (Channel, error) {
	fields, err := w.client.HGetAll(ctx, channelKey(channelID)).Result()
	if err != nil {
		return Channel{}, fmt.Errorf("read watch channel: %w", err)
	}
	if len(fields) == 0 {
		return Channel{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	expMs, _ := strconv.ParseInt(fields["expiration"], 10, 64)
	return Channel{
		ID:         channelID,
		ResourceID: fields["resource_id"],
		UserID:     fields["user_id"],
		CalendarID: fields["calendar_id"],
		WebhookURL: fields["webhook_url"],
		Expiration: time.UnixMilli(expMs),
	}, nil
}

// Channels lists a user's live channels, dropping index entries whose
// channel already expired.
func (w *Watcher) Channels(ctx context.Context, userID string) ([]Channel, error) {
	ids, err := w.client.SMembers(ctx, userChannelsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list watch channels: %w", err)
	}
	var out []Channel
	for _, id := range ids {
		ch, err := w.Lookup(ctx, id)
		if errors.Is(err, ErrUnknownChannel) {
			w.client.SRem(ctx, userChannelsKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// Unregister stops every channel of the user and returns how many were removed.
func (w *Watcher) Unregister(ctx context.Context, userID string) (int, error) {
	channels, err := w.Channels(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(channels) == 0 {
		return 0, nil
	}
	svc, err := w.services.GetCalendarService(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, ch := range channels {
		if err := w.stop(ctx, svc, ch); err != nil {
			return 0, err
		}
	}
	return len(channels), nil
}

func (w *Watcher) stop(ctx context.Context, svc *calendar.Service, ch Channel) error {
	err := svc.Channels.Stop(&calendar.Channel{Id: ch.ID, ResourceId: ch.ResourceID}).Context(ctx).Do()
	var apiErr *googleapi.Error
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Code == 404) {
		return fmt.Errorf("failed to stop channel %s: %w", ch.ID, err)
	}
	pipe := w.client.TxPipeline()
	pipe.Del(ctx, channelKey(ch.ID))
	pipe.SRem(ctx, userChannelsKey(ch.UserID), ch.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove watch channel: %w", err)
	}
	return nil
}

// RenewExpiring replaces channels that expire within threshold and returns
// how many were renewed. A failing channel is logged and left alone.
func (w *Watcher) RenewExpiring(ctx context.Context, threshold time.Duration) (int, error) {
	// Collect first so channels registered below are not revisited by the scan.
	var ids []string
	iter := w.client.Scan(ctx, 0, channelKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), channelKey("")))
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan watch channels: %w", err)
	}

	renewed := 0
	for _, channelID := range ids {
		ch, err := w.Lookup(ctx, channelID)
		if err != nil {
			continue
		}
		if ch.Expiration.Sub(w.now()) > threshold {
			continue
		}

		log := w.logger.With().Str("user_id", ch.UserID).Str("channel_id", ch.ID).Logger()
		if _, err := w.Register(ctx, ch.UserID, ch.CalendarID, ch.WebhookURL); err != nil {
			log.Warn().Err(err).Msg("failed to renew watch channel")
			continue
		}
		svc, err := w.services.GetCalendarService(ctx, ch.UserID)
		if err == nil {
			err = w.stop(ctx, svc, ch)
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to stop replaced watch channel")
		}
		renewed++
	}
	return renewed, nil
}

func channelKey(channelID string) string {
	return "lookback:watch:channel:" + channelID
}

func userChannelsKey(userID string) string {
	return "lookback:watch:user:" + userID
}
