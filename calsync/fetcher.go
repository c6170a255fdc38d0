package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"

	"lookback-cloud/activity"
	"lookback-cloud/metrics"
	"lookback-cloud/security"
)

const (
	breakerName  = "google-calendar"
	pageSize     = 250
	maxPageCount = 40
)

// ServiceProvider hands out authenticated Calendar clients per user.
type ServiceProvider interface {
	GetCalendarService(ctx context.Context, userID string) (*calendar.Service, error)
}

// FetcherConfig tunes the Google fetcher.
type FetcherConfig struct {
	RequestsPerSecond float64
	Burst             int
	SingleEvents      bool
	FailureThreshold  uint32
	OpenTimeout       time.Duration
}

// GoogleFetcher reads calendar lists and events from the Calendar API behind
// a token-bucket limiter and a circuit breaker.
type GoogleFetcher struct {
	services     ServiceProvider
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker[any]
	singleEvents bool
	logger       zerolog.Logger
}

func NewGoogleFetcher(services ServiceProvider, cfg FetcherConfig, logger zerolog.Logger) *GoogleFetcher {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	log := logger.With().Str("component", "google_fetcher").Logger()
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Per-user failures say nothing about Google's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, security.ErrNoToken) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.SetCircuitBreakerState(name, int(to))
		},
	}

	return &GoogleFetcher{
		services:     services,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:      gobreaker.NewCircuitBreaker[any](settings),
		singleEvents: cfg.SingleEvents,
		logger:       log,
	}
}

// SingleEvents reports whether the API expands recurring events itself.
func (f *GoogleFetcher) SingleEvents() bool {
	return f.singleEvents
}

func execute[T any](f *GoogleFetcher, fn func() (T, error)) (T, error) {
	out, err := f.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

// CalendarList fetches every calendar list entry of the user, page by page.
func (f *GoogleFetcher) CalendarList(ctx context.Context, userID string) ([]activity.CalendarInfo, error) {
	return execute(f, func() ([]activity.CalendarInfo, error) {
		svc, err := f.services.GetCalendarService(ctx, userID)
		if err != nil {
			return nil, err
		}
		var (
			pageToken string
			out       []activity.CalendarInfo
		)
		for page := 0; page < maxPageCount; page++ {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			call := svc.CalendarList.List().MaxResults(pageSize)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("failed to fetch calendar list: %w", err)
			}
			for _, entry := range resp.Items {
				if entry == nil || entry.Deleted {
					continue
				}
				out = append(out, ConvertCalendar(entry))
			}
			if resp.NextPageToken == "" {
				return out, nil
			}
			pageToken = resp.NextPageToken
		}
		f.logger.Warn().Str("user_id", userID).Msg("calendar list truncated at page limit")
		return out, nil
	})
}

// Events fetches the events of one calendar that overlap [from, to].
func (f *GoogleFetcher) Events(ctx context.Context, userID, calendarID string, from, to time.Time) ([]activity.RawEvent, error) {
	return execute(f, func() ([]activity.RawEvent, error) {
		svc, err := f.services.GetCalendarService(ctx, userID)
		if err != nil {
			return nil, err
		}
		var (
			pageToken string
			out       []activity.RawEvent
		)
		for page := 0; page < maxPageCount; page++ {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			call := svc.Events.List(calendarID).
				SingleEvents(f.singleEvents).
				TimeMin(from.Format(time.RFC3339)).
				TimeMax(to.Format(time.RFC3339)).
				MaxResults(pageSize)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("failed to fetch events for %s: %w", calendarID, err)
			}
			for _, item := range resp.Items {
				if raw, ok := ConvertEvent(item); ok {
					out = append(out, raw)
				}
			}
			if resp.NextPageToken == "" {
				return out, nil
			}
			pageToken = resp.NextPageToken
		}
		f.logger.Warn().Str("user_id", userID).Str("calendar_id", calendarID).Msg("event list truncated at page limit")
		return out, nil
	})
}
