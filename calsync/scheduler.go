package calsync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule re-syncs every connected user every thirty minutes.
const DefaultSchedule = "*/30 * * * *"

// UserLister discovers users with a connected calendar.
type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// UserListerFunc adapts a function to UserLister.
type UserListerFunc func(ctx context.Context) ([]string, error)

func (f UserListerFunc) ListUsers(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// Enqueuer accepts sync requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID, kind string) (string, error)
}

// Scheduler periodically enqueues a full sync for every connected user.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	users   UserLister
	queue   Enqueuer
	timeout time.Duration
	logger  zerolog.Logger
}

func NewScheduler(spec string, users UserLister, queue Enqueuer, logger zerolog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return &Scheduler{
		cron:    cron.New(),
		spec:    spec,
		users:   users,
		queue:   queue,
		timeout: time.Minute,
		logger:  logger.With().Str("component", "sync_scheduler").Logger(),
	}, nil
}

// Start registers the job and starts the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Trigger(ctx); err != nil {
			s.logger.Error().Err(err).Msg("scheduled sync failed")
		}
	}); err != nil {
		return fmt.Errorf("register sync job: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.spec).Msg("sync scheduler started")
	return nil
}

// AddJob runs fn on spec alongside the sync job. Each run gets the
// scheduler's timeout; errors are logged.
func (s *Scheduler) AddJob(spec, name string, fn func(ctx context.Context) error) error {
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	}); err != nil {
		return fmt.Errorf("register %s job: %w", name, err)
	}
	return nil
}

// Stop halts the runner and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger enqueues a full sync for every user now and returns how many were queued.
func (s *Scheduler) Trigger(ctx context.Context) (int, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("discover users: %w", err)
	}
	queued := 0
	for _, userID := range users {
		if _, err := s.queue.Enqueue(ctx, userID, KindAll); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to enqueue scheduled sync")
			continue
		}
		queued++
	}
	s.logger.Info().Int("users", len(users)).Int("queued", queued).Msg("scheduled sync enqueued")
	return queued, nil
}
