package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"lookback-cloud/metrics"
	"lookback-cloud/streams"
)

const (
	// RequestStream carries sync requests.
	RequestStream = "lookback:sync:requests"
	// ConsumerGroup is shared by every sync worker.
	ConsumerGroup = "lookback-sync"
)

// Runner executes one sync request.
type Runner interface {
	Run(ctx context.Context, userID, kind string) (Result, error)
}

// Queue moves sync requests through a Redis stream so HTTP handlers and the
// scheduler never block on Google.
type Queue struct {
	helper      *streams.StreamsHelper
	runner      Runner
	consumer    string
	batchSize   int64
	pollTimeout time.Duration
	reclaimIdle time.Duration
	logger      zerolog.Logger
}

func NewQueue(helper *streams.StreamsHelper, runner Runner, logger zerolog.Logger) *Queue {
	consumer := "sync-" + uuid.NewString()
	return &Queue{
		helper:      helper,
		runner:      runner,
		consumer:    consumer,
		batchSize:   10,
		pollTimeout: 2 * time.Second,
		reclaimIdle: time.Minute,
		logger:      logger.With().Str("component", "sync_queue").Str("consumer", consumer).Logger(),
	}
}

// Enqueue appends a sync request and returns its stream id.
func (q *Queue) Enqueue(ctx context.Context, userID, kind string) (string, error) {
	if userID == "" {
		return "", errors.New("user_id is required")
	}
	if kind == "" {
		kind = KindAll
	}
	switch kind {
	case KindCalendars, KindEvents, KindAll:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	id, err := q.helper.AppendToStream(ctx, RequestStream, map[string]interface{}{
		"user_id":      userID,
		"kind":         kind,
		"requested_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("enqueue sync for %s: %w", userID, err)
	}
	q.logger.Debug().Str("user_id", userID).Str("kind", kind).Str("id", id).Msg("sync enqueued")
	return id, nil
}

// Run consumes requests until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	if err := q.helper.EnsureGroup(ctx, RequestStream, ConsumerGroup); err != nil {
		return fmt.Errorf("create sync consumer group: %w", err)
	}
	if n, err := q.Reclaim(ctx); err != nil {
		q.logger.Warn().Err(err).Msg("failed to reclaim pending sync requests")
	} else if n > 0 {
		q.logger.Info().Int("reclaimed", n).Msg("reclaimed pending sync requests")
	}
	q.logger.Info().Msg("sync worker started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := q.ProcessOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			q.logger.Error().Err(err).Msg("sync queue read failure")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
}

// ProcessOnce reads one batch, runs each request and acknowledges it whether
// or not the sync succeeded. A request interrupted by ctx stays pending so a
// later Reclaim retries it. It returns how many requests were handled.
func (q *Queue) ProcessOnce(ctx context.Context) (int, error) {
	res, err := q.helper.ReadFromGroup(ctx, RequestStream, ConsumerGroup, q.consumer, q.batchSize, q.pollTimeout)
	if err != nil {
		return 0, err
	}

	var msgs []redis.XMessage
	for _, stream := range res {
		msgs = append(msgs, stream.Messages...)
	}
	return q.process(ctx, msgs)
}

// Reclaim takes over requests left pending by a stopped worker and runs them.
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	msgs, err := q.helper.ClaimStale(ctx, RequestStream, ConsumerGroup, q.consumer, q.reclaimIdle, q.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim pending sync requests: %w", err)
	}
	return q.process(ctx, msgs)
}

func (q *Queue) process(ctx context.Context, msgs []redis.XMessage) (int, error) {
	handled := 0
	for _, msg := range msgs {
		q.handle(ctx, msg)
		if ctx.Err() != nil {
			q.logger.Warn().Str("id", msg.ID).Msg("sync request interrupted, leaving it pending")
			return handled, ctx.Err()
		}
		if _, err := q.helper.AcknowledgeMessage(ctx, RequestStream, ConsumerGroup, msg.ID); err != nil {
			q.logger.Error().Err(err).Str("id", msg.ID).Msg("failed to ack sync request")
		}
		handled++
	}
	if pending, err := q.helper.PendingCount(ctx, RequestStream, ConsumerGroup); err == nil {
		metrics.SyncQueueDepth.Set(float64(pending))
	}
	if length, err := q.helper.GetStreamLength(ctx, RequestStream); err == nil {
		metrics.SyncStreamLength.Set(float64(length))
	}
	return handled, nil
}

func (q *Queue) handle(ctx context.Context, msg redis.XMessage) {
	userID, _ := msg.Values["user_id"].(string)
	kind, _ := msg.Values["kind"].(string)
	if userID == "" {
		q.logger.Warn().Str("id", msg.ID).Msg("dropping sync request without user_id")
		return
	}

	res, err := q.runner.Run(ctx, userID, kind)
	if err != nil {
		q.logger.Error().Err(err).Str("user_id", userID).Str("kind", kind).Str("id", msg.ID).Msg("queued sync failed")
		return
	}
	q.logger.Info().Str("user_id", userID).Str("kind", res.Kind).Int("events", res.Events).Str("id", msg.ID).Msg("queued sync done")
}
