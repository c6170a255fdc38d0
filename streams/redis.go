package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	healthStream   = "lookback:health"
	healthGroup    = "lookback-bootstrap"
	healthConsumer = "bootstrap-check"
)

// Connect parses redisURL, pings the server and verifies XADD/XREADGROUP
// support so the sync queue can rely on streams APIs.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url %q: %w", redisURL, err)
	}
	client := redis.NewClient(opts)

	if err := VerifyStreamOps(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// VerifyStreamOps round-trips one entry through a consumer group.
func VerifyStreamOps(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}

	helper := NewStreamsHelper(client)
	if err := helper.EnsureGroup(ctx, healthStream, healthGroup); err != nil {
		return fmt.Errorf("redis: create stream group: %w", err)
	}

	msgID, err := helper.AppendToStream(ctx, healthStream, map[string]interface{}{
		"msg": "redis-online-check",
		"ts":  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("redis: XADD failed: %w", err)
	}

	readRes, err := helper.ReadFromGroup(ctx, healthStream, healthGroup, healthConsumer, 1, time.Second)
	if err != nil {
		return fmt.Errorf("redis: XREADGROUP failed: %w", err)
	}
	if len(readRes) == 0 || len(readRes[0].Messages) == 0 {
		return fmt.Errorf("redis: XREADGROUP returned no messages for %s", msgID)
	}

	entryID := readRes[0].Messages[0].ID
	if _, err := helper.AcknowledgeMessage(ctx, healthStream, healthGroup, entryID); err != nil {
		return fmt.Errorf("redis: XACK failed for %s: %w", entryID, err)
	}
	return client.XDel(ctx, healthStream, entryID).Err()
}

// StreamsHelper provides helper methods for working with Redis streams
type StreamsHelper struct {
	client *redis.Client
	maxLen int64
}

// NewStreamsHelper creates a new streams helper
func NewStreamsHelper(client *redis.Client) *StreamsHelper {
	return &StreamsHelper{
		client: client,
		maxLen: 10000,
	}
}

// AppendToStream appends data to a Redis stream, trimming it to roughly maxLen entries.
func (sh *StreamsHelper) AppendToStream(ctx context.Context, streamKey string, data map[string]interface{}) (string, error) {
	return sh.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: sh.maxLen,
		Approx: true,
		Values: data,
	}).Result()
}

// ReadFromGroup reads new entries for consumer. An empty read (timeout)
// returns nil, nil.
func (sh *StreamsHelper) ReadFromGroup(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]redis.XStream, error) {
	res, err := sh.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

// EnsureGroup creates a consumer group (and the stream) unless it exists.
func (sh *StreamsHelper) EnsureGroup(ctx context.Context, streamKey, group string) error {
	err := sh.client.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// AcknowledgeMessage acknowledges a message in a consumer group
func (sh *StreamsHelper) AcknowledgeMessage(ctx context.Context, streamKey, group string, messageIDs ...string) (int64, error) {
	return sh.client.XAck(ctx, streamKey, group, messageIDs...).Result()
}

// PendingCount returns how many delivered entries are not yet acknowledged.
func (sh *StreamsHelper) PendingCount(ctx context.Context, streamKey, group string) (int64, error) {
	res, err := sh.client.XPending(ctx, streamKey, group).Result()
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// ClaimStale takes over entries another consumer left unacknowledged for at
// least minIdle.
func (sh *StreamsHelper) ClaimStale(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, count int64) ([]redis.XMessage, error) {
	msgs, _, err := sh.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return msgs, err
}

// GetStreamLength returns the length of a stream
func (sh *StreamsHelper) GetStreamLength(ctx context.Context, streamKey string) (int64, error) {
	return sh.client.XLen(ctx, streamKey).Result()
}
