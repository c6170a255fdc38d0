package streams

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectVerifiesStreams(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client, err := Connect(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "://nope")
	assert.Error(t, err)
}

func TestStreamsHelperRoundTrip(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	helper := NewStreamsHelper(client)

	require.NoError(t, helper.EnsureGroup(ctx, "jobs", "workers"))
	require.NoError(t, helper.EnsureGroup(ctx, "jobs", "workers"))

	id, err := helper.AppendToStream(ctx, "jobs", map[string]interface{}{"user_id": "me@example.com"})
	require.NoError(t, err)

	length, err := helper.GetStreamLength(ctx, "jobs")
	require.NoError(t, err)
	assert.EqualValues(t, 1, length)

	res, err := helper.ReadFromGroup(ctx, "jobs", "workers", "c1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Messages, 1)
	assert.Equal(t, id, res[0].Messages[0].ID)
	assert.Equal(t, "me@example.com", res[0].Messages[0].Values["user_id"])

	pending, err := helper.PendingCount(ctx, "jobs", "workers")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	acked, err := helper.AcknowledgeMessage(ctx, "jobs", "workers", id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, acked)

	empty, err := helper.ReadFromGroup(ctx, "jobs", "workers", "c1", 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStreamsHelperClaimStale(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	helper := NewStreamsHelper(client)
	require.NoError(t, helper.EnsureGroup(ctx, "jobs", "workers"))

	id, err := helper.AppendToStream(ctx, "jobs", map[string]interface{}{"user_id": "me@example.com"})
	require.NoError(t, err)
	_, err = helper.ReadFromGroup(ctx, "jobs", "workers", "gone", 10, 50*time.Millisecond)
	require.NoError(t, err)

	claimed, err := helper.ClaimStale(ctx, "jobs", "workers", "fresh", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)

	none, err := helper.ClaimStale(ctx, "jobs", "workers", "fresh", time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
