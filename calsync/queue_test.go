package calsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lookback-cloud/streams"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls [][2]string
	err   error
}

func (r *recordingRunner) Run(ctx context.Context, userID, kind string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]string{userID, kind})
	return Result{UserID: userID, Kind: kind}, r.err
}

func (r *recordingRunner) Calls() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.calls...)
}

func newTestQueue(t *testing.T, runner Runner) (*Queue, *streams.StreamsHelper, func()) {
	t.Helper()
	client, cleanup := newTestRedis(t)
	helper := streams.NewStreamsHelper(client)
	q := NewQueue(helper, runner, zerolog.Nop())
	q.pollTimeout = 50 * time.Millisecond
	require.NoError(t, helper.EnsureGroup(context.Background(), RequestStream, ConsumerGroup))
	return q, helper, cleanup
}

func TestQueueEnqueueAndProcess(t *testing.T) {
	runner := &recordingRunner{}
	q, helper, cleanup := newTestQueue(t, runner)
	defer cleanup()

	ctx := context.Background()
	_, err := q.Enqueue(ctx, "a@example.com", KindEvents)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "b@example.com", "")
	require.NoError(t, err)

	handled, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, [][2]string{{"a@example.com", KindEvents}, {"b@example.com", KindAll}}, runner.Calls())

	pending, err := helper.PendingCount(ctx, RequestStream, ConsumerGroup)
	require.NoError(t, err)
	assert.Zero(t, pending)

	handled, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, handled)
}

func TestQueueAcksFailedRuns(t *testing.T) {
	runner := &recordingRunner{err: errors.New("google down")}
	q, helper, cleanup := newTestQueue(t, runner)
	defer cleanup()

	ctx := context.Background()
	_, err := q.Enqueue(ctx, "a@example.com", KindAll)
	require.NoError(t, err)

	handled, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	pending, err := helper.PendingCount(ctx, RequestStream, ConsumerGroup)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestQueueEnqueueValidates(t *testing.T) {
	q, _, cleanup := newTestQueue(t, &recordingRunner{})
	defer cleanup()

	_, err := q.Enqueue(context.Background(), "", KindAll)
	assert.Error(t, err)
	_, err = q.Enqueue(context.Background(), "a@example.com", "bogus")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestQueueRunStopsOnCancel(t *testing.T) {
	runner := &recordingRunner{}
	q, _, cleanup := newTestQueue(t, runner)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	_, err := q.Enqueue(context.Background(), "a@example.com", KindCalendars)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, 2*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not stop after cancel")
	}
}

// cancellingRunner simulates a shutdown arriving while a sync is running.
type cancellingRunner struct {
	cancel context.CancelFunc
	calls  int
}

func (r *cancellingRunner) Run(ctx context.Context, userID, kind string) (Result, error) {
	r.calls++
	r.cancel()
	return Result{}, ctx.Err()
}

func TestQueueLeavesInterruptedRequestPendingForReclaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	interrupted := &cancellingRunner{cancel: cancel}
	q, helper, cleanup := newTestQueue(t, interrupted)
	defer cleanup()

	_, err := q.Enqueue(context.Background(), "a@example.com", KindEvents)
	require.NoError(t, err)

	handled, err := q.ProcessOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, handled)
	assert.Equal(t, 1, interrupted.calls)

	pending, err := helper.PendingCount(context.Background(), RequestStream, ConsumerGroup)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	runner := &recordingRunner{}
	next := NewQueue(helper, runner, zerolog.Nop())
	next.reclaimIdle = 0

	handled, err = next.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, [][2]string{{"a@example.com", KindEvents}}, runner.Calls())

	pending, err = helper.PendingCount(context.Background(), RequestStream, ConsumerGroup)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
