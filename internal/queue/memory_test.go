package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() *Memory {
	return NewMemory(50*time.Millisecond, RetryPolicy{MaxAttempts: 3, Base: 10 * time.Millisecond, Cap: time.Second})
}

func TestEnqueue_ReEnqueueIsNoOp(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "intent-1", 0))
	require.NoError(t, q.Enqueue(ctx, "intent-1", 0))

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "intent-1", job.IntentID)

	again, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "re-enqueuing a known intent_id must not create a second job")
}

func TestReserve_RespectsDelay(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "intent-delayed", 100*time.Millisecond))

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "job must not be visible before its delay elapses")

	time.Sleep(120 * time.Millisecond)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "intent-delayed", job.IntentID)
}

func TestReserve_IsExclusiveUntilVisibilityTimeout(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "intent-excl", 0))

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	concurrent, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, concurrent, "a second worker must not observe the same job while it is reserved")

	time.Sleep(60 * time.Millisecond) // past the 50ms visibility timeout
	reclaimed, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, reclaimed, "an abandoned job must auto-return after its visibility timeout")
	assert.Equal(t, "intent-excl", reclaimed.IntentID)
}

func TestAck_RemovesJobPermanently(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "intent-ack", 0))
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, *job))

	time.Sleep(60 * time.Millisecond)
	again, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "an acked job must never reappear")
}

func TestNack_RetriesWithBackoffThenExhausts(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "intent-nack", 0))

	var job *Job
	for attempt := 0; attempt < 3; attempt++ {
		var err error
		job, err = q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d should find a reservable job", attempt)
		require.NoError(t, q.Nack(ctx, *job, false))
		time.Sleep(60 * time.Millisecond) // comfortably past every backoff window up to this attempt count
	}

	// MaxAttempts=3: the third Nack exhausts the retry budget and the job
	// must be dropped rather than rescheduled again.
	exhausted, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, exhausted, "exhausted retries must not be reservable")
}

func TestNack_PermanentDropsImmediately(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "intent-perm", 0))
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, *job, true))

	time.Sleep(20 * time.Millisecond)
	again, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "a permanent failure must not be retried")
}

func TestCancel_RemovesUnreservedJob(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "intent-cancel", time.Hour))
	require.NoError(t, q.Cancel(ctx, "intent-cancel"))

	// Re-enqueue after cancellation must succeed (the cancelled entry was
	// fully removed, not left as a tombstone blocking future dispatch).
	require.NoError(t, q.Enqueue(ctx, "intent-cancel", 0))
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestCancel_LeavesReservedJobAlone(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "intent-inflight", 0))
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	// A worker already holds the job; Cancel must not yank it out from
	// under them — the worker re-checks follower state itself.
	require.NoError(t, q.Cancel(ctx, "intent-inflight"))
	require.NoError(t, q.Ack(ctx, *job), "the worker must still be able to ack its in-flight job after Cancel")
}

func TestRetryPolicy_NextDelayDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: time.Second, Cap: 5 * time.Minute}
	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, 2*time.Second, p.NextDelay(1))
	assert.Equal(t, 4*time.Second, p.NextDelay(2))
	assert.Equal(t, 5*time.Minute, p.NextDelay(10), "delay must cap rather than overflow")
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5}
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
	assert.True(t, p.Exhausted(6))
}
