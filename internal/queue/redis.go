package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Queue backed by two sorted sets: "ready" scored by visible_at
// unix time, and "processing" scored by the reservation deadline. This is
// the durable backend that lets jobs survive a process restart because
// they live in Redis, not in worker memory.
type Redis struct {
	client     *redis.Client
	visibility time.Duration
	policy     RetryPolicy

	readyKey      string
	processingKey string
	attemptsKey   string

	reserveScript *redis.Script
}

// NewRedis constructs a Redis-backed Queue. namespace prefixes every key so
// multiple relay deployments can share one Redis instance.
func NewRedis(client *redis.Client, namespace string, visibility time.Duration, policy RetryPolicy) *Redis {
	return &Redis{
		client:        client,
		visibility:    visibility,
		policy:        policy,
		readyKey:      namespace + ":ready",
		processingKey: namespace + ":processing",
		attemptsKey:   namespace + ":attempts",
		reserveScript: redis.NewScript(reserveLua),
	}
}

func (q *Redis) Enqueue(ctx context.Context, intentID string, delay time.Duration) error {
	visibleAt := float64(time.Now().Add(delay).Unix())
	// An already-queued job is left untouched — at-most-once delivery per
	// intent_id. The processing set is checked first (not atomically with
	// the add); NX then guards the ready set.
	if _, err := q.client.ZScore(ctx, q.processingKey, intentID).Result(); err == nil {
		return nil // already reserved by a worker
	} else if err != redis.Nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZAddNX(ctx, q.readyKey, redis.Z{Score: visibleAt, Member: intentID})
	_, err := pipe.Exec(ctx)
	return err
}

// reserveLua atomically reclaims timed-out processing entries back to
// ready, then claims the earliest due ready job and moves it to
// processing with a fresh deadline. Returns {intentID, attempt} or an
// empty array if nothing is due.
const reserveLua = `
local ready = KEYS[1]
local processing = KEYS[2]
local attempts = KEYS[3]
local now = tonumber(ARGV[1])
local visibility = tonumber(ARGV[2])

local expired = redis.call('ZRANGEBYSCORE', processing, '-inf', now)
for _, id in ipairs(expired) do
	redis.call('ZREM', processing, id)
	redis.call('ZADD', ready, now, id)
end

local due = redis.call('ZRANGEBYSCORE', ready, '-inf', now, 'LIMIT', 0, 1)
if #due == 0 then
	return {}
end

local id = due[1]
redis.call('ZREM', ready, id)
redis.call('ZADD', processing, now + visibility, id)
local attempt = redis.call('HGET', attempts, id)
if not attempt then
	attempt = 0
end
return {id, attempt}
`

func (q *Redis) Reserve(ctx context.Context) (*Job, error) {
	now := time.Now()
	res, err := q.reserveScript.Run(ctx, q.client,
		[]string{q.readyKey, q.processingKey, q.attemptsKey},
		now.Unix(), int64(q.visibility.Seconds()),
	).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	rows, ok := res.([]interface{})
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	intentID, _ := rows[0].(string)
	attempt, err := parseAttempt(rows[1])
	if err != nil {
		return nil, err
	}
	return &Job{
		IntentID:   intentID,
		Attempt:    attempt,
		ReservedAt: now,
		VisibleAt:  now.Add(q.visibility),
	}, nil
}

func parseAttempt(v interface{}) (int, error) {
	switch t := v.(type) {
	case string:
		return strconv.Atoi(t)
	case int64:
		return int(t), nil
	default:
		return 0, nil
	}
}

func (q *Redis) Ack(ctx context.Context, job Job) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey, job.IntentID)
	pipe.HDel(ctx, q.attemptsKey, job.IntentID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *Redis) Nack(ctx context.Context, job Job, permanent bool) error {
	nextAttempt := job.Attempt + 1
	if permanent || q.policy.Exhausted(nextAttempt) {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.processingKey, job.IntentID)
		pipe.HDel(ctx, q.attemptsKey, job.IntentID)
		_, err := pipe.Exec(ctx)
		return err
	}

	delay := q.policy.NextDelay(nextAttempt)
	visibleAt := float64(time.Now().Add(delay).Unix())
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey, job.IntentID)
	pipe.ZAdd(ctx, q.readyKey, redis.Z{Score: visibleAt, Member: job.IntentID})
	pipe.HSet(ctx, q.attemptsKey, job.IntentID, nextAttempt)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *Redis) Cancel(ctx context.Context, intentID string) error {
	removed, err := q.client.ZRem(ctx, q.readyKey, intentID).Result()
	if err != nil {
		return err
	}
	if removed > 0 {
		q.client.HDel(ctx, q.attemptsKey, intentID)
	}
	// A job already in processing is left alone: the worker holding it will
	// re-check follower state itself before acting on it.
	return nil
}
