package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Queue = (*RedisQueue)(nil)

// RedisQueue keeps due times in a sorted set (score = RunAt in unix ms) and
// job bodies in a hash keyed by job id. A claimed job moves to a processing
// set scored by its visibility deadline and keeps its body until Ack.
type RedisQueue struct {
	client        *redis.Client
	dueKey        string
	jobsKey       string
	processingKey string
	visibility    time.Duration
	now           func() time.Time
}

// NewRedisQueue connects and verifies the server is reachable.
func NewRedisQueue(options *redis.Options, prefix string) (*RedisQueue, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisQueue{
		client:        client,
		dueKey:        prefix + ":queue:due",
		jobsKey:       prefix + ":queue:jobs",
		processingKey: prefix + ":queue:processing",
		visibility:    DefaultVisibilityTimeout,
		now:           time.Now,
	}, nil
}

// Ping reports whether Redis is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// A body in the jobs hash means the id is waiting or claimed.
var enqueueScript = redis.NewScript(`
	if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
	return 1
`)

func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (string, error) {
	job, err := newJob(jobType, payload, opts, q.now())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	err = enqueueScript.Run(ctx, q.client, []string{q.dueKey, q.jobsKey},
		job.ID, data, strconv.FormatInt(job.RunAt.UnixMilli(), 10)).Err()
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// KEYS: due, jobs, processing. ARGV: now, visibility deadline.
var claimScript = redis.NewScript(`
	local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
	for _, id in ipairs(expired) do
		redis.call('ZREM', KEYS[3], id)
		redis.call('ZADD', KEYS[1], ARGV[1], id)
	end

	local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
	if #ids == 0 then
		return false
	end
	redis.call('ZREM', KEYS[1], ids[1])
	local data = redis.call('HGET', KEYS[2], ids[1])
	if not data then
		return false
	end
	redis.call('ZADD', KEYS[3], ARGV[2], ids[1])
	return data
`)

// Dequeue atomically claims the earliest due job. Claims whose visibility
// deadline has passed are made due again first.
func (q *RedisQueue) Dequeue(ctx context.Context, now time.Time) (*Job, error) {
	res, err := claimScript.Run(ctx, q.client, []string{q.dueKey, q.jobsKey, q.processingKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(q.visibility).UnixMilli(), 10)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var data []byte
	switch v := res.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, errors.New("unexpected data type from claim script")
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, job *Job, runAt time.Time) error {
	next := *job
	next.Attempt++
	next.RunAt = runAt
	data, err := json.Marshal(&next)
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.processingKey, next.ID)
		pipe.HSet(ctx, q.jobsKey, next.ID, data)
		pipe.ZAdd(ctx, q.dueKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: next.ID})
		return nil
	})
	return err
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.processingKey, job.ID)
		pipe.HDel(ctx, q.jobsKey, job.ID)
		return nil
	})
	return err
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
