package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"campaign-dispatch/internal/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "campaign-dispatch:"

// scheduleKey is the sorted set of waiting handles scored by run-at millis.
const scheduleKey = keyPrefix + "schedule"

func payloadKey(h Handle) string { return keyPrefix + "job:" + string(h) }

// Redis keeps jobs in a sorted set shared by every worker process. Removing
// the handle from the set is the claim: only the ZREM that returns 1 runs
// the job, and the same ZREM implements Cancel.
type Redis struct {
	client       *goredis.Client
	workers      int
	pollInterval time.Duration
	batch        int64
	log          *slog.Logger

	// DrainTimeout is how long running handlers may continue after Run's
	// context is done.
	DrainTimeout time.Duration
}

func NewRedis(client *goredis.Client, workers int, log *slog.Logger) *Redis {
	return &Redis{
		client:       client,
		workers:      workers,
		pollInterval: 500 * time.Millisecond,
		batch:        100,
		DrainTimeout: DefaultDrainTimeout,
		log:          logger.OrDefault(log).With("component", "jobqueue"),
	}
}

// NewRedisFromURL parses a redis:// URL and checks the connection.
func NewRedisFromURL(ctx context.Context, url string, workers int, log *slog.Logger) (*Redis, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("jobqueue: ping redis: %w", err)
	}
	return NewRedis(client, workers, log), nil
}

func (r *Redis) Schedule(ctx context.Context, p Payload, delay time.Duration) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	h := Handle(uuid.NewString())
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	runAt := time.Now().Add(delay).UnixMilli()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, payloadKey(h), data, 0)
	pipe.ZAdd(ctx, scheduleKey, goredis.Z{Score: float64(runAt), Member: string(h)})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("jobqueue: schedule: %w", err)
	}
	return h, nil
}

func (r *Redis) Cancel(ctx context.Context, h Handle) (bool, error) {
	n, err := r.client.ZRem(ctx, scheduleKey, string(h)).Result()
	if err != nil {
		return false, fmt.Errorf("jobqueue: cancel: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := r.client.Del(ctx, payloadKey(h)).Err(); err != nil {
		r.log.Warn("drop cancelled payload", "handle", h, "error", err)
	}
	return true, nil
}

func (r *Redis) Run(ctx context.Context, handler Handler) error {
	jobs := make(chan job)
	done := make(chan error, 1)
	go func() { done <- runWorkers(ctx, r.workers, r.DrainTimeout, jobs, handler) }()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return <-done
		case <-ticker.C:
			if err := r.poll(ctx, jobs); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("poll due jobs", "error", err)
			}
		}
	}
}

// poll claims due jobs and hands them to the workers. A job claimed while ctx
// is being cancelled goes back into the set with its original score.
func (r *Redis) poll(ctx context.Context, jobs chan<- job) error {
	due, err := r.client.ZRangeByScoreWithScores(ctx, scheduleKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: r.batch,
	}).Result()
	if err != nil {
		return err
	}

	for _, z := range due {
		member, _ := z.Member.(string)
		h := Handle(member)
		if err := ctx.Err(); err != nil {
			return err
		}
		claimed, err := r.client.ZRem(context.WithoutCancel(ctx), scheduleKey, member).Result()
		if err != nil {
			return err
		}
		if claimed == 0 {
			continue // another process took it, or it was cancelled
		}
		// The job is ours now; finish loading it even if ctx ends meanwhile.
		data, err := r.client.GetDel(context.WithoutCancel(ctx), payloadKey(h)).Bytes()
		if err != nil {
			r.log.Error("load claimed payload", "handle", h, "error", err)
			continue
		}
		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			r.log.Error("decode claimed payload", "handle", h, "error", err)
			continue
		}
		select {
		case jobs <- job{handle: h, payload: p}:
		case <-ctx.Done():
			r.requeue(ctx, h, data, z.Score)
			return ctx.Err()
		}
	}
	return nil
}

// requeue puts back a job that was claimed but never reached a worker.
func (r *Redis) requeue(ctx context.Context, h Handle, data []byte, score float64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, payloadKey(h), data, 0)
	pipe.ZAdd(ctx, scheduleKey, goredis.Z{Score: score, Member: string(h)})
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("requeue claimed job", "handle", h, "error", err)
		return
	}
	r.log.Info("requeued undelivered job", "handle", h)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
