// internal/jobs/redis_queue.go
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"abcom-trader/pkg/logger"
)

const (
	scheduledKey  = "engine:jobs:scheduled"  // ZSET: member=json(job), score=executeAt
	readyKey      = "engine:jobs:ready"      // LIST готовых задач
	processingKey = "engine:jobs:processing" // HASH id -> json(job)

	promoteBatch = 100
	popTimeout   = 1 * time.Second
)

// RedisQueue - устойчивая очередь задач поверх Redis.
// Отложенные задачи лежат в ZSET по времени запуска, готовые
// перекладываются в список и забираются через BRPOP.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue создаёт очередь поверх готового клиента
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	job.Status = StatusPending
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: marshal job: %w", err)
	}
	err = q.client.ZAdd(ctx, scheduledKey, &redis.Z{
		Score:  float64(job.ExecuteAt.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", job.Type, err)
	}
	return nil
}

// Dequeue продвигает созревшие задачи из ZSET в список и забирает одну.
// Возвращает nil, nil если за таймаут опроса ничего не появилось.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promote(ctx); err != nil {
		return nil, err
	}

	result, err := q.client.BRPop(ctx, popTimeout, readyKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs: BRPOP: %w", err)
	}

	// result[0] - имя очереди, result[1] - payload
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Error("❌ RedisQueue: ошибка десериализации задачи, дроп: %v", err)
		return nil, nil
	}

	job.Status = StatusProcessing
	data, _ := json.Marshal(job)
	if err := q.client.HSet(ctx, processingKey, job.ID, data).Err(); err != nil {
		return nil, fmt.Errorf("jobs: mark processing: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.HDel(ctx, processingKey, jobID).Err()
}

func (q *RedisQueue) Nack(ctx context.Context, job Job, retryAt time.Time) error {
	if err := q.client.HDel(ctx, processingKey, job.ID).Err(); err != nil {
		return err
	}
	job.Status = StatusPending
	job.ExecuteAt = retryAt
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: marshal job: %w", err)
	}
	return q.client.ZAdd(ctx, scheduledKey, &redis.Z{
		Score:  float64(retryAt.Unix()),
		Member: data,
	}).Err()
}

// Recover возвращает в очередь задачи, зависшие в processing после падения
// процесса. Вызывается один раз при старте, до запуска воркеров.
func (q *RedisQueue) Recover(ctx context.Context) error {
	entries, err := q.client.HGetAll(ctx, processingKey).Result()
	if err != nil {
		return fmt.Errorf("jobs: recover: %w", err)
	}
	for id, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.client.HDel(ctx, processingKey, id)
			continue
		}
		if err := q.Nack(ctx, job, time.Now().UTC()); err != nil {
			return err
		}
	}
	if len(entries) > 0 {
		logger.Warn("⚠️ RedisQueue: возвращено %d зависших задач", len(entries))
	}
	return nil
}

// promote атомарно переносит созревшие задачи из scheduled в ready.
// ZREM служит захватом: член удаляет только один из конкурирующих воркеров.
func (q *RedisQueue) promote(ctx context.Context) error {
	now := time.Now().UTC().Unix()
	members, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("jobs: promote: %w", err)
	}

	for _, m := range members {
		removed, err := q.client.ZRem(ctx, scheduledKey, m).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // захватил другой воркер
		}
		if err := q.client.LPush(ctx, readyKey, m).Err(); err != nil {
			return err
		}
	}
	return nil
}
