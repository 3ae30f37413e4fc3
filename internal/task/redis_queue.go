package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ASpec-Commerce/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// redisList 是队列用到的 list 命令，*redis.Client 满足该接口。
type redisList interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

// RedisQueue 使用 Redis list 实现任务队列：LPUSH 入队，BRPOP 出队。
type RedisQueue struct {
	client redisList
	queue  string
	wait   time.Duration
}

// NewRedisQueue 连接 Redis 并创建队列。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisQueue(client, cfg.Queue, cfg.BlockWait), nil
}

func newRedisQueue(client redisList, queue string, wait time.Duration) *RedisQueue {
	if queue == "" {
		queue = "aspec:jobs"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return fmt.Errorf("Redis 发布任务失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 取任务。handler 返回错误时任务被放回队尾重新处理。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			errCh <- q.work(ctx, handler)
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrClosed) {
				return err
			}
			return fmt.Errorf("Redis 取任务失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}
		taskID := values[1]
		if handlerErr := handler(ctx, taskID); handlerErr != nil {
			logger.Named("task").Warn("任务处理失败，放回队列",
				slog.String("task_id", taskID),
				slog.String("error", handlerErr.Error()))
			_ = q.client.RPush(ctx, q.queue, taskID).Err()
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
