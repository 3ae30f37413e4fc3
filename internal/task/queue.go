package task

import (
	"context"
	"fmt"

	"ASpec-Commerce/internal/config"
)

// Handler 处理来自消息队列的任务 ID。
type Handler func(ctx context.Context, taskID string) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// NewQueue 按 task_queue.driver 创建队列。
func NewQueue(cfg config.TaskQueueConfig) (Queue, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return NewRedisQueue(RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Key,
		})
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.Workers,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("不支持的任务队列: %s", cfg.Driver)
	}
}
