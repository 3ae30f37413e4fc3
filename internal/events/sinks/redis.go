package sinks

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/pkg/logger"
)

// Publisher 是 Redis 客户端中本 sink 用到的部分，*redis.Client 满足该接口。
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis 把事件以 JSON 形式 PUBLISH 到 <prefix>:<agent> 频道。
type Redis struct {
	client   Publisher
	prefix   string
	timeout  time.Duration
	failures atomic.Uint64
	log      *slog.Logger
}

// NewRedis 创建 Redis sink。
func NewRedis(client Publisher, prefix string) *Redis {
	if prefix == "" {
		prefix = "aspec:events"
	}
	return &Redis{client: client, prefix: prefix, timeout: 2 * time.Second, log: logger.Named("sinks.redis")}
}

// Channel 返回某类 Agent 的事件频道。
func (r *Redis) Channel(agent string) string { return r.prefix + ":" + agent }

// Observe 实现 events.Observer。
func (r *Redis) Observe(evt events.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		r.fail(evt, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.Channel(string(evt.Agent)), body).Err(); err != nil {
		r.fail(evt, err)
	}
}

func (r *Redis) fail(evt events.Event, err error) {
	r.failures.Add(1)
	r.log.Warn("发布事件到 Redis 失败", slog.String("event_id", evt.ID), slog.String("error", err.Error()))
}

// Failures 返回发布失败的次数。
func (r *Redis) Failures() uint64 { return r.failures.Load() }
