package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/pkg/logger"
)

// AMQPChannel 是 *amqp.Channel 中本 sink 用到的部分。
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQ 把事件发布到 fanout 交换机，路由键为 Agent 类型。
type RabbitMQ struct {
	ch       AMQPChannel
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration
	failures atomic.Uint64
	log      *slog.Logger
}

// DialRabbitMQ 连接 RabbitMQ 并声明交换机。
func DialRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	if url == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	sink, err := NewRabbitMQ(ch, exchange)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	sink.conn = conn
	return sink, nil
}

// NewRabbitMQ 基于已有 channel 创建 sink，并声明持久化的 fanout 交换机。
func NewRabbitMQ(ch AMQPChannel, exchange string) (*RabbitMQ, error) {
	if exchange == "" {
		exchange = "aspec.events"
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	return &RabbitMQ{ch: ch, exchange: exchange, timeout: 2 * time.Second, log: logger.Named("sinks.rabbitmq")}, nil
}

// Observe 实现 events.Observer。
func (r *RabbitMQ) Observe(evt events.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		r.fail(evt, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err = r.ch.PublishWithContext(ctx, r.exchange, string(evt.Agent), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.Timestamp,
		Type:         string(evt.Type),
		Body:         body,
	})
	if err != nil {
		r.fail(evt, err)
	}
}

func (r *RabbitMQ) fail(evt events.Event, err error) {
	r.failures.Add(1)
	r.log.Warn("发布事件到 RabbitMQ 失败", slog.String("event_id", evt.ID), slog.String("error", err.Error()))
}

// Failures 返回发布失败的次数。
func (r *RabbitMQ) Failures() uint64 { return r.failures.Load() }

// Close 关闭由 DialRabbitMQ 打开的连接。
func (r *RabbitMQ) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
