package sinks

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/pkg/logger"
)

// EventWriter 是归档库的写入接口，*mysql.Archive 满足该接口。
type EventWriter interface {
	AppendEvent(ctx context.Context, evt events.Event) error
}

// Archive 把事件追加写入归档库。
type Archive struct {
	writer   EventWriter
	timeout  time.Duration
	failures atomic.Uint64
	log      *slog.Logger
}

// NewArchive 创建归档 sink。
func NewArchive(writer EventWriter) *Archive {
	return &Archive{writer: writer, timeout: 3 * time.Second, log: logger.Named("sinks.archive")}
}

// Observe 实现 events.Observer。
func (a *Archive) Observe(evt events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.writer.AppendEvent(ctx, evt); err != nil {
		a.failures.Add(1)
		a.log.Warn("归档事件失败", slog.String("event_id", evt.ID), slog.String("error", err.Error()))
	}
}

// Failures 返回归档失败的次数。
func (a *Archive) Failures() uint64 { return a.failures.Load() }
