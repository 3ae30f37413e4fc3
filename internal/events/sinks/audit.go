package sinks

import (
	"log/slog"
	"sync/atomic"

	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/pkg/logger"
)

// Audit 把每条事件写入审计日志。
type Audit struct {
	log     *slog.Logger
	written atomic.Uint64
}

// NewAudit 创建审计 sink，log 为 nil 时使用 logger.Audit()。
func NewAudit(log *slog.Logger) *Audit {
	if log == nil {
		log = logger.Audit()
	}
	return &Audit{log: log}
}

// Observe 实现 events.Observer。
func (a *Audit) Observe(evt events.Event) {
	attrs := []any{
		slog.String("event_id", evt.ID),
		slog.String("agent", string(evt.Agent)),
		slog.String("type", string(evt.Type)),
		slog.Time("timestamp", evt.Timestamp),
	}
	p := evt.Payload
	if p.Subject != "" {
		attrs = append(attrs, slog.String("subject", p.Subject))
	}
	if p.Decision != nil {
		attrs = append(attrs,
			slog.String("action", string(p.Decision.Action)),
			slog.Int("confidence", p.Decision.Confidence))
	}
	if p.Amount != nil {
		attrs = append(attrs, slog.String("amount", p.Amount.String()))
	}
	if p.Transaction != nil {
		attrs = append(attrs,
			slog.Bool("tx_success", p.Transaction.Success),
			slog.String("tx_reference", p.Transaction.Reference))
	}
	if p.Thought != "" {
		attrs = append(attrs, slog.String("thought", p.Thought))
	}
	if p.Error != "" {
		attrs = append(attrs, slog.String("error", p.Error))
		a.log.Warn("agent_event", attrs...)
	} else {
		a.log.Info("agent_event", attrs...)
	}
	a.written.Add(1)
}

// Written 返回已写入的事件数量。
func (a *Audit) Written() uint64 { return a.written.Load() }
