package agent

import (
	"time"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/decision"
	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/guardrail"
)

// State 是 Agent 状态的只读快照。
type State struct {
	Kind              decision.Kind   `json:"kind"`
	IsActive          bool            `json:"isActive"`
	DailySpent        decimal.Decimal `json:"dailySpent"`
	DailyLimit        decimal.Decimal `json:"dailyLimit"`
	MaxPerTransaction decimal.Decimal `json:"maxPerTransaction"`
	Reserved          decimal.Decimal `json:"reserved"`
	Remaining         decimal.Decimal `json:"remaining"`
	LastReset         time.Time       `json:"lastReset"`
	LastActivity      *time.Time      `json:"lastActivity,omitempty"`
	EventCount        int             `json:"eventCount"`
	ActiveInfluencers []string        `json:"activeInfluencers,omitempty"`
}

func (p *pipeline) state() State {
	snap := p.ledger.Snapshot()
	return State{
		Kind:              p.shape.kind,
		IsActive:          p.active(),
		DailySpent:        snap.DailySpent,
		DailyLimit:        snap.DailyLimit,
		MaxPerTransaction: snap.MaxPerTransaction,
		Reserved:          snap.Reserved,
		Remaining:         snap.Remaining,
		LastReset:         snap.LastReset,
		LastActivity:      p.lastActive(),
		EventCount:        p.events.Len(),
	}
}

// base 提供两类 Agent 共有的操作。
type base struct {
	p *pipeline
}

// Kind 返回 Agent 类型。
func (b base) Kind() decision.Kind { return b.p.shape.kind }

// IsActive 报告是否有调用正在进行。
func (b base) IsActive() bool { return b.p.active() }

// ResetDailySpending 把当日已消费额归零。
func (b base) ResetDailySpending() {
	b.p.ledger.Reset()
	b.p.log.Info("当日额度已重置")
}

// UpdateGuardrails 局部更新额度，nil 表示保持原值。
func (b base) UpdateGuardrails(dailyLimit, maxPerTransaction *decimal.Decimal) (guardrail.Snapshot, error) {
	return b.p.ledger.Update(dailyLimit, maxPerTransaction)
}

// Guardrail 返回当前额度快照。
func (b base) Guardrail() guardrail.Snapshot { return b.p.ledger.Snapshot() }

// RecentEvents 返回最近 n 条事件。
func (b base) RecentEvents(n int) []events.Event { return b.p.events.Recent(n) }

// Events 返回全部事件。
func (b base) Events() []events.Event { return b.p.events.All() }

// ClearEvents 清空事件序列。
func (b base) ClearEvents() { b.p.events.Clear() }

// Subscribe 订阅新事件，返回取消订阅的函数。
func (b base) Subscribe(fn events.Observer) func() { return b.p.events.Subscribe(fn) }
