package guardrail

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "ASpec-Commerce/internal/errors"
)

// Limits 描述一个 Agent 的额度约束。
type Limits struct {
	DailyLimit        decimal.Decimal `json:"dailyLimit"`
	MaxPerTransaction decimal.Decimal `json:"maxPerTransaction"`
}

// Validate 校验额度是否为非负数。
func (l Limits) Validate() error {
	if l.DailyLimit.IsNegative() {
		return xerrors.New(xerrors.CodeInvalidArgument, "dailyLimit 不能为负数")
	}
	if l.MaxPerTransaction.IsNegative() {
		return xerrors.New(xerrors.CodeInvalidArgument, "maxPerTransaction 不能为负数")
	}
	return nil
}

// Snapshot 是某一时刻额度状态的只读视图。
type Snapshot struct {
	DailySpent        decimal.Decimal `json:"dailySpent"`
	DailyLimit        decimal.Decimal `json:"dailyLimit"`
	MaxPerTransaction decimal.Decimal `json:"maxPerTransaction"`
	Reserved          decimal.Decimal `json:"reserved"`
	Remaining         decimal.Decimal `json:"remaining"`
	LastReset         time.Time       `json:"lastReset"`
}

// Clamp 计算 min(proposed, maxPerTransaction, dailyLimit - spent)。
func Clamp(proposed decimal.Decimal, limits Limits, spent decimal.Decimal) decimal.Decimal {
	return decimal.Min(proposed, limits.MaxPerTransaction, limits.DailyLimit.Sub(spent))
}

// Ledger 维护单个 Agent 实例的日额度。所有读取、裁剪与提交都在同一把锁内完成，
// 并发调用时尚未结算的金额以预留形式计入，避免多个请求基于过期的 dailySpent 超支。
type Ledger struct {
	mu       sync.Mutex
	limits   Limits
	spent    decimal.Decimal
	reserved decimal.Decimal
	reset    time.Time
	now      func() time.Time
	onCommit func(Snapshot)
}

// Option 定制 Ledger。
type Option func(*Ledger)

// WithClock 替换时间源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithCommitHook 在每次成功提交后以最新快照回调。
func WithCommitHook(fn func(Snapshot)) Option {
	return func(l *Ledger) { l.onCommit = fn }
}

// WithSpent 以已有消费额初始化，仅用于恢复演示数据和测试。
func WithSpent(spent decimal.Decimal) Option {
	return func(l *Ledger) { l.spent = spent }
}

// NewLedger 创建额度账本。
func NewLedger(limits Limits, opts ...Option) *Ledger {
	l := &Ledger{limits: limits, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.reset = l.now()
	return l
}

// Reserve 按当前状态裁剪 proposed，并把裁剪结果预留下来。
// 裁剪结果不大于 0 时返回 BUDGET_EXHAUSTED，不做任何预留。
func (l *Ledger) Reserve(proposed decimal.Decimal) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	clamped := Clamp(proposed, l.limits, l.spent.Add(l.reserved))
	if !clamped.IsPositive() {
		return nil, xerrors.New(xerrors.CodeBudgetExhausted, "",
			xerrors.WithMetadata("proposed", proposed.String()),
			xerrors.WithMetadata("spent", l.spent.String()),
			xerrors.WithMetadata("dailyLimit", l.limits.DailyLimit.String()))
	}
	l.reserved = l.reserved.Add(clamped)
	return &Reservation{ledger: l, Proposed: proposed, Amount: clamped}, nil
}

// Reset 把 dailySpent 归零，由外部调度触发。
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.spent = decimal.Zero
	l.reset = l.now()
	l.mu.Unlock()
}

// Update 局部更新额度，nil 表示保持原值。新的日额度不能低于已消费与已预留之和。
func (l *Ledger) Update(dailyLimit, maxPerTransaction *decimal.Decimal) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.limits
	if dailyLimit != nil {
		next.DailyLimit = *dailyLimit
	}
	if maxPerTransaction != nil {
		next.MaxPerTransaction = *maxPerTransaction
	}
	if err := next.Validate(); err != nil {
		return l.snapshotLocked(), err
	}
	if next.DailyLimit.LessThan(l.spent.Add(l.reserved)) {
		return l.snapshotLocked(), xerrors.New(xerrors.CodeConflict, "dailyLimit 低于当日已使用额度",
			xerrors.WithMetadata("spent", l.spent.String()))
	}
	l.limits = next
	return l.snapshotLocked(), nil
}

// Limits 返回当前额度配置。
func (l *Ledger) Limits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

// Snapshot 返回当前状态。
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	remaining := l.limits.DailyLimit.Sub(l.spent).Sub(l.reserved)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Snapshot{
		DailySpent:        l.spent,
		DailyLimit:        l.limits.DailyLimit,
		MaxPerTransaction: l.limits.MaxPerTransaction,
		Reserved:          l.reserved,
		Remaining:         remaining,
		LastReset:         l.reset,
	}
}

// Reservation 是一次已裁剪、尚未结算的额度占用。
type Reservation struct {
	ledger   *Ledger
	Proposed decimal.Decimal
	Amount   decimal.Decimal
	done     bool
}

// Commit 在结算确认成功后把裁剪金额计入 dailySpent，重复调用无效果。
func (r *Reservation) Commit() Snapshot {
	l := r.ledger
	l.mu.Lock()
	if r.done {
		snap := l.snapshotLocked()
		l.mu.Unlock()
		return snap
	}
	r.done = true
	l.reserved = l.reserved.Sub(r.Amount)
	l.spent = l.spent.Add(r.Amount)
	snap := l.snapshotLocked()
	hook := l.onCommit
	l.mu.Unlock()

	if hook != nil {
		hook(snap)
	}
	return snap
}

// Release 在结算失败后归还预留额度，dailySpent 不变。
func (r *Reservation) Release() {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	l.reserved = l.reserved.Sub(r.Amount)
}
