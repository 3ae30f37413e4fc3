package decision

import (
	"context"
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/guardrail"
)

// Action 是决策方给出的动作。
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionHold    Action = "HOLD"
	ActionReject  Action = "REJECT"
)

// Kind 区分两类 Agent。
type Kind string

const (
	KindProcurement Kind = "procurement"
	KindMarketing   Kind = "marketing"
)

// 各类 Agent 在 parameters 中携带提议金额的字段名。
const (
	ParamAmount          = "amount"
	ParamSuggestedBudget = "suggestedBudget"
)

// Decision 是一次不可变的决策结果。
type Decision struct {
	Action     Action         `json:"action"`
	Reasoning  string         `json:"reasoning"`
	Confidence int            `json:"confidence"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Clone 返回深拷贝，调用方可以安全地把决策挂到多个事件上。
func (d Decision) Clone() Decision {
	if d.Parameters == nil {
		return d
	}
	raw, err := json.Marshal(d.Parameters)
	if err != nil {
		return d
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return d
	}
	d.Parameters = params
	return d
}

// Amount 读取 parameters[key] 中的提议金额。缺失、非数值、非有限值或 0 都视为没有金额。
func (d Decision) Amount(key string) (decimal.Decimal, bool) {
	raw, ok := d.Parameters[key]
	if !ok {
		return decimal.Zero, false
	}
	var amount decimal.Decimal
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		amount = decimal.NewFromFloat(v)
	case int:
		amount = decimal.NewFromInt(int64(v))
	case int64:
		amount = decimal.NewFromInt(v)
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		amount = parsed
	case decimal.Decimal:
		amount = v
	default:
		return decimal.Zero, false
	}
	if amount.IsZero() {
		return decimal.Zero, false
	}
	return amount, true
}

// Context 是提交给决策方的结构化输入：评估对象与当前额度快照。
type Context struct {
	Kind       Kind
	Supplier   *catalog.Supplier
	Influencer *catalog.Influencer
	Guardrail  guardrail.Snapshot
}

// Oracle 根据上下文给出决策。
type Oracle interface {
	Decide(ctx context.Context, in Context) (Decision, error)
}

// Func 让普通函数满足 Oracle。
type Func func(ctx context.Context, in Context) (Decision, error)

// Decide 实现 Oracle。
func (f Func) Decide(ctx context.Context, in Context) (Decision, error) { return f(ctx, in) }
