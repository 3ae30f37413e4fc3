package agent

import (
	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/decision"
)

// Recorder 接收流水线的关键节点，用于指标统计。
type Recorder interface {
	Decision(kind decision.Kind, action decision.Action)
	Degraded(kind decision.Kind)
	Settlement(kind decision.Kind, amount decimal.Decimal, success bool)
	Exhausted(kind decision.Kind)
	Fault(kind decision.Kind)
}

type nopRecorder struct{}

func (nopRecorder) Decision(decision.Kind, decision.Action) {}
func (nopRecorder) Degraded(decision.Kind) {}
func (nopRecorder) Settlement(decision.Kind, decimal.Decimal, bool) {}
func (nopRecorder) Exhausted(decision.Kind) {}
func (nopRecorder) Fault(decision.Kind) {}
