package agent

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/decision"
	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/guardrail"
	"ASpec-Commerce/internal/settlement"
)

// DefaultProcurementLimits 是采购 Agent 的默认额度：日额度 2000，单笔上限 500。
var DefaultProcurementLimits = guardrail.Limits{
	DailyLimit:        decimal.NewFromInt(2000),
	MaxPerTransaction: decimal.NewFromInt(500),
}

var procurementShape = shape{
	kind:             decision.KindProcurement,
	amountKey:        decision.ParamAmount,
	startType:        events.TypeAnalysis,
	decisionType:     events.TypeDecision,
	exhaustedError:   "Daily spending limit reached",
	exhaustedThought: "Cannot execute - daily limit would be exceeded.",
	failurePrefix:    "Transaction failed: ",
	faultPrefix:      "Error during analysis: ",
}

// Procurement 根据供应商报价决定是否采购并付款。
type Procurement struct {
	base
}

// NewProcurement 创建采购 Agent。
func NewProcurement(oracle decision.Oracle, settle settlement.Oracle, opts ...Option) *Procurement {
	o := buildOptions(DefaultProcurementLimits, opts)
	return &Procurement{base{p: newPipeline(procurementShape, oracle, settle, o)}}
}

// AnalyzeAndExecute 分析一条报价，必要时在额度内付款给供应商。
func (a *Procurement) AnalyzeAndExecute(ctx context.Context, quote catalog.Supplier) (Outcome, error) {
	price := quote.CurrentPrice
	subj := subject{
		name:    quote.Name,
		product: quote.Product,
		price:   &price,
		wallet:  quote.Wallet,
		input:   decision.Context{Supplier: &quote},
		thought: fmt.Sprintf("Analyzing %s from %s at $%s...", quote.Product, quote.Name, quote.CurrentPrice),
	}
	return a.p.run(ctx, subj, func(amount decimal.Decimal, tx settlement.TransactionResult) {
		a.p.emit(events.TypeExecution, events.Payload{
			Subject:     quote.Name,
			Amount:      &amount,
			Transaction: &tx,
			Thought:     fmt.Sprintf("Successfully transferred $%s USDC to %s", amount, quote.Name),
		})
	})
}

// State 返回状态快照。
func (a *Procurement) State() State { return a.p.state() }
