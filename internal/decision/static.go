package decision

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	xerrors "ASpec-Commerce/internal/errors"
)

// MinEngagementRate 是营销 Agent 接受的最低互动率（百分比）。
const MinEngagementRate = 2.0

// Static 是基于规则的确定性决策方，用于离线演示和测试。
//
// 采购：现价不高于目标价时买入，折扣越大提议金额越高；否则观望。
// 营销：互动率低于 2% 拒绝，报价超过单帖上限观望，其余按报价投放。
type Static struct{}

// Decide 实现 Oracle。
func (Static) Decide(_ context.Context, in Context) (Decision, error) {
	switch in.Kind {
	case KindProcurement:
		if in.Supplier == nil {
			return Decision{}, xerrors.New(xerrors.CodeInvalidArgument, "procurement context without supplier")
		}
		return procurementRule(in), nil
	case KindMarketing:
		if in.Influencer == nil {
			return Decision{}, xerrors.New(xerrors.CodeInvalidArgument, "marketing context without influencer")
		}
		return marketingRule(in), nil
	default:
		return Decision{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown agent kind %q", in.Kind))
	}
}

func procurementRule(in Context) Decision {
	s := in.Supplier
	if s.TargetPrice.IsZero() || s.CurrentPrice.GreaterThan(s.TargetPrice) {
		return Decision{
			Action:     ActionHold,
			Reasoning:  fmt.Sprintf("Current price $%s is above target $%s. Waiting for a better entry.", s.CurrentPrice.StringFixed(2), s.TargetPrice.StringFixed(2)),
			Confidence: 60,
			Parameters: map[string]any{"urgency": "low"},
		}
	}

	discount := s.TargetPrice.Sub(s.CurrentPrice).Div(s.TargetPrice).Mul(decimal.NewFromInt(100))
	urgency, share := "low", decimal.NewFromFloat(0.25)
	switch {
	case discount.GreaterThanOrEqual(decimal.NewFromInt(15)):
		urgency, share = "high", decimal.NewFromInt(1)
	case discount.GreaterThanOrEqual(decimal.NewFromInt(5)):
		urgency, share = "medium", decimal.NewFromFloat(0.5)
	}
	amount := in.Guardrail.MaxPerTransaction.Mul(share).Round(2)
	confidence := 50 + int(discount.Round(0).IntPart())*2
	if confidence > 95 {
		confidence = 95
	}
	amountF, _ := amount.Float64()
	return Decision{
		Action:     ActionExecute,
		Reasoning:  fmt.Sprintf("Current price $%s is %s%% below target $%s. Buy signal.", s.CurrentPrice.StringFixed(2), discount.StringFixed(0), s.TargetPrice.StringFixed(2)),
		Confidence: confidence,
		Parameters: map[string]any{ParamAmount: amountF, "urgency": urgency},
	}
}

func marketingRule(in Context) Decision {
	inf := in.Influencer
	if inf.EngagementRate < MinEngagementRate {
		return Decision{
			Action:     ActionReject,
			Reasoning:  fmt.Sprintf("%.1f%% engagement is below the %.0f%% minimum.", inf.EngagementRate, MinEngagementRate),
			Confidence: 80,
		}
	}
	if inf.RequestedRate.GreaterThan(in.Guardrail.MaxPerTransaction) {
		return Decision{
			Action:     ActionHold,
			Reasoning:  fmt.Sprintf("Requested $%s per post exceeds the $%s per-post limit.", inf.RequestedRate.StringFixed(0), in.Guardrail.MaxPerTransaction.StringFixed(0)),
			Confidence: 65,
		}
	}
	budget, _ := inf.RequestedRate.Float64()
	confidence := 60 + int(inf.EngagementRate*5)
	if confidence > 95 {
		confidence = 95
	}
	return Decision{
		Action:     ActionExecute,
		Reasoning:  fmt.Sprintf("%.1f%% engagement on %d followers in %s. $%s/post is good value.", inf.EngagementRate, inf.Followers, inf.Niche, inf.RequestedRate.StringFixed(0)),
		Confidence: confidence,
		Parameters: map[string]any{ParamSuggestedBudget: budget, "postCount": 3},
	}
}

var _ Oracle = Static{}
