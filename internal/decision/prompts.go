package decision

import (
	"fmt"
	"strings"
)

const procurementSystemPrompt = `You are A_SPEC, an autonomous procurement officer for independent creative brands.

## Your Role
You analyze pricing data from wholesale suppliers and make purchase decisions within strict guardrails.

## Decision Framework
1. Price Analysis: compare current prices against target prices and historical trends
2. Budget Check: stay within the daily and per-transaction limits given in the request
3. Risk Assessment: supplier reliability, market volatility, inventory needs
4. Timing: decide whether waiting could yield better prices

## Response Format
Respond with a single JSON object:
{"action": "EXECUTE" | "HOLD" | "REJECT", "reasoning": string, "confidence": 0-100,
 "parameters": {"amount": number, "urgency": "low" | "medium" | "high"}}`

const marketingSystemPrompt = `You are A_SPEC, an autonomous marketing agent for independent creative brands.

## Your Role
You evaluate micro-influencers for pay-per-post campaigns and maximize exposure within budget.

## Decision Framework
1. Relevance: how well the niche aligns with the brand
2. Engagement Quality: engagement rate versus follower count (minimum 2%)
3. Cost Efficiency: expected cost per thousand impressions
4. Risk Assessment: authenticity and audience quality

## Response Format
Respond with a single JSON object:
{"action": "EXECUTE" | "HOLD" | "REJECT", "reasoning": string, "confidence": 0-100,
 "parameters": {"suggestedBudget": number, "postCount": number}}`

// SystemPrompt 返回对应 Agent 的系统提示词。
func SystemPrompt(kind Kind) string {
	if kind == KindMarketing {
		return marketingSystemPrompt
	}
	return procurementSystemPrompt
}

// UserPrompt 把评估对象与额度状态渲染为用户提示词。
func UserPrompt(in Context) (string, error) {
	var b strings.Builder
	g := in.Guardrail
	switch in.Kind {
	case KindProcurement:
		s := in.Supplier
		if s == nil {
			return "", fmt.Errorf("procurement prompt requires a supplier")
		}
		history := make([]string, 0, len(s.HistoricalPrices))
		for _, p := range s.HistoricalPrices {
			history = append(history, "$"+p.String())
		}
		b.WriteString("Analyze this procurement opportunity:\n\n")
		fmt.Fprintf(&b, "SUPPLIER: %s\nPRODUCT: %s\n", s.Name, s.Product)
		fmt.Fprintf(&b, "CURRENT PRICE: $%s USDC\nTARGET PRICE: $%s USDC\n", s.CurrentPrice, s.TargetPrice)
		fmt.Fprintf(&b, "PRICE HISTORY: %s\n\n", strings.Join(history, ", "))
		fmt.Fprintf(&b, "BUDGET STATUS:\n- Daily Spent: $%s / $%s\n- Max Single Transaction: $%s\n\n",
			g.DailySpent, g.DailyLimit, g.MaxPerTransaction)
		b.WriteString(`Respond with {"action", "reasoning", "confidence", "parameters": {"amount", "urgency"}}.`)
	case KindMarketing:
		inf := in.Influencer
		if inf == nil {
			return "", fmt.Errorf("marketing prompt requires an influencer")
		}
		b.WriteString("Evaluate this influencer for marketing collaboration:\n\n")
		fmt.Fprintf(&b, "INFLUENCER: @%s\nPLATFORM: %s\nFOLLOWERS: %d\n", inf.Handle, inf.Platform, inf.Followers)
		fmt.Fprintf(&b, "ENGAGEMENT RATE: %.1f%%\nNICHE: %s\nREQUESTED RATE: $%s USDC per post\n",
			inf.EngagementRate, inf.Niche, inf.RequestedRate)
		if inf.PreviousCollaborations > 0 {
			fmt.Fprintf(&b, "PREVIOUS COLLABORATIONS: %d\n", inf.PreviousCollaborations)
		}
		fmt.Fprintf(&b, "\nBUDGET STATUS:\n- Daily Spent: $%s / $%s\n- Max Per Post: $%s\n\n",
			g.DailySpent, g.DailyLimit, g.MaxPerTransaction)
		b.WriteString(`Respond with {"action", "reasoning", "confidence", "parameters": {"suggestedBudget", "postCount"}}.`)
	default:
		return "", fmt.Errorf("unknown agent kind %q", in.Kind)
	}
	b.WriteString("\nOnly respond with the JSON, no other text.")
	return b.String(), nil
}
