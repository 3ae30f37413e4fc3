package agent

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/guardrail"
	"ASpec-Commerce/internal/paywall"
	"ASpec-Commerce/internal/settlement"
)

// DefaultMarketingLimits 是营销 Agent 的默认额度：日额度 500，单帖上限 100。
var DefaultMarketingLimits = guardrail.Limits{
	DailyLimit:        decimal.NewFromInt(500),
	MaxPerTransaction: decimal.NewFromInt(100),
}

// DiscoveryResource 是达人资料的付费资源标识。
const DiscoveryResource = "/api/influencer/premium"

// discoveryAutoPayLimit 是发现达人时允许自动支付的上限。
var discoveryAutoPayLimit = decimal.NewFromInt(10)

var marketingShape = shape{
	kind:             decision.KindMarketing,
	amountKey:        decision.ParamSuggestedBudget,
	startType:        events.TypeEvaluation,
	decisionType:     events.TypeEvaluation,
	exhaustedError:   "Daily marketing budget exhausted",
	exhaustedThought: "Cannot engage - daily marketing limit reached.",
	failurePrefix:    "Payment failed: ",
	faultPrefix:      "Error during evaluation: ",
}

// Fetcher 通过付费协议获取资源，*paywall.Protocol 满足该接口。
type Fetcher interface {
	Fetch(ctx context.Context, resourceID string, opts paywall.FetchOptions) paywall.Response
}

// Marketing 评估达人并支付合作费用。
type Marketing struct {
	base
	fetcher Fetcher

	mu     sync.RWMutex
	active []string
}

// NewMarketing 创建营销 Agent。fetcher 为 nil 时 DiscoverInfluencers 不可用。
func NewMarketing(oracle decision.Oracle, settle settlement.Oracle, fetcher Fetcher, opts ...Option) *Marketing {
	o := buildOptions(DefaultMarketingLimits, opts)
	return &Marketing{base: base{p: newPipeline(marketingShape, oracle, settle, o)}, fetcher: fetcher}
}

// DiscoverInfluencers 通过付费资源获取达人资料。
func (a *Marketing) DiscoverInfluencers(ctx context.Context) paywall.Response {
	a.p.inFlight.Add(1)
	defer a.p.inFlight.Add(-1)

	a.p.emit(events.TypeDiscovery, events.Payload{Thought: "Querying influencer database via x402 protocol..."})

	var resp paywall.Response
	if a.fetcher == nil {
		resp = paywall.Response{Error: "paid resource access is not configured", Code: xerrors.CodeInitializationFailure}
	} else {
		resp = a.fetcher.Fetch(ctx, DiscoveryResource, paywall.FetchOptions{AutoPayLimit: &discoveryAutoPayLimit})
	}

	thought := fmt.Sprintf("Retrieved %d influencer profiles", countProfiles(resp.Payload))
	if !resp.Success {
		if resp.Requirement != nil {
			thought = fmt.Sprintf("x402 payment required: $%s", resp.Requirement.AmountDue)
		} else {
			thought = "x402 request failed: " + resp.Error
		}
	}
	a.p.emit(events.TypeDiscovery, events.Payload{Resource: &resp, Thought: thought, Error: resp.Error})
	return resp
}

func countProfiles(payload any) int {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m["influencers"].(type) {
	case []map[string]any:
		return len(v)
	case []any:
		return len(v)
	default:
		return 0
	}
}

// EvaluateAndEngage 评估一位达人，必要时在额度内支付合作费用。
// 支付成功后依次记录 payment 与 campaign 两条事件。
func (a *Marketing) EvaluateAndEngage(ctx context.Context, inf catalog.Influencer) (Outcome, error) {
	thought := fmt.Sprintf("Evaluating @%s (%s followers, %s%% engagement)...",
		inf.Handle, groupThousands(inf.Followers), strconv.FormatFloat(inf.EngagementRate, 'f', -1, 64))
	subj := subject{
		name:     inf.Handle,
		platform: inf.Platform,
		wallet:   inf.Wallet,
		input:    decision.Context{Influencer: &inf},
		thought:  thought,
	}
	return a.p.run(ctx, subj, func(amount decimal.Decimal, tx settlement.TransactionResult) {
		a.markActive(inf.Handle)
		a.p.emit(events.TypePayment, events.Payload{
			Subject:     inf.Handle,
			Amount:      &amount,
			Transaction: &tx,
			Thought:     fmt.Sprintf("Payment of $%s USDC sent to @%s for campaign collaboration", amount, inf.Handle),
		})
		a.p.emit(events.TypeCampaign, events.Payload{
			Subject: inf.Handle,
			Thought: fmt.Sprintf("Campaign activated with @%s - awaiting post confirmation", inf.Handle),
		})
	})
}

func (a *Marketing) markActive(handle string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, h := range a.active {
		if h == handle {
			return
		}
	}
	a.active = append(a.active, handle)
}

// ActiveInfluencers 返回已支付合作费用的达人，按首次合作的顺序排列。
func (a *Marketing) ActiveInfluencers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.active...)
}

// State 返回状态快照，包含已合作的达人。
func (a *Marketing) State() State {
	s := a.p.state()
	s.ActiveInfluencers = a.ActiveInfluencers()
	return s
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
