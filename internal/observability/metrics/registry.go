package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/decision"
	"ASpec-Commerce/internal/paywall"
)

// Registry 汇总 HTTP 请求指标与流水线计数器，并以 Prometheus 文本格式输出。
// 它满足 agent.Recorder，Paywall 方法可直接作为 paywall.WithObserver 的回调。
type Registry struct {
	http *httpCollector

	mu          sync.Mutex
	decisions   map[[2]string]uint64
	degraded    map[string]uint64
	settlements map[[2]string]uint64
	volume      map[string]decimal.Decimal
	exhausted   map[string]uint64
	faults      map[string]uint64
	paywall     map[string]uint64
	paid        decimal.Decimal
}

// NewRegistry 创建空的指标注册表。
func NewRegistry() *Registry {
	return &Registry{
		http:        newHTTPCollector(),
		decisions:   make(map[[2]string]uint64),
		degraded:    make(map[string]uint64),
		settlements: make(map[[2]string]uint64),
		volume:      make(map[string]decimal.Decimal),
		exhausted:   make(map[string]uint64),
		faults:      make(map[string]uint64),
		paywall:     make(map[string]uint64),
	}
}

// Decision 记录一次决策。
func (r *Registry) Decision(kind decision.Kind, action decision.Action) {
	r.mu.Lock()
	r.decisions[[2]string{string(kind), string(action)}]++
	r.mu.Unlock()
}

// Degraded 记录一次降级为 HOLD 的决策。
func (r *Registry) Degraded(kind decision.Kind) {
	r.mu.Lock()
	r.degraded[string(kind)]++
	r.mu.Unlock()
}

// Settlement 记录一次结算尝试，成功时累加结算金额。
func (r *Registry) Settlement(kind decision.Kind, amount decimal.Decimal, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	r.mu.Lock()
	r.settlements[[2]string{string(kind), outcome}]++
	if success {
		r.volume[string(kind)] = r.volume[string(kind)].Add(amount)
	}
	r.mu.Unlock()
}

// Exhausted 记录一次额度耗尽。
func (r *Registry) Exhausted(kind decision.Kind) {
	r.mu.Lock()
	r.exhausted[string(kind)]++
	r.mu.Unlock()
}

// Fault 记录一次流水线异常。
func (r *Registry) Fault(kind decision.Kind) {
	r.mu.Lock()
	r.faults[string(kind)]++
	r.mu.Unlock()
}

// Paywall 记录付费资源访问结果。
func (r *Registry) Paywall(_ string, resp paywall.Response) {
	outcome := "free"
	switch {
	case !resp.Success:
		outcome = strings.ToLower(string(resp.Code))
		if outcome == "" {
			outcome = "error"
		}
	case resp.Reused:
		outcome = "reused"
	case resp.Receipt != nil:
		outcome = "paid"
	}
	r.mu.Lock()
	r.paywall[outcome]++
	if outcome == "paid" {
		r.paid = r.paid.Add(resp.Receipt.AmountDue)
	}
	r.mu.Unlock()
}

// Handler 以 Prometheus 文本格式输出全部指标。
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(r.Render()))
	})
}

// Render 返回当前指标的文本表示。
func (r *Registry) Render() string {
	var b strings.Builder
	b.Grow(2048)
	r.http.render(&b)

	r.mu.Lock()
	defer r.mu.Unlock()

	header(&b, "aspec_agent_decisions_total", "counter", "Decisions produced by the decision oracle.")
	for _, k := range sortedPairs(r.decisions) {
		b.WriteString("aspec_agent_decisions_total{agent=\"" + escape(k[0]) + "\",action=\"" + escape(k[1]) + "\"} ")
		b.WriteString(formatUint(r.decisions[k]) + "\n")
	}
	header(&b, "aspec_agent_degraded_total", "counter", "Oracle failures degraded to HOLD.")
	writeByLabel(&b, "aspec_agent_degraded_total", "agent", r.degraded)
	header(&b, "aspec_agent_settlements_total", "counter", "Settlement attempts by outcome.")
	for _, k := range sortedPairs(r.settlements) {
		b.WriteString("aspec_agent_settlements_total{agent=\"" + escape(k[0]) + "\",outcome=\"" + k[1] + "\"} ")
		b.WriteString(formatUint(r.settlements[k]) + "\n")
	}
	header(&b, "aspec_agent_settled_usdc_total", "counter", "USDC committed against the daily budget.")
	for _, kind := range sortedKeys(r.volume) {
		b.WriteString("aspec_agent_settled_usdc_total{agent=\"" + escape(kind) + "\"} " + r.volume[kind].String() + "\n")
	}
	header(&b, "aspec_agent_budget_exhausted_total", "counter", "Executions skipped because the daily budget was exhausted.")
	writeByLabel(&b, "aspec_agent_budget_exhausted_total", "agent", r.exhausted)
	header(&b, "aspec_agent_faults_total", "counter", "Unexpected pipeline faults.")
	writeByLabel(&b, "aspec_agent_faults_total", "agent", r.faults)

	header(&b, "aspec_paywall_requests_total", "counter", "Paid resource requests by outcome.")
	writeByLabel(&b, "aspec_paywall_requests_total", "outcome", r.paywall)
	header(&b, "aspec_paywall_paid_usdc_total", "counter", "USDC paid to unlock resources.")
	b.WriteString("aspec_paywall_paid_usdc_total " + r.paid.String() + "\n")
	return b.String()
}

func writeByLabel(b *strings.Builder, name, label string, values map[string]uint64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(name + "{" + label + "=\"" + escape(k) + "\"} " + formatUint(values[k]) + "\n")
	}
}

func sortedPairs(m map[[2]string]uint64) [][2]string {
	out := make([][2]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }
