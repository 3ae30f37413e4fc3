package paywall

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Pricing 把资源标识映射为付款要求，返回 nil 表示免费。
type Pricing interface {
	Price(resourceID string) *PaymentRequirement
}

// PricingFunc 让普通函数满足 Pricing，测试中用于构造确定的定价。
type PricingFunc func(resourceID string) *PaymentRequirement

// Price 实现 Pricing。
func (f PricingFunc) Price(resourceID string) *PaymentRequirement { return f(resourceID) }

// Rule 是一条定价规则：资源标识包含 Match 时生效。
type Rule struct {
	Match       string          `json:"match"`
	AmountDue   decimal.Decimal `json:"amountDue"`
	Currency    string          `json:"currency"`
	Payee       string          `json:"payee"`
	Network     string          `json:"network"`
	Description string          `json:"description"`
	ExpiresIn   time.Duration   `json:"expiresIn,omitempty"`
}

// ruleFile 是 YAML 中一条规则的原始形态，金额与时长以字符串书写。
type ruleFile struct {
	Match       string `yaml:"match"`
	Amount      string `yaml:"amount"`
	Currency    string `yaml:"currency"`
	Payee       string `yaml:"payee"`
	Network     string `yaml:"network"`
	Description string `yaml:"description"`
	ExpiresIn   string `yaml:"expires_in"`
}

type tableFile struct {
	Rules []ruleFile `yaml:"rules"`
}

// PriceTable 按顺序匹配规则，第一条命中的规则决定价格。
type PriceTable struct {
	mu    sync.RWMutex
	rules []Rule
	now   func() time.Time
}

// DefaultRules 返回内置的定价规则。
func DefaultRules() []Rule {
	usdc := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
	return []Rule{
		{Match: "/influencer/premium", AmountDue: usdc(5), Currency: "USDC", Payee: "0xINFLUENCER_WALLET_ADDRESS",
			Network: "ARC", Description: "Premium influencer data access", ExpiresIn: time.Hour},
		{Match: "/influencer/basic", AmountDue: usdc(1), Currency: "USDC", Payee: "0xINFLUENCER_WALLET_ADDRESS",
			Network: "ARC", Description: "Basic influencer data access"},
		{Match: "/marketing/campaign", AmountDue: usdc(10), Currency: "USDC", Payee: "0xMARKETING_SERVICE_WALLET",
			Network: "ARC", Description: "Campaign execution fee"},
		{Match: "/supplier/data", AmountDue: usdc(2), Currency: "USDC", Payee: "0xSUPPLIER_DATA_WALLET",
			Network: "ARC", Description: "Real-time supplier pricing data"},
	}
}

// NewPriceTable 创建定价表。rules 为空时使用内置规则。
func NewPriceTable(rules []Rule) *PriceTable {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &PriceTable{rules: append([]Rule(nil), rules...), now: time.Now}
}

// LoadPriceTable 从 YAML 文件加载定价表，路径为空时返回内置规则。
func LoadPriceTable(path string) (*PriceTable, error) {
	if strings.TrimSpace(path) == "" {
		return NewPriceTable(nil), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取定价文件失败: %w", err)
	}
	return ParsePriceTable(content)
}

// ParsePriceTable 解析 YAML 定价规则。
func ParsePriceTable(content []byte) (*PriceTable, error) {
	var file tableFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析定价文件失败: %w", err)
	}
	rules := make([]Rule, 0, len(file.Rules))
	for i, rf := range file.Rules {
		if strings.TrimSpace(rf.Match) == "" {
			return nil, fmt.Errorf("第 %d 条定价规则缺少 match", i+1)
		}
		amount, err := decimal.NewFromString(rf.Amount)
		if err != nil || !amount.IsPositive() {
			return nil, fmt.Errorf("定价规则 %s 的金额无效: %q", rf.Match, rf.Amount)
		}
		rule := Rule{
			Match:       rf.Match,
			AmountDue:   amount,
			Currency:    rf.Currency,
			Payee:       rf.Payee,
			Network:     rf.Network,
			Description: rf.Description,
		}
		if rule.Currency == "" {
			rule.Currency = "USDC"
		}
		if rule.Payee == "" {
			return nil, fmt.Errorf("定价规则 %s 缺少 payee", rf.Match)
		}
		if rf.ExpiresIn != "" {
			d, err := time.ParseDuration(rf.ExpiresIn)
			if err != nil {
				return nil, fmt.Errorf("定价规则 %s 的 expires_in 无效: %w", rf.Match, err)
			}
			rule.ExpiresIn = d
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("定价文件中没有规则")
	}
	return &PriceTable{rules: rules, now: time.Now}, nil
}

// Price 实现 Pricing。每次调用都生成新的付款要求，过期时间从当前时刻起算。
func (t *PriceTable) Price(resourceID string) *PaymentRequirement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.rules {
		if !strings.Contains(resourceID, r.Match) {
			continue
		}
		req := &PaymentRequirement{
			AmountDue:    r.AmountDue,
			Currency:     r.Currency,
			PayeeAddress: r.Payee,
			Network:      r.Network,
			Description:  r.Description,
		}
		if r.ExpiresIn != 0 {
			expires := t.now().Add(r.ExpiresIn)
			req.ExpiresAt = &expires
		}
		return req
	}
	return nil
}

// Rules 返回当前规则的副本，供接口展示可访问的资源。
func (t *PriceTable) Rules() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Rule(nil), t.rules...)
}

// SetClock 替换时间源，测试使用。
func (t *PriceTable) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}
