package settlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/pkg/logger"
)

const (
	DefaultMockBalance  = 10000
	DefaultExplorerURL  = "https://testnet-explorer.arc.network"
	DefaultMockAddress  = "0xMOCK_WALLET_ADDRESS_FOR_DEMO"
	mockGasUsed         = "21000"
	insufficientBalance = "Insufficient USDC balance"
)

// ReferenceGenerator 为成功的模拟转账生成交易引用。
type ReferenceGenerator func() string

// RandomReferences 生成 0x + 时间戳 + 随机后缀 形式的引用。
func RandomReferences() ReferenceGenerator {
	return func() string {
		buf := make([]byte, 4)
		_, _ = rand.Read(buf)
		return fmt.Sprintf("0x%x%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
	}
}

// SequentialReferences 生成可预测的引用，测试断言使用。
func SequentialReferences() ReferenceGenerator {
	var n atomic.Uint64
	return func() string {
		return fmt.Sprintf("0x%064x", n.Add(1))
	}
}

// Transfer 记录一次模拟转账请求。
type Transfer struct {
	Destination string
	Amount      decimal.Decimal
	Result      TransactionResult
	At          time.Time
}

// Mock 是内存中的 USDC 模拟账本。
type Mock struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	native    decimal.Decimal
	delay     time.Duration
	explorer  string
	address   string
	refs      ReferenceGenerator
	failWith  string
	transfers []Transfer
}

// MockOption 定制模拟账本。
type MockOption func(*Mock)

// WithBalance 设置初始 USDC 余额。
func WithBalance(balance decimal.Decimal) MockOption {
	return func(m *Mock) { m.balance = balance }
}

// WithDelay 设置每次转账的人工延迟。
func WithDelay(d time.Duration) MockOption {
	return func(m *Mock) { m.delay = d }
}

// WithReferences 替换引用生成器。
func WithReferences(gen ReferenceGenerator) MockOption {
	return func(m *Mock) {
		if gen != nil {
			m.refs = gen
		}
	}
}

// WithExplorer 设置区块浏览器根地址。
func WithExplorer(url string) MockOption {
	return func(m *Mock) {
		if url != "" {
			m.explorer = strings.TrimRight(url, "/")
		}
	}
}

// NewMock 创建模拟账本，默认余额 10000，无延迟。
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		balance:  decimal.NewFromInt(DefaultMockBalance),
		native:   decimal.NewFromInt(100),
		explorer: DefaultExplorerURL,
		address:  DefaultMockAddress,
		refs:     RandomReferences(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Transfer 扣减余额并返回模拟交易；余额不足时返回失败且不扣款。
func (m *Mock) Transfer(ctx context.Context, destination string, amount decimal.Decimal) TransactionResult {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return m.record(destination, amount, Failed(ctx.Err().Error()))
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != "" {
		return m.recordLocked(destination, amount, Failed(m.failWith))
	}
	if !amount.IsPositive() {
		return m.recordLocked(destination, amount, Failed("amount must be positive"))
	}
	if amount.GreaterThan(m.balance) {
		return m.recordLocked(destination, amount, Failed(insufficientBalance))
	}
	m.balance = m.balance.Sub(amount)
	ref := m.refs()
	result := TransactionResult{
		Success:      true,
		Reference:    ref,
		ExplorerLink: m.explorer + "/tx/" + ref,
		GasUsed:      mockGasUsed,
	}
	logger.Named("settlement").Debug("模拟转账完成",
		"destination", destination, "amount", amount.String(), "reference", ref)
	return m.recordLocked(destination, amount, result)
}

func (m *Mock) record(destination string, amount decimal.Decimal, result TransactionResult) TransactionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(destination, amount, result)
}

func (m *Mock) recordLocked(destination string, amount decimal.Decimal, result TransactionResult) TransactionResult {
	m.transfers = append(m.transfers, Transfer{Destination: destination, Amount: amount, Result: result, At: time.Now()})
	return result
}

// Balance 返回当前模拟余额。
func (m *Mock) Balance(context.Context) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Balance{Address: m.address, Native: m.native, Token: m.balance, Currency: "USDC", Mode: ModeMock}, nil
}

// AddFunds 增加模拟余额。
func (m *Mock) AddFunds(amount decimal.Decimal) {
	m.mu.Lock()
	m.balance = m.balance.Add(amount)
	m.mu.Unlock()
}

// FailNext 让后续转账都以 reason 失败，传空字符串恢复。
func (m *Mock) FailNext(reason string) {
	m.mu.Lock()
	m.failWith = reason
	m.mu.Unlock()
}

// Transfers 返回所有转账尝试的副本。
func (m *Mock) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

var (
	_ Oracle          = (*Mock)(nil)
	_ BalanceReporter = (*Mock)(nil)
)
