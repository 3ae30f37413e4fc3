package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransactionResult 是一次结算请求的结果。失败通过 Success=false 与 Error 表达，
// 结算方从不以 error 返回业务失败。
type TransactionResult struct {
	Success      bool   `json:"success"`
	Reference    string `json:"reference,omitempty"`
	ExplorerLink string `json:"explorerLink,omitempty"`
	GasUsed      string `json:"gasUsed,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Failed 构造失败结果。
func Failed(reason string) TransactionResult {
	return TransactionResult{Success: false, Error: reason}
}

// Oracle 把金额转给目标地址。实现自行负责超时控制。
type Oracle interface {
	Transfer(ctx context.Context, destination string, amount decimal.Decimal) TransactionResult
}

// Balance 描述结算钱包的余额视图。
type Balance struct {
	Address  string          `json:"address"`
	Native   decimal.Decimal `json:"native"`
	Token    decimal.Decimal `json:"token"`
	Currency string          `json:"currency"`
	Mode     string          `json:"mode"`
}

// BalanceReporter 是可选能力，供状态接口展示钱包余额。
type BalanceReporter interface {
	Balance(ctx context.Context) (Balance, error)
}

const (
	ModeMock = "mock"
	ModeEVM  = "evm"
)
