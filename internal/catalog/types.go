package catalog

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Supplier 是一条供应商报价，作为采购 Agent 的输入。
type Supplier struct {
	Name             string            `json:"supplier"`
	Product          string            `json:"product"`
	CurrentPrice     decimal.Decimal   `json:"currentPrice"`
	TargetPrice      decimal.Decimal   `json:"targetPrice"`
	HistoricalPrices []decimal.Decimal `json:"historicalPrices"`
	Wallet           string            `json:"supplierWallet"`
}

// Validate 检查报价是否完整。
func (s Supplier) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("supplier 不能为空")
	}
	if strings.TrimSpace(s.Wallet) == "" {
		return errors.New("supplierWallet 不能为空")
	}
	if s.CurrentPrice.IsNegative() || s.TargetPrice.IsNegative() {
		return errors.New("价格不能为负数")
	}
	return nil
}

// Influencer 是一位候选达人，作为营销 Agent 的输入。
type Influencer struct {
	Handle                 string          `json:"handle"`
	Platform               string          `json:"platform"`
	Followers              int64           `json:"followers"`
	EngagementRate         float64         `json:"engagementRate"`
	Niche                  string          `json:"niche"`
	RequestedRate          decimal.Decimal `json:"requestedRate"`
	PreviousCollaborations int             `json:"previousCollaborations,omitempty"`
	Wallet                 string          `json:"walletAddress"`
}

// Validate 检查达人信息是否完整。
func (i Influencer) Validate() error {
	if strings.TrimSpace(i.Handle) == "" {
		return errors.New("handle 不能为空")
	}
	if strings.TrimSpace(i.Wallet) == "" {
		return errors.New("walletAddress 不能为空")
	}
	if i.Followers < 0 || i.EngagementRate < 0 || i.RequestedRate.IsNegative() {
		return errors.New("达人指标不能为负数")
	}
	return nil
}
