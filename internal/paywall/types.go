package paywall

import (
	"time"

	"github.com/shopspring/decimal"

	xerrors "ASpec-Commerce/internal/errors"
)

// PaymentRequirement 是资源方给出的付款要求。
type PaymentRequirement struct {
	AmountDue    decimal.Decimal `json:"amountDue"`
	Currency     string          `json:"currency"`
	PayeeAddress string          `json:"payeeAddress"`
	Network      string          `json:"network"`
	Description  string          `json:"description"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
}

// Expired 判断付款要求在 now 时刻是否已过期。
func (r PaymentRequirement) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// PaymentReceipt 是一次成功付款的凭证。同一资源只保留最近一张。
type PaymentReceipt struct {
	Paid       bool            `json:"paid"`
	Reference  string          `json:"reference,omitempty"`
	AmountDue  decimal.Decimal `json:"amountDue"`
	Timestamp  time.Time       `json:"timestamp"`
	ValidUntil *time.Time      `json:"validUntil,omitempty"`
}

// Response 是 Fetch 的结果。失败时 Payload 为空，Requirement 在需要重试时给出。
type Response struct {
	Success     bool                `json:"success"`
	Payload     any                 `json:"data,omitempty"`
	Requirement *PaymentRequirement `json:"paymentRequired,omitempty"`
	Receipt     *PaymentReceipt     `json:"receipt,omitempty"`
	Reused      bool                `json:"reused,omitempty"`
	Error       string              `json:"error,omitempty"`
	Code        xerrors.Code        `json:"code,omitempty"`
}

// Err 把失败的响应转换为统一错误，成功时返回 nil。
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	code := r.Code
	if code == "" {
		code = xerrors.CodeUnknown
	}
	return xerrors.New(code, r.Error)
}

// FetchOptions 控制单次访问的付费行为。
type FetchOptions struct {
	// AutoPayLimit 为 nil 时使用协议的默认上限；非 nil 时按原值执行，零表示不自动付款。
	AutoPayLimit *decimal.Decimal
	Approved     bool
}

// Catalog 提供资源解锁后的数据。
type Catalog interface {
	Payload(resourceID string) any
}

// CatalogFunc 让普通函数满足 Catalog。
type CatalogFunc func(resourceID string) any

// Payload 实现 Catalog。
func (f CatalogFunc) Payload(resourceID string) any { return f(resourceID) }
