package paywall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/settlement"
	"ASpec-Commerce/pkg/logger"
)

// DefaultAutoPayLimit 是调用方未指定上限时的自动支付上限（USDC）。
var DefaultAutoPayLimit = decimal.NewFromInt(10)

// ReceiptPolicy 决定已有收据是否可以免去再次付款。
type ReceiptPolicy string

const (
	// PayPerAccess 每次访问都重新协商并付款，收据只写不读。
	PayPerAccess ReceiptPolicy = "pay_per_access"
	// ReuseValidReceipt 在收据对应的付款要求尚未过期时直接返回数据。
	ReuseValidReceipt ReceiptPolicy = "reuse_valid_receipt"
)

// Protocol 协调定价、结算与收据。
type Protocol struct {
	pricing      Pricing
	catalog      Catalog
	settle       settlement.Oracle
	policy       ReceiptPolicy
	autoPayLimit decimal.Decimal
	now          func() time.Time
	observer     func(resourceID string, resp Response)
	log          *slog.Logger

	mu       sync.RWMutex
	receipts map[string]PaymentReceipt
}

// Option 定制 Protocol。
type Option func(*Protocol)

// WithReceiptPolicy 设置收据策略，默认 PayPerAccess。
func WithReceiptPolicy(policy ReceiptPolicy) Option {
	return func(p *Protocol) {
		if policy != "" {
			p.policy = policy
		}
	}
}

// WithAutoPayLimit 设置默认自动支付上限，零表示默认不自动付款，负数被忽略。
func WithAutoPayLimit(limit decimal.Decimal) Option {
	return func(p *Protocol) {
		if !limit.IsNegative() {
			p.autoPayLimit = limit
		}
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) {
		if now != nil {
			p.now = now
		}
	}
}

// WithObserver 在每次 Fetch 结束后回调，用于指标统计。
func WithObserver(fn func(resourceID string, resp Response)) Option {
	return func(p *Protocol) { p.observer = fn }
}

// New 创建付费访问协议。
func New(pricing Pricing, catalog Catalog, settle settlement.Oracle, opts ...Option) *Protocol {
	p := &Protocol{
		pricing:      pricing,
		catalog:      catalog,
		settle:       settle,
		policy:       PayPerAccess,
		autoPayLimit: DefaultAutoPayLimit,
		now:          time.Now,
		log:          logger.Named("paywall"),
		receipts:     make(map[string]PaymentReceipt),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Policy 返回当前收据策略。
func (p *Protocol) Policy() ReceiptPolicy { return p.policy }

// Fetch 获取资源，必要时在上限内自动付款。
func (p *Protocol) Fetch(ctx context.Context, resourceID string, opts FetchOptions) Response {
	resp := p.fetch(ctx, resourceID, opts)
	if p.observer != nil {
		p.observer(resourceID, resp)
	}
	return resp
}

func (p *Protocol) fetch(ctx context.Context, resourceID string, opts FetchOptions) Response {
	req := p.pricing.Price(resourceID)
	if req == nil {
		return Response{Success: true, Payload: p.catalog.Payload(resourceID)}
	}

	now := p.now()
	if p.policy == ReuseValidReceipt {
		if receipt, ok := p.Receipt(resourceID); ok && receiptValid(receipt, now) {
			p.log.Debug("复用未过期的收据", slog.String("resource", resourceID), slog.String("reference", receipt.Reference))
			return Response{Success: true, Payload: p.catalog.Payload(resourceID), Receipt: &receipt, Reused: true}
		}
	}

	limit := p.autoPayLimit
	if opts.AutoPayLimit != nil {
		limit = *opts.AutoPayLimit
	}
	if req.AmountDue.GreaterThan(limit) && !opts.Approved {
		return Response{
			Requirement: req,
			Error:       fmt.Sprintf("Payment of $%s exceeds auto-pay limit of $%s", req.AmountDue, limit),
			Code:        xerrors.CodePaymentExceedsAutoPay,
		}
	}

	if req.Expired(now) {
		return Response{Requirement: req, Error: "Payment request has expired", Code: xerrors.CodePaymentExpired}
	}

	result := p.settle.Transfer(ctx, req.PayeeAddress, req.AmountDue)
	if !result.Success {
		p.log.Warn("资源付款失败",
			slog.String("resource", resourceID),
			slog.String("amount", req.AmountDue.String()),
			slog.String("error", result.Error))
		return Response{Requirement: req, Error: result.Error, Code: xerrors.CodeSettlementFailure}
	}

	receipt := PaymentReceipt{
		Paid:       true,
		Reference:  result.Reference,
		AmountDue:  req.AmountDue,
		Timestamp:  now,
		ValidUntil: req.ExpiresAt,
	}
	p.mu.Lock()
	p.receipts[resourceID] = receipt
	p.mu.Unlock()

	p.log.Info("资源已付费解锁",
		slog.String("resource", resourceID),
		slog.String("amount", req.AmountDue.String()),
		slog.String("payee", req.PayeeAddress),
		slog.String("reference", result.Reference))
	return Response{Success: true, Payload: p.catalog.Payload(resourceID), Receipt: &receipt}
}

func receiptValid(r PaymentReceipt, now time.Time) bool {
	return r.Paid && (r.ValidUntil == nil || !r.ValidUntil.Before(now))
}

// Receipt 返回资源最近一次付款的收据。
func (p *Protocol) Receipt(resourceID string) (PaymentReceipt, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.receipts[resourceID]
	return r, ok
}

// Receipts 返回全部收据的副本。
func (p *Protocol) Receipts() map[string]PaymentReceipt {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]PaymentReceipt, len(p.receipts))
	for k, v := range p.receipts {
		out[k] = v
	}
	return out
}
