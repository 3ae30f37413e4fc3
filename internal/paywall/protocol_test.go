package paywall

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/settlement"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fivePriced(expiresAt *time.Time) Pricing {
	return PricingFunc(func(resourceID string) *PaymentRequirement {
		if resourceID == "free" {
			return nil
		}
		return &PaymentRequirement{
			AmountDue:    decimal.NewFromInt(5),
			Currency:     "USDC",
			PayeeAddress: "0xPAYEE",
			Network:      "ARC",
			Description:  "premium",
			ExpiresAt:    expiresAt,
		}
	})
}

var payload = CatalogFunc(func(resourceID string) any { return map[string]string{"resource": resourceID} })

func limitOf(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newMock() *settlement.Mock {
	return settlement.NewMock(settlement.WithReferences(settlement.SequentialReferences()))
}

func TestFetchFreeResource(t *testing.T) {
	mock := newMock()
	p := New(fivePriced(nil), payload, mock)

	resp := p.Fetch(context.Background(), "free", FetchOptions{})
	require.True(t, resp.Success)
	assert.NotNil(t, resp.Payload)
	assert.Nil(t, resp.Requirement)
	assert.Nil(t, resp.Receipt)
	assert.Empty(t, mock.Transfers())
}

func TestFetchWithinAutoPayLimit(t *testing.T) {
	mock := newMock()
	p := New(fivePriced(nil), payload, mock, WithClock(func() time.Time { return fixedNow }))

	resp := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{AutoPayLimit: limitOf(10)})
	require.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.Receipt)
	assert.True(t, resp.Receipt.AmountDue.Equal(decimal.NewFromInt(5)))
	assert.True(t, resp.Receipt.Paid)
	assert.Equal(t, fixedNow, resp.Receipt.Timestamp)
	assert.NotNil(t, resp.Payload)
	assert.NoError(t, resp.Err())

	transfers := mock.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "0xPAYEE", transfers[0].Destination)

	stored, ok := p.Receipt("/influencer/premium")
	require.True(t, ok)
	assert.Equal(t, resp.Receipt.Reference, stored.Reference)
}

func TestFetchAboveAutoPayLimitNeverSettles(t *testing.T) {
	mock := newMock()
	p := New(fivePriced(nil), payload, mock)

	resp := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{AutoPayLimit: limitOf(1)})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Requirement)
	assert.True(t, resp.Requirement.AmountDue.Equal(decimal.NewFromInt(5)))
	assert.Nil(t, resp.Payload)
	assert.Equal(t, "Payment of $5 exceeds auto-pay limit of $1", resp.Error)
	assert.Equal(t, xerrors.CodePaymentExceedsAutoPay, resp.Code)
	assert.True(t, xerrors.HasCode(resp.Err(), xerrors.CodePaymentExceedsAutoPay))
	assert.Empty(t, mock.Transfers())

	approved := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{AutoPayLimit: limitOf(1), Approved: true})
	assert.True(t, approved.Success)
	assert.Len(t, mock.Transfers(), 1)
}

func TestFetchExplicitZeroLimitNeverSettles(t *testing.T) {
	mock := newMock()
	p := New(fivePriced(nil), payload, mock)

	for _, ceiling := range []int64{0, -1} {
		resp := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{AutoPayLimit: limitOf(ceiling)})
		assert.False(t, resp.Success)
		assert.Equal(t, xerrors.CodePaymentExceedsAutoPay, resp.Code)
		assert.NotNil(t, resp.Requirement)
		assert.Nil(t, resp.Payload)
	}
	assert.Empty(t, mock.Transfers())
}

func TestFetchNilLimitUsesDefault(t *testing.T) {
	mock := newMock()
	expensive := PricingFunc(func(string) *PaymentRequirement {
		return &PaymentRequirement{AmountDue: decimal.NewFromInt(11), PayeeAddress: "0xPAYEE"}
	})
	p := New(expensive, payload, mock)

	resp := p.Fetch(context.Background(), "/marketing/campaign", FetchOptions{})
	assert.False(t, resp.Success)
	assert.Equal(t, "Payment of $11 exceeds auto-pay limit of $10", resp.Error)
	assert.Empty(t, mock.Transfers())

	within := New(fivePriced(nil), payload, mock)
	resp = within.Fetch(context.Background(), "/influencer/premium", FetchOptions{})
	assert.True(t, resp.Success, resp.Error)
	assert.Len(t, mock.Transfers(), 1)
}

func TestZeroDefaultLimitRequiresApproval(t *testing.T) {
	mock := newMock()
	p := New(fivePriced(nil), payload, mock, WithAutoPayLimit(decimal.Zero))

	resp := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{})
	assert.Equal(t, xerrors.CodePaymentExceedsAutoPay, resp.Code)
	assert.Empty(t, mock.Transfers())

	resp = p.Fetch(context.Background(), "/influencer/premium", FetchOptions{Approved: true})
	assert.True(t, resp.Success, resp.Error)
}

func TestFetchExpiredRequirement(t *testing.T) {
	mock := newMock()
	past := fixedNow.Add(-time.Minute)
	p := New(fivePriced(&past), payload, mock, WithClock(func() time.Time { return fixedNow }))

	resp := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{})
	assert.False(t, resp.Success)
	assert.Equal(t, "Payment request has expired", resp.Error)
	assert.Equal(t, xerrors.CodePaymentExpired, resp.Code)
	assert.NotNil(t, resp.Requirement)
	assert.Empty(t, mock.Transfers())
	_, ok := p.Receipt("/influencer/premium")
	assert.False(t, ok)
}

func TestFetchSettlementFailure(t *testing.T) {
	mock := settlement.NewMock(settlement.WithBalance(decimal.NewFromInt(2)))
	p := New(fivePriced(nil), payload, mock)

	resp := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{})
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Payload)
	require.NotNil(t, resp.Requirement)
	assert.Equal(t, "Insufficient USDC balance", resp.Error)
	assert.Equal(t, xerrors.CodeSettlementFailure, resp.Code)
	assert.Empty(t, p.Receipts())
}

func TestReceiptPolicies(t *testing.T) {
	later := fixedNow.Add(time.Hour)

	t.Run("pay per access", func(t *testing.T) {
		mock := newMock()
		p := New(fivePriced(&later), payload, mock, WithClock(func() time.Time { return fixedNow }))
		first := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{})
		second := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{})
		require.True(t, first.Success)
		require.True(t, second.Success)
		assert.Len(t, mock.Transfers(), 2)
		assert.NotEqual(t, first.Receipt.Reference, second.Receipt.Reference)

		stored, _ := p.Receipt("/influencer/premium")
		assert.Equal(t, second.Receipt.Reference, stored.Reference)
		assert.Len(t, p.Receipts(), 1)
	})

	t.Run("reuse valid receipt", func(t *testing.T) {
		mock := newMock()
		now := fixedNow
		p := New(fivePriced(&later), payload, mock,
			WithReceiptPolicy(ReuseValidReceipt),
			WithClock(func() time.Time { return now }))

		first := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{})
		second := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{})
		require.True(t, first.Success)
		require.True(t, second.Success)
		assert.Len(t, mock.Transfers(), 1)
		assert.Equal(t, first.Receipt.Reference, second.Receipt.Reference)
		assert.False(t, first.Reused)
		assert.True(t, second.Reused)

		now = later.Add(time.Second)
		third := p.Fetch(context.Background(), "/influencer/premium", FetchOptions{Approved: true})
		assert.False(t, third.Success)
		assert.Equal(t, xerrors.CodePaymentExpired, third.Code)
		assert.Len(t, mock.Transfers(), 1)
	})
}

func TestObserverSeesEveryFetch(t *testing.T) {
	var seen []string
	p := New(fivePriced(nil), payload, newMock(), WithObserver(func(id string, resp Response) {
		seen = append(seen, id)
	}))
	p.Fetch(context.Background(), "free", FetchOptions{})
	p.Fetch(context.Background(), "/influencer/premium", FetchOptions{AutoPayLimit: limitOf(1)})
	assert.Equal(t, []string{"free", "/influencer/premium"}, seen)
}
