package settlement

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMockTransferDebitsBalance(t *testing.T) {
	m := NewMock(WithBalance(decimal.NewFromInt(100)), WithReferences(SequentialReferences()))

	res := m.Transfer(context.Background(), "0xSUPPLIER", decimal.NewFromInt(40))
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.GasUsed != "21000" {
		t.Fatalf("unexpected gas %q", res.GasUsed)
	}
	if !strings.HasSuffix(res.ExplorerLink, "/tx/"+res.Reference) {
		t.Fatalf("explorer link %q does not reference %q", res.ExplorerLink, res.Reference)
	}

	bal, _ := m.Balance(context.Background())
	if !bal.Token.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected balance 60, got %s", bal.Token)
	}
}

func TestMockInsufficientBalance(t *testing.T) {
	m := NewMock(WithBalance(decimal.NewFromInt(10)))

	res := m.Transfer(context.Background(), "0xPAYEE", decimal.NewFromInt(11))
	if res.Success || res.Error != "Insufficient USDC balance" {
		t.Fatalf("expected insufficient balance failure, got %+v", res)
	}
	bal, _ := m.Balance(context.Background())
	if !bal.Token.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance should be unchanged, got %s", bal.Token)
	}

	m.AddFunds(decimal.NewFromInt(5))
	if res := m.Transfer(context.Background(), "0xPAYEE", decimal.NewFromInt(11)); !res.Success {
		t.Fatalf("expected success after funding, got %+v", res)
	}
	if got := len(m.Transfers()); got != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", got)
	}
}

func TestMockDelayHonoursContext(t *testing.T) {
	m := NewMock(WithDelay(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := m.Transfer(ctx, "0xPAYEE", decimal.NewFromInt(1))
	if res.Success {
		t.Fatal("expected cancelled transfer to fail")
	}
}

func TestSequentialReferencesAreDeterministic(t *testing.T) {
	a, b := SequentialReferences(), SequentialReferences()
	if a() != b() || a() != b() {
		t.Fatal("expected identical sequences")
	}
}
