package guardrail

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ASpec-Commerce/internal/errors"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestClampTakesTheTightestBound(t *testing.T) {
	limits := Limits{DailyLimit: d(2000), MaxPerTransaction: d(500)}

	assert.True(t, Clamp(d(300), limits, d(0)).Equal(d(300)))
	assert.True(t, Clamp(d(900), limits, d(0)).Equal(d(500)))
	assert.True(t, Clamp(d(500), limits, d(1800)).Equal(d(200)))
	assert.True(t, Clamp(d(1), limits, d(2000)).IsZero())
}

func TestLedgerDrainsDailyBudget(t *testing.T) {
	ledger := NewLedger(Limits{DailyLimit: d(2000), MaxPerTransaction: d(500)}, WithSpent(d(1800)))

	res, err := ledger.Reserve(d(500))
	require.NoError(t, err)
	require.True(t, res.Amount.Equal(d(200)), "clamped to %s", res.Amount)

	snap := res.Commit()
	assert.True(t, snap.DailySpent.Equal(d(2000)))
	assert.True(t, snap.Remaining.IsZero())

	_, err = ledger.Reserve(d(1))
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeBudgetExhausted))
}

func TestReleaseLeavesSpentUntouched(t *testing.T) {
	ledger := NewLedger(Limits{DailyLimit: d(500), MaxPerTransaction: d(100)})

	res, err := ledger.Reserve(d(80))
	require.NoError(t, err)
	assert.True(t, ledger.Snapshot().Reserved.Equal(d(80)))

	res.Release()
	res.Commit()

	snap := ledger.Snapshot()
	assert.True(t, snap.DailySpent.IsZero())
	assert.True(t, snap.Reserved.IsZero())
}

func TestCommitIsIdempotentAndNotifies(t *testing.T) {
	var commits int
	ledger := NewLedger(Limits{DailyLimit: d(500), MaxPerTransaction: d(100)},
		WithCommitHook(func(Snapshot) { commits++ }))

	res, err := ledger.Reserve(d(150))
	require.NoError(t, err)
	res.Commit()
	res.Commit()

	assert.Equal(t, 1, commits)
	assert.True(t, ledger.Snapshot().DailySpent.Equal(d(100)))
}

func TestResetAndUpdate(t *testing.T) {
	ledger := NewLedger(Limits{DailyLimit: d(500), MaxPerTransaction: d(100)}, WithSpent(d(300)))

	_, err := ledger.Update(ptr(d(200)), nil)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeConflict))

	_, err = ledger.Update(nil, ptr(d(-1)))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	snap, err := ledger.Update(ptr(d(1000)), ptr(d(250)))
	require.NoError(t, err)
	assert.True(t, snap.DailyLimit.Equal(d(1000)))
	assert.True(t, snap.MaxPerTransaction.Equal(d(250)))

	ledger.Reset()
	assert.True(t, ledger.Snapshot().DailySpent.IsZero())
	assert.True(t, ledger.Snapshot().Remaining.Equal(d(1000)))
}

func TestConcurrentReservationsNeverOverspend(t *testing.T) {
	ledger := NewLedger(Limits{DailyLimit: d(1000), MaxPerTransaction: d(300)})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Reserve(d(300))
			if err != nil {
				return
			}
			res.Commit()
		}()
	}
	wg.Wait()

	snap := ledger.Snapshot()
	assert.True(t, snap.DailySpent.Equal(d(1000)), "spent %s", snap.DailySpent)
	assert.True(t, snap.Reserved.IsZero())
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }
