package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/settlement"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func execute(key string, amount float64) decision.Decision {
	return decision.Decision{
		Action:     decision.ActionExecute,
		Reasoning:  "buy signal",
		Confidence: 80,
		Parameters: map[string]any{key: amount},
	}
}

// scripted 依次返回预设的决策，并记录每次收到的上下文。
type scripted struct {
	mu        sync.Mutex
	decisions []decision.Decision
	inputs    []decision.Context
}

func (s *scripted) Decide(_ context.Context, in decision.Context) (decision.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	d := s.decisions[0]
	if len(s.decisions) > 1 {
		s.decisions = s.decisions[1:]
	}
	return d, nil
}

func newSettlement() *settlement.Mock {
	return settlement.NewMock(settlement.WithReferences(settlement.SequentialReferences()))
}

func eventTypes(evts []events.Event) []events.Type {
	out := make([]events.Type, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}

func textiles() catalog.Supplier { return catalog.Default().Suppliers[0] }

func TestProcurementExecuteClampsAndCommits(t *testing.T) {
	oracle := &scripted{decisions: []decision.Decision{
		execute(decision.ParamAmount, 500),
		execute(decision.ParamAmount, 500),
		execute(decision.ParamAmount, 500),
		execute(decision.ParamAmount, 300),
		execute(decision.ParamAmount, 500),
		execute(decision.ParamAmount, 1),
	}}
	mock := newSettlement()
	agent := NewProcurement(oracle, mock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := agent.AnalyzeAndExecute(ctx, textiles())
		require.NoError(t, err)
	}
	require.True(t, agent.State().DailySpent.Equal(dec(1800)))

	out, err := agent.AnalyzeAndExecute(ctx, textiles())
	require.NoError(t, err)
	require.NotNil(t, out.Transaction)
	assert.True(t, out.Transaction.Success)
	transfers := mock.Transfers()
	require.Len(t, transfers, 5)
	assert.True(t, transfers[4].Amount.Equal(dec(200)), transfers[4].Amount.String())
	assert.Equal(t, "0xSUPPLIER_TEXTILES_WALLET", transfers[4].Destination)
	assert.True(t, agent.State().DailySpent.Equal(dec(2000)))

	agent.ClearEvents()
	out, err = agent.AnalyzeAndExecute(ctx, textiles())
	require.NoError(t, err)
	assert.Nil(t, out.Transaction)
	assert.Equal(t, decision.ActionExecute, out.Decision.Action)
	assert.Len(t, mock.Transfers(), 5)

	evts := agent.Events()
	assert.Equal(t, []events.Type{events.TypeAnalysis, events.TypeDecision, events.TypeError}, eventTypes(evts))
	assert.Equal(t, "Daily spending limit reached", evts[2].Payload.Error)
	assert.Equal(t, "Cannot execute - daily limit would be exceeded.", evts[2].Payload.Thought)
}

func TestProcurementSuccessEventSequence(t *testing.T) {
	agent := NewProcurement(&scripted{decisions: []decision.Decision{execute(decision.ParamAmount, 250)}}, newSettlement())

	out, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.NoError(t, err)
	require.NotNil(t, out.Transaction)

	evts := agent.Events()
	require.Equal(t, []events.Type{events.TypeAnalysis, events.TypeDecision, events.TypeExecution}, eventTypes(evts))
	assert.Equal(t, "Analyzing Cotton T-Shirts (100 units) from GlobalTextiles Co at $14.5...", evts[0].Payload.Thought)
	assert.Equal(t, "GlobalTextiles Co", evts[0].Payload.Subject)
	assert.Equal(t, "buy signal", evts[1].Payload.Thought)
	require.NotNil(t, evts[1].Payload.Decision)
	assert.Equal(t, "Successfully transferred $250 USDC to GlobalTextiles Co", evts[2].Payload.Thought)
	assert.Equal(t, out.Transaction.Reference, evts[2].Payload.Transaction.Reference)

	state := agent.State()
	assert.False(t, state.IsActive)
	assert.Equal(t, 3, state.EventCount)
	require.NotNil(t, state.LastActivity)
	assert.Equal(t, evts[2].Timestamp, *state.LastActivity)
}

func TestProcurementNonExecuteNeverSettles(t *testing.T) {
	cases := []decision.Decision{
		{Action: decision.ActionHold, Reasoning: "wait", Confidence: 99, Parameters: map[string]any{"amount": 500.0}},
		{Action: decision.ActionReject, Reasoning: "no", Confidence: 10, Parameters: map[string]any{"amount": 1.0}},
		{Action: decision.ActionExecute, Reasoning: "no amount", Confidence: 90, Parameters: map[string]any{"urgency": "high"}},
		{Action: decision.ActionExecute, Reasoning: "zero", Confidence: 90, Parameters: map[string]any{"amount": 0.0}},
		{Action: decision.ActionExecute, Reasoning: "text", Confidence: 90, Parameters: map[string]any{"amount": "100"}},
	}
	for _, d := range cases {
		t.Run(d.Reasoning, func(t *testing.T) {
			mock := newSettlement()
			agent := NewProcurement(&scripted{decisions: []decision.Decision{d}}, mock)

			out, err := agent.AnalyzeAndExecute(context.Background(), textiles())
			require.NoError(t, err)
			assert.Equal(t, d.Action, out.Decision.Action)
			assert.Nil(t, out.Transaction)
			assert.Empty(t, mock.Transfers())
			assert.True(t, agent.State().DailySpent.IsZero())
			assert.Equal(t, []events.Type{events.TypeAnalysis, events.TypeDecision}, eventTypes(agent.Events()))
		})
	}
}

func TestProcurementSettlementFailureLeavesBudget(t *testing.T) {
	mock := newSettlement()
	mock.FailNext("Insufficient USDC balance")
	agent := NewProcurement(&scripted{decisions: []decision.Decision{execute(decision.ParamAmount, 300)}}, mock)

	out, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.NoError(t, err)
	require.NotNil(t, out.Transaction)
	assert.False(t, out.Transaction.Success)

	state := agent.State()
	assert.True(t, state.DailySpent.IsZero())
	assert.True(t, state.Reserved.IsZero())

	evts := agent.Events()
	require.Equal(t, []events.Type{events.TypeAnalysis, events.TypeDecision, events.TypeError}, eventTypes(evts))
	assert.Equal(t, "Transaction failed: Insufficient USDC balance", evts[2].Payload.Thought)
	assert.Equal(t, "Insufficient USDC balance", evts[2].Payload.Error)
}

func TestProcurementOracleFaultIsRaised(t *testing.T) {
	oracle := decision.Func(func(context.Context, decision.Context) (decision.Decision, error) {
		return decision.Decision{}, errors.New("disk full")
	})
	agent := NewProcurement(oracle, newSettlement())

	_, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeUnexpectedFault, xerrors.CodeOf(err))
	assert.False(t, agent.IsActive())

	evts := agent.Events()
	require.Equal(t, []events.Type{events.TypeAnalysis, events.TypeError}, eventTypes(evts))
	assert.Equal(t, "disk full", evts[1].Payload.Error)
	assert.Equal(t, "Error during analysis: disk full", evts[1].Payload.Thought)
}

func TestProcurementOraclePanicIsRaised(t *testing.T) {
	oracle := decision.Func(func(context.Context, decision.Context) (decision.Decision, error) {
		panic("nil map")
	})
	agent := NewProcurement(oracle, newSettlement())

	_, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	assert.Equal(t, xerrors.CodeUnexpectedFault, xerrors.CodeOf(err))
	assert.False(t, agent.IsActive())
	assert.Equal(t, events.TypeError, agent.RecentEvents(1)[0].Type)
}

func TestProcurementMalformedOracleDegradesToHold(t *testing.T) {
	oracle := decision.Func(func(context.Context, decision.Context) (decision.Decision, error) {
		return decision.Parse("I would buy these shirts")
	})
	mock := newSettlement()
	agent := NewProcurement(oracle, mock)

	out, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.NoError(t, err)
	assert.Equal(t, decision.ActionHold, out.Decision.Action)
	assert.Equal(t, 0, out.Decision.Confidence)
	assert.Empty(t, mock.Transfers())
}

func TestProcurementDecisionTimeoutDegrades(t *testing.T) {
	oracle := decision.Func(func(ctx context.Context, _ decision.Context) (decision.Decision, error) {
		select {
		case <-ctx.Done():
			return decision.Decision{}, ctx.Err()
		case <-time.After(time.Second):
			return execute(decision.ParamAmount, 100), nil
		}
	})
	agent := NewProcurement(oracle, newSettlement(), WithDecisionTimeout(10*time.Millisecond))

	out, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.NoError(t, err)
	assert.Equal(t, decision.ActionHold, out.Decision.Action)
}

func TestProcurementOracleSeesGuardrailSnapshot(t *testing.T) {
	oracle := &scripted{decisions: []decision.Decision{execute(decision.ParamAmount, 120)}}
	agent := NewProcurement(oracle, newSettlement())
	ctx := context.Background()

	_, err := agent.AnalyzeAndExecute(ctx, textiles())
	require.NoError(t, err)
	_, err = agent.AnalyzeAndExecute(ctx, textiles())
	require.NoError(t, err)

	require.Len(t, oracle.inputs, 2)
	assert.Equal(t, decision.KindProcurement, oracle.inputs[0].Kind)
	require.NotNil(t, oracle.inputs[0].Supplier)
	assert.True(t, oracle.inputs[0].Guardrail.DailySpent.IsZero())
	assert.True(t, oracle.inputs[1].Guardrail.DailySpent.Equal(dec(120)))
	assert.True(t, oracle.inputs[1].Guardrail.DailyLimit.Equal(dec(2000)))
}

func TestProcurementIsActiveDuringCall(t *testing.T) {
	var agent *Procurement
	var activeInside bool
	oracle := decision.Func(func(context.Context, decision.Context) (decision.Decision, error) {
		activeInside = agent.IsActive()
		return decision.Decision{Action: decision.ActionHold, Reasoning: "wait"}, nil
	})
	agent = NewProcurement(oracle, newSettlement())

	assert.False(t, agent.IsActive())
	_, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.NoError(t, err)
	assert.True(t, activeInside)
	assert.False(t, agent.IsActive())
}

func TestProcurementConcurrentCallsNeverOverspend(t *testing.T) {
	mock := settlement.NewMock(settlement.WithDelay(2 * time.Millisecond))
	agent := NewProcurement(&scripted{decisions: []decision.Decision{execute(decision.ParamAmount, 500)}}, mock)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agent.AnalyzeAndExecute(context.Background(), textiles())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total := decimal.Zero
	for _, tr := range mock.Transfers() {
		if tr.Result.Success {
			total = total.Add(tr.Amount)
		}
	}
	state := agent.State()
	assert.True(t, total.Equal(dec(2000)), total.String())
	assert.True(t, state.DailySpent.Equal(total))
	assert.True(t, state.Reserved.IsZero())
}

func TestProcurementObserverPanicDoesNotBreakPipeline(t *testing.T) {
	agent := NewProcurement(&scripted{decisions: []decision.Decision{execute(decision.ParamAmount, 50)}}, newSettlement())
	agent.Subscribe(func(events.Event) { panic("ui crashed") })
	var seen []events.Type
	agent.Subscribe(func(e events.Event) { seen = append(seen, e.Type) })

	out, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.NoError(t, err)
	require.NotNil(t, out.Transaction)
	assert.True(t, out.Transaction.Success)
	assert.Equal(t, []events.Type{events.TypeAnalysis, events.TypeDecision, events.TypeExecution}, seen)
}

func TestResetAndUpdateGuardrails(t *testing.T) {
	agent := NewProcurement(&scripted{decisions: []decision.Decision{execute(decision.ParamAmount, 500)}}, newSettlement())
	_, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.NoError(t, err)

	low := dec(100)
	_, err = agent.UpdateGuardrails(&low, nil)
	assert.Equal(t, xerrors.CodeConflict, xerrors.CodeOf(err))

	daily, perTx := dec(3000), dec(50)
	snap, err := agent.UpdateGuardrails(&daily, &perTx)
	require.NoError(t, err)
	assert.True(t, snap.DailyLimit.Equal(daily))

	agent.ResetDailySpending()
	assert.True(t, agent.Guardrail().DailySpent.IsZero())

	out, err := agent.AnalyzeAndExecute(context.Background(), textiles())
	require.NoError(t, err)
	require.NotNil(t, out.Transaction)
	assert.True(t, agent.State().DailySpent.Equal(perTx))
}

type countingRecorder struct {
	mu        sync.Mutex
	decisions int
	degraded  int
	settled   int
	exhausted int
	faults    int
}

func (c *countingRecorder) Decision(decision.Kind, decision.Action)         { c.inc(&c.decisions) }
func (c *countingRecorder) Degraded(decision.Kind)                          { c.inc(&c.degraded) }
func (c *countingRecorder) Settlement(decision.Kind, decimal.Decimal, bool) { c.inc(&c.settled) }
func (c *countingRecorder) Exhausted(decision.Kind)                         { c.inc(&c.exhausted) }
func (c *countingRecorder) Fault(decision.Kind)                             { c.inc(&c.faults) }

func (c *countingRecorder) inc(n *int) {
	c.mu.Lock()
	*n++
	c.mu.Unlock()
}

func TestRecorderSeesPipelineOutcomes(t *testing.T) {
	rec := &countingRecorder{}
	oracle := &scripted{decisions: []decision.Decision{execute(decision.ParamAmount, 100)}}
	limits := DefaultProcurementLimits
	limits.DailyLimit = dec(100)
	agent := NewProcurement(oracle, newSettlement(), WithRecorder(rec), WithLimits(limits))

	for i := 0; i < 2; i++ {
		_, err := agent.AnalyzeAndExecute(context.Background(), textiles())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, rec.decisions)
	assert.Equal(t, 1, rec.settled)
	assert.Equal(t, 1, rec.exhausted)
	assert.Zero(t, rec.faults)
}

func TestEventCapacityOption(t *testing.T) {
	agent := NewProcurement(&scripted{decisions: []decision.Decision{{Action: decision.ActionHold, Reasoning: "x"}}},
		newSettlement(), WithEventCapacity(3))
	for i := 0; i < 3; i++ {
		_, err := agent.AnalyzeAndExecute(context.Background(), textiles())
		require.NoError(t, err)
	}
	assert.Len(t, agent.Events(), 3)
}
