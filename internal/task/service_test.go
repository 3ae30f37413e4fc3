package task

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/agent"
	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/paywall"
	"ASpec-Commerce/internal/settlement"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestSubmitValidatesRequests(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)
	ctx := context.Background()
	inf := catalog.Default().Influencers[0]

	cases := map[string]Request{
		"unknown agent":        {Agent: "finance", Supplier: &catalog.Supplier{Name: "x", Wallet: "0x1"}},
		"missing supplier":     {Agent: decision.KindProcurement},
		"procurement discover": {Agent: decision.KindProcurement, Operation: OperationDiscover},
		"unknown operation":    {Agent: decision.KindMarketing, Operation: "refund", Influencer: &inf},
		"invalid influencer":   {Agent: decision.KindMarketing, Influencer: &catalog.Influencer{Handle: "x"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := service.Submit(ctx, req); !xerrors.HasCode(err, CodeTaskValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSubmitIsIdempotentByID(t *testing.T) {
	queue := NewMemoryQueue(4)
	service := NewService(NewMemoryStore(), queue, 0)
	ctx := context.Background()
	req := supplierRequest()
	req.ID = "job-1"

	first, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first.ID != "job-1" || second.ID != "job-1" || first.MaxRetries != 3 {
		t.Fatalf("unexpected tasks %+v %+v", first, second)
	}
	if first.Operation != OperationAnalyze {
		t.Fatalf("operation should default to analyze, got %q", first.Operation)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected a single publish, got %d", queue.Len())
	}
}

func TestSubmitMarksPublishFailure(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)
	req := supplierRequest()
	req.ID = "job-1"

	if _, err := service.Submit(context.Background(), req); !xerrors.HasCode(err, CodeTaskPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestAgentExecutorDispatches(t *testing.T) {
	mock := settlement.NewMock()
	oracle := decision.Func(func(_ context.Context, in decision.Context) (decision.Decision, error) {
		key := decision.ParamAmount
		if in.Kind == decision.KindMarketing {
			key = decision.ParamSuggestedBudget
		}
		return decision.Decision{Action: decision.ActionExecute, Reasoning: "ok", Confidence: 90,
			Parameters: map[string]any{key: 40.0}}, nil
	})
	protocol := paywall.New(paywall.NewPriceTable(paywall.DefaultRules()), catalog.Default(), mock)
	exec := &AgentExecutor{
		Procurement: agent.NewProcurement(oracle, mock),
		Marketing:   agent.NewMarketing(oracle, mock, protocol),
	}
	ctx := context.Background()

	res, err := exec.Execute(ctx, supplierRequest())
	if err != nil {
		t.Fatalf("procurement: %v", err)
	}
	if res.Transaction == nil || !res.Transaction.Success || res.Decision.Action != decision.ActionExecute {
		t.Fatalf("unexpected procurement result %+v", res)
	}

	inf := catalog.Default().Influencers[2]
	res, err = exec.Execute(ctx, Request{Agent: decision.KindMarketing, Influencer: &inf})
	if err != nil {
		t.Fatalf("marketing: %v", err)
	}
	if res.Transaction == nil || !res.Transaction.Success {
		t.Fatalf("unexpected marketing result %+v", res)
	}
	if got := exec.Marketing.ActiveInfluencers(); len(got) != 1 || got[0] != "artisan_goods" {
		t.Fatalf("unexpected active influencers %v", got)
	}

	res, err = exec.Execute(ctx, Request{Agent: decision.KindMarketing, Operation: OperationDiscover})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if res.Resource == nil || !res.Resource.Success || !res.Resource.Receipt.AmountDue.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected discover result %+v", res.Resource)
	}

	if _, err := (&AgentExecutor{}).Execute(ctx, supplierRequest()); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestAgentExecutorPropagatesFaults(t *testing.T) {
	oracle := decision.Func(func(context.Context, decision.Context) (decision.Decision, error) {
		return decision.Decision{}, errors.New("segfault in model server")
	})
	exec := &AgentExecutor{Procurement: agent.NewProcurement(oracle, settlement.NewMock())}

	_, err := exec.Execute(context.Background(), supplierRequest())
	if !xerrors.HasCode(err, xerrors.CodeUnexpectedFault) {
		t.Fatalf("expected unexpected fault, got %v", err)
	}
	if xerrors.RetryableError(err) {
		t.Fatal("unexpected faults must not be retried")
	}
}
