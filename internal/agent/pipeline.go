package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/guardrail"
	"ASpec-Commerce/internal/settlement"
	"ASpec-Commerce/pkg/logger"
)

// Outcome 是一次调用的结果。只有发起过结算时 Transaction 才非空。
type Outcome struct {
	Decision    decision.Decision             `json:"decision"`
	Transaction *settlement.TransactionResult `json:"transaction,omitempty"`
}

// subject 是一次调用的评估对象。
type subject struct {
	name     string
	platform string
	product  string
	price    *decimal.Decimal
	wallet   string
	input    decision.Context
	thought  string
}

// shape 描述两类 Agent 之间的差异。
type shape struct {
	kind             decision.Kind
	amountKey        string
	startType        events.Type
	decisionType     events.Type
	exhaustedError   string
	exhaustedThought string
	failurePrefix    string
	faultPrefix      string
}

// pipeline 是两类 Agent 共用的流水线引擎。
type pipeline struct {
	shape    shape
	oracle   decision.Oracle
	settle   settlement.Oracle
	ledger   *guardrail.Ledger
	events   *events.Log
	recorder Recorder
	timeout  time.Duration
	log      *slog.Logger

	inFlight     atomic.Int64
	mu           sync.RWMutex
	lastActivity time.Time
}

func newPipeline(s shape, oracle decision.Oracle, settle settlement.Oracle, o options) *pipeline {
	p := &pipeline{
		shape:    s,
		settle:   settle,
		recorder: o.recorder,
		timeout:  o.decisionTimeout,
		log:      logger.ForAgent(string(s.kind)),
	}
	p.oracle = decision.Guarded(oracle, decision.OnDegrade(func(decision.Context, error) {
		p.recorder.Degraded(s.kind)
	}))
	var ledgerOpts []guardrail.Option
	if o.clock != nil {
		ledgerOpts = append(ledgerOpts, guardrail.WithClock(o.clock))
	}
	p.ledger = guardrail.NewLedger(*o.limits, ledgerOpts...)
	p.events = events.NewLog(events.WithCapacity(o.eventCapacity))
	return p
}

// run 执行一次完整的流水线。onSettled 在结算成功且额度提交后调用。
func (p *pipeline) run(ctx context.Context, subj subject, onSettled func(amount decimal.Decimal, tx settlement.TransactionResult)) (out Outcome, err error) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	var reservation *guardrail.Reservation
	defer func() {
		if r := recover(); r != nil {
			if reservation != nil {
				reservation.Release()
			}
			err = xerrors.New(xerrors.CodeUnexpectedFault, fmt.Sprintf("pipeline panicked: %v", r))
			p.fault(subj, err)
			out = Outcome{}
		}
	}()

	p.emit(p.shape.startType, events.Payload{
		Subject:  subj.name,
		Platform: subj.platform,
		Product:  subj.product,
		Price:    subj.price,
		Thought:  subj.thought,
	})

	d, err := p.decide(ctx, subj)
	if err != nil {
		p.fault(subj, err)
		return Outcome{}, err
	}

	p.emit(p.shape.decisionType, events.Payload{Subject: subj.name, Decision: &d, Thought: d.Reasoning})
	p.recorder.Decision(p.shape.kind, d.Action)
	out = Outcome{Decision: d}

	if d.Action != decision.ActionExecute {
		return out, nil
	}
	proposed, ok := d.Amount(p.shape.amountKey)
	if !ok || !proposed.IsPositive() {
		return out, nil
	}

	reservation, err = p.ledger.Reserve(proposed)
	if err != nil {
		p.recorder.Exhausted(p.shape.kind)
		p.log.Info("额度已用尽，跳过结算",
			slog.String("subject", subj.name),
			slog.String("proposed", proposed.String()))
		p.emit(events.TypeError, events.Payload{
			Subject: subj.name,
			Error:   p.shape.exhaustedError,
			Thought: p.shape.exhaustedThought,
		})
		return out, nil
	}
	amount := reservation.Amount

	tx := p.settle.Transfer(ctx, subj.wallet, amount)
	out.Transaction = &tx
	if !tx.Success {
		reservation.Release()
		p.recorder.Settlement(p.shape.kind, amount, false)
		p.log.Warn("结算失败",
			slog.String("subject", subj.name),
			slog.String("amount", amount.String()),
			slog.String("error", tx.Error))
		p.emit(events.TypeError, events.Payload{
			Subject:     subj.name,
			Amount:      &amount,
			Transaction: &tx,
			Error:       tx.Error,
			Thought:     p.shape.failurePrefix + tx.Error,
		})
		return out, nil
	}

	snap := reservation.Commit()
	p.recorder.Settlement(p.shape.kind, amount, true)
	p.log.Info("结算成功",
		slog.String("subject", subj.name),
		slog.String("amount", amount.String()),
		slog.String("reference", tx.Reference),
		slog.String("daily_spent", snap.DailySpent.String()))
	onSettled(amount, tx)
	return out, nil
}

func (p *pipeline) decide(ctx context.Context, subj subject) (decision.Decision, error) {
	in := subj.input
	in.Kind = p.shape.kind
	in.Guardrail = p.ledger.Snapshot()

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	d, err := p.oracle.Decide(callCtx, in)
	if err != nil {
		if !xerrors.HasCode(err, xerrors.CodeUnexpectedFault) {
			err = xerrors.Wrap(xerrors.CodeUnexpectedFault, err, faultMessage(err))
		}
		return decision.Decision{}, err
	}
	return d.Clone(), nil
}

func (p *pipeline) fault(subj subject, err error) {
	msg := faultMessage(err)
	p.recorder.Fault(p.shape.kind)
	p.log.Error("流水线异常",
		slog.String("subject", subj.name),
		slog.String("error_code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()))
	p.emit(events.TypeError, events.Payload{Subject: subj.name, Error: msg, Thought: p.shape.faultPrefix + msg})
}

func (p *pipeline) emit(typ events.Type, payload events.Payload) {
	evt := events.New(p.shape.kind, typ, payload)
	p.mu.Lock()
	if evt.Timestamp.After(p.lastActivity) {
		p.lastActivity = evt.Timestamp
	}
	p.mu.Unlock()
	p.events.Append(evt)
}

func (p *pipeline) active() bool { return p.inFlight.Load() > 0 }

func (p *pipeline) lastActive() *time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastActivity.IsZero() {
		return nil
	}
	t := p.lastActivity
	return &t
}

// faultMessage 取出错误链中最具体的描述。
func faultMessage(err error) string {
	e, ok := xerrors.From(err)
	if !ok {
		return err.Error()
	}
	if cause := e.Unwrap(); cause != nil && e.Message() == xerrors.AttributesOf(e.Code()).Message {
		return faultMessage(cause)
	}
	return e.Message()
}
