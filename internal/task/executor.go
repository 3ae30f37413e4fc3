package task

import (
	"context"

	"ASpec-Commerce/internal/agent"
	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
)

// Executor 执行一次 Agent 调用。
type Executor interface {
	Execute(ctx context.Context, req Request) (*ExecutionResult, error)
}

// AgentExecutor 把任务分派给采购或营销 Agent。
type AgentExecutor struct {
	Procurement *agent.Procurement
	Marketing   *agent.Marketing
}

// Execute 按 Agent 类型与操作调用对应方法。结算失败记录在结果中，不作为错误返回；
// 资源付费失败按响应中的错误码返回，便于区分可重试与不可重试。
func (e *AgentExecutor) Execute(ctx context.Context, req Request) (*ExecutionResult, error) {
	switch {
	case req.Agent == decision.KindMarketing && req.Operation == OperationDiscover:
		if e.Marketing == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "营销 Agent 未初始化")
		}
		resp := e.Marketing.DiscoverInfluencers(ctx)
		return &ExecutionResult{Resource: &resp}, resp.Err()
	case req.Agent == decision.KindProcurement && req.Supplier != nil:
		if e.Procurement == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "采购 Agent 未初始化")
		}
		out, err := e.Procurement.AnalyzeAndExecute(ctx, *req.Supplier)
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{Decision: &out.Decision, Transaction: out.Transaction}, nil
	case req.Agent == decision.KindMarketing && req.Influencer != nil:
		if e.Marketing == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "营销 Agent 未初始化")
		}
		out, err := e.Marketing.EvaluateAndEngage(ctx, *req.Influencer)
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{Decision: &out.Decision, Transaction: out.Transaction}, nil
	default:
		return nil, xerrors.New(CodeTaskValidation, "任务缺少可执行的评估对象")
	}
}
