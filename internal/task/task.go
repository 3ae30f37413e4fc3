package task

import (
	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/paywall"
	"ASpec-Commerce/internal/settlement"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Operation 是任务要驱动的 Agent 操作。
type Operation string

const (
	// OperationAnalyze 评估一个对象，必要时在额度内付款。
	OperationAnalyze Operation = "analyze"
	// OperationDiscover 通过付费资源获取达人资料，仅营销 Agent 支持。
	OperationDiscover Operation = "discover"
)

// Request 描述一次异步 Agent 调用。
type Request struct {
	ID         string              `json:"id,omitempty"`
	Agent      decision.Kind       `json:"agent"`
	Operation  Operation           `json:"operation"`
	Supplier   *catalog.Supplier   `json:"supplier,omitempty"`
	Influencer *catalog.Influencer `json:"influencer,omitempty"`
}

// Validate 检查 Agent、操作与评估对象是否匹配。
func (r Request) Validate() error {
	switch r.Operation {
	case OperationAnalyze, "":
	case OperationDiscover:
		if r.Agent != decision.KindMarketing {
			return xerrors.New(CodeTaskValidation, "只有营销 Agent 支持 discover")
		}
		return nil
	default:
		return xerrors.New(CodeTaskValidation, "未知的任务操作: "+string(r.Operation))
	}
	switch r.Agent {
	case decision.KindProcurement:
		if r.Supplier == nil {
			return xerrors.New(CodeTaskValidation, "采购任务缺少供应商报价")
		}
		return validation(r.Supplier.Validate())
	case decision.KindMarketing:
		if r.Influencer == nil {
			return xerrors.New(CodeTaskValidation, "营销任务缺少达人资料")
		}
		return validation(r.Influencer.Validate())
	default:
		return xerrors.New(CodeTaskValidation, "未知的 Agent 类型: "+string(r.Agent))
	}
}

func validation(err error) error {
	if err == nil {
		return nil
	}
	return xerrors.Wrap(CodeTaskValidation, err, "")
}

// ExecutionResult 保存一次任务执行的结果。
type ExecutionResult struct {
	Decision    *decision.Decision            `json:"decision,omitempty"`
	Transaction *settlement.TransactionResult `json:"transaction,omitempty"`
	Resource    *paywall.Response             `json:"resource,omitempty"`
}

// Task 是排队执行的 Agent 调用及其执行状态。
type Task struct {
	ID         string              `json:"id"`
	Agent      decision.Kind       `json:"agent"`
	Operation  Operation           `json:"operation"`
	Supplier   *catalog.Supplier   `json:"supplier,omitempty"`
	Influencer *catalog.Influencer `json:"influencer,omitempty"`
	Status     Status              `json:"status"`
	Attempts   int                 `json:"attempts"`
	MaxRetries int                 `json:"maxRetries"`
	LastError  string              `json:"lastError,omitempty"`
	ErrorCode  string              `json:"errorCode,omitempty"`
	Result     *ExecutionResult    `json:"result,omitempty"`
	CreatedAt  int64               `json:"createdAt"`
	UpdatedAt  int64               `json:"updatedAt"`
}

// Request 还原任务对应的调用参数。
func (t *Task) Request() Request {
	return Request{ID: t.ID, Agent: t.Agent, Operation: t.Operation, Supplier: t.Supplier, Influencer: t.Influencer}
}

// Subject 返回任务的评估对象名称。
func (t *Task) Subject() string {
	switch {
	case t.Supplier != nil:
		return t.Supplier.Name
	case t.Influencer != nil:
		return t.Influencer.Handle
	default:
		return string(t.Operation)
	}
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{Message: "task not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{Message: "task conflict", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{Message: "task already completed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:  "task retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{Message: "task validation failed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "")
	// ErrTaskCompleted 表示任务已经成功完成。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "")
	// ErrTaskExhausted 表示任务已终止，不再重试。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "")
)

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneTask(t *Task) *Task {
	clone := *t
	if t.Supplier != nil {
		s := *t.Supplier
		clone.Supplier = &s
	}
	if t.Influencer != nil {
		inf := *t.Influencer
		clone.Influencer = &inf
	}
	if t.Result != nil {
		r := *t.Result
		clone.Result = &r
	}
	return &clone
}
