package task

import (
	"context"

	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim 把任务置为运行中并增加尝试次数。
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	// MarkFailed 记录失败原因。terminal 为 false 时任务回到 pending 等待重投。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了任务状态的统计信息。
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// SortOrder 决定列表的排序方式。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的在前。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的在前。
	SortByUpdatedAsc
)

// ListOptions 控制列表查询。
type ListOptions struct {
	Limit    int
	Statuses []Status
	Agent    decision.Kind
	Order    SortOrder
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
}

func (opts ListOptions) matches(t *Task) bool {
	if opts.Agent != "" && t.Agent != opts.Agent {
		return false
	}
	if len(opts.Statuses) == 0 {
		return true
	}
	for _, status := range opts.Statuses {
		if t.Status == status {
			return true
		}
	}
	return false
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回数量，上限 100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithStatuses 按状态过滤，忽略未知状态。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append(opts.Statuses[:0], statuses...) }
}

// WithAgent 只返回指定 Agent 的任务。
func WithAgent(kind decision.Kind) ListOption {
	return func(opts *ListOptions) { opts.Agent = kind }
}

// WithSortOrder 修改排序方式。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
