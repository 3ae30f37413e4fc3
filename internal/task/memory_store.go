package task

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ASpec-Commerce/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，进程重启后丢失。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task), now: time.Now}
}

// Create 保存新任务，ID 已存在时返回 ErrTaskConflict。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := m.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get 返回任务副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// Claim 只领取 pending 状态且尚有重试次数的任务。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case StatusSucceeded:
		return cloneTask(task), ErrTaskCompleted
	case StatusRunning:
		return cloneTask(task), ErrTaskConflict
	case StatusFailed:
		return cloneTask(task), ErrTaskExhausted
	}
	if task.Attempts >= task.MaxRetries {
		return cloneTask(task), ErrTaskExhausted
	}
	task.Status = StatusRunning
	task.Attempts++
	task.UpdatedAt = m.now().Unix()
	return cloneTask(task), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusSucceeded
	task.Result = &result
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 记录失败；非终止失败让任务回到 pending。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusPending
	if terminal {
		task.Status = StatusFailed
	}
	task.LastError = lastError
	task.ErrorCode = string(code)
	task.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合条件的任务，默认最近更新的在前。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	m.mu.RLock()
	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if opts.matches(task) {
			results = append(results, cloneTask(task))
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合条件的任务数量。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats Stats
	for _, task := range m.tasks {
		if !opts.matches(task) {
			continue
		}
		stats.Total++
		switch task.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
