package task

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue 使用带缓冲的 channel 作为进程内队列，单实例部署与测试使用。
type MemoryQueue struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建内存队列，size 不大于 0 时使用 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 将任务投递到队列，队列已满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.New("队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- taskID:
		return nil
	}
}

// Len 返回尚未被消费的任务数。
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Consume 启动 workerCount 个协程消费任务，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case taskID, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, taskID)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭队列，已入队的任务仍会被消费完。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
