package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"ASpec-Commerce/pkg/logger"
)

// BufferedObserver 在独立 goroutine 中消费事件，缓冲满时丢弃新事件。
type BufferedObserver struct {
	next    Observer
	ch      chan Event
	dropped atomic.Uint64
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Buffered 把慢订阅者包装成异步订阅者。size 小于 1 时按 1 处理。
func Buffered(next Observer, size int) *BufferedObserver {
	if size < 1 {
		size = 1
	}
	b := &BufferedObserver{next: next, ch: make(chan Event, size), done: make(chan struct{})}
	go b.run()
	return b
}

func (b *BufferedObserver) run() {
	defer close(b.done)
	for evt := range b.ch {
		b.call(evt)
	}
}

func (b *BufferedObserver) call(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Named("events").Error("异步订阅者发生 panic",
				slog.String("event_id", evt.ID),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	b.next(evt)
}

// Observe 满足 Observer，可直接传给 Log.Subscribe。
func (b *BufferedObserver) Observe(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.ch <- evt:
	default:
		b.dropped.Add(1)
	}
}

// Dropped 返回因缓冲满或已关闭而丢弃的事件数量。
func (b *BufferedObserver) Dropped() uint64 { return b.dropped.Load() }

// Close 停止接收事件，并等待缓冲中的事件处理完毕。
func (b *BufferedObserver) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.ch)
		b.mu.Unlock()
	})
	<-b.done
}
