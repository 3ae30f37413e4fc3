package events

import (
	"fmt"
	"log/slog"
	"sync"

	"ASpec-Commerce/pkg/logger"
)

// Log 是单个 Agent 实例的只追加事件序列。
type Log struct {
	// deliverMu 串行化追加与通知，订阅者看到的顺序与存储顺序一致。
	deliverMu sync.Mutex
	mu        sync.RWMutex
	events    []Event
	capacity  int
	observers map[uint64]Observer
	order     []uint64
	nextID    uint64
	log       *slog.Logger
}

// LogOption 定制 Log。
type LogOption func(*Log)

// WithCapacity 限制保留的事件数量，超出时丢弃最旧的事件。0 表示不限。
func WithCapacity(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// NewLog 创建事件序列。
func NewLog(opts ...LogOption) *Log {
	l := &Log{observers: make(map[uint64]Observer), log: logger.Named("events")}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Append 追加事件，并在返回前同步通知所有订阅者。并发追加时，
// 每个订阅者按存储顺序收到事件。订阅者不能在回调中向同一个 Log 追加。
func (l *Log) Append(evt Event) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	l.events = append(l.events, evt)
	if l.capacity > 0 && len(l.events) > l.capacity {
		drop := len(l.events) - l.capacity
		l.events = append(l.events[:0:0], l.events[drop:]...)
	}
	observers := make([]Observer, 0, len(l.order))
	for _, id := range l.order {
		observers = append(observers, l.observers[id])
	}
	l.mu.Unlock()

	for _, fn := range observers {
		l.deliver(fn, evt)
	}
}

func (l *Log) deliver(fn Observer, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("事件订阅者发生 panic",
				slog.String("event_id", evt.ID),
				slog.String("type", string(evt.Type)),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(evt)
}

// Subscribe 注册订阅者，返回的函数用于取消订阅，可重复调用。
func (l *Log) Subscribe(fn Observer) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.observers[id] = fn
	l.order = append(l.order, id)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.observers, id)
			for i, v := range l.order {
				if v == id {
					l.order = append(l.order[:i:i], l.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Recent 按时间顺序返回最近 n 条事件。
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return []Event{}
	}
	if n > len(l.events) {
		n = len(l.events)
	}
	out := make([]Event, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

// All 返回全部事件的副本。
func (l *Log) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len 返回当前事件数量。
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Clear 清空事件，不可恢复。订阅关系保持不变。
func (l *Log) Clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

// Subscribers 返回当前订阅者数量。
func (l *Log) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}
