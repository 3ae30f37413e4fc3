// Package events 保存每个 Agent 的审计事件，并把事件同步分发给订阅者。
//
// Log 的 Append 在返回之前依次调用所有当前订阅者；订阅者的 panic 会被恢复并记录，
// 不会中断对其余订阅者的分发，也不会影响流水线。需要异步处理的慢订阅者可以用
// Buffered 包装，溢出时丢弃事件并计数。
package events
