// Package sinks 提供把 Agent 事件导出到审计日志、Redis、RabbitMQ 与 MySQL 的订阅者。
// 每个 sink 的 Observe 都满足 events.Observer；导出失败只记录日志并计数，
// 从不影响流水线。
package sinks
