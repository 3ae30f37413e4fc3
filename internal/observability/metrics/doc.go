// Package metrics 以 Prometheus 文本格式暴露 HTTP 请求与 Agent 流水线指标。
package metrics
