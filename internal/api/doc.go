// Package api 通过 HTTP 暴露两类 Agent：同步分析、达人发现、状态与事件查询、
// 额度调整、异步任务、付费收据、结算回调收件箱以及 /metrics。
package api
