// Package guardrail 实现每个 Agent 实例的日额度账本：
// 对提议金额做 min(proposed, maxPerTransaction, dailyLimit - dailySpent) 裁剪，
// 只有结算确认成功后才把裁剪金额计入 dailySpent。
package guardrail
