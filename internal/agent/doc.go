// Package agent 实现采购与营销两类 Agent 的决策到结算流水线。
//
// 每次调用依次经过：开始事件、决策方给出建议并记录决策事件、仅当动作为 EXECUTE
// 且带有正数金额时按额度裁剪并预留、调用结算方、成功后提交额度并记录执行事件，
// 失败时归还预留并记录错误事件。决策方的意外故障会记录错误事件后原样抛给调用方。
package agent
