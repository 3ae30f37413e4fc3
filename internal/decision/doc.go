// Package decision 定义 Agent 与决策方之间的契约：结构化输入 Context、
// 结构化输出 Decision，以及把原始文本解析并校验为 Decision 的 Parse。
//
// 外部模型的实现位于子包 openai 与 gemini；Static 提供离线规则。
// Guarded 负责把不可用、格式错误与越界三类问题降级为 HOLD。
package decision
