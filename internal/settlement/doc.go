// Package settlement 定义结算方边界以及两种可在构造时选择的策略：
// 内存模拟账本（Mock）与 EVM 链上转账（子包 ethereum）。
//
// 策略由配置中的 settlement.mode 显式决定，不会根据运行时是否存在私钥推断。
package settlement
