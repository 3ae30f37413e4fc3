// Package config 加载 aspecd 的 JSON 配置文件，并为额度、结算、付费资源、
// 事件导出与任务队列补全默认值。相对路径按配置文件所在目录解析。
package config
