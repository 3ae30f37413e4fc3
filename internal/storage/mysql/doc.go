// Package mysql 把审计事件与付费收据追加写入 MySQL，供离线审计使用。
// 运行时状态从不从这里读回；进程重启后额度与事件仍从零开始。
package mysql
