// Package task 以异步任务的形式驱动 Agent：请求先落库再入队，工作协程领取后
// 调用 Agent，可重试的失败重新入队，终止失败触发告警。队列支持进程内 channel、
// Redis list 与 RabbitMQ。
package task
