// Package catalog 提供供应商报价与达人资料的种子数据，同时为付费资源协议
// 提供解锁后的数据内容。
package catalog
