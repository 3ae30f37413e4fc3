// Package paywall 实现按资源付费的访问协议：资源定价、自动支付上限、
// 过期校验、结算与收据记录。
//
// 一次 Fetch 依次经过四步：免费资源直接返回；金额超过自动支付上限且未预先批准时
// 返回付款要求而不结算；付款要求已过期时失败且从不付款；其余情况结算后记录收据
// 并返回解锁的数据。收据默认只写不读（每次访问都重新付费），
// 可通过 ReuseValidReceipt 改为复用未过期的收据。
package paywall
