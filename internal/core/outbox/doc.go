// Package outbox 实现存储转发队列。
//
// 目的地不可达或会话未就绪的定向消息进入每目的地 FIFO 队列，
// 由单一调度协程按指数退避重投。队列有界：全局容量超限丢全局最旧，
// 单目的地容量超限丢该目的地最旧，这是除重试耗尽外唯一的静默丢弃点。
//
// 调度的唤醒来源有三个：周期扫描、节点恢复可达事件、会话建立事件。
// 每目的地严格按入队顺序重投，队首未到期时整个目的地等待，
// 避免乱序送达放大接收端的跳跃密钥窗口。重试耗尽后丢弃消息并发布
// EvtDeliveryFailed——这是引擎唯一的用户可见失败。
//
// 未密封的定向 Data 在重投前经由门面安装的终结器补齐密封与签名；
// 终结失败（会话仍未建立）只推进退避，不丢消息。
package outbox
