// Package health 实现邻居健康监控。
//
// 对每个直连邻居跑一台探测状态机：发出带 uuid 与发出时刻的
// Heartbeat，在应答超时内等 HeartbeatAck。间隔自适应——连续
// 稳定若干次后加倍（有上限），一次丢失立即减半（有下限），
// 链路好时省带宽，链路抖时快收敛。
//
// RTT 进滑动窗口求均值，与连续丢失数一起折算 0-100 质量评分，
// 推给节点档案与路由表。连续丢失达到阈值进入 Degraded 并发布
// EvtPeerDegraded；距最近一次成功静默超过失联窗口则断开连接并
// 发布 EvtPeerUnreachable，邻居身份的摘除由中继的断开监听完成。
// 降级节点恢复应答时发布 EvtPeerReachable，存储转发队列靠它冲刷
// 积压。
//
// 所有状态机由单一调度循环驱动，时钟可注入。停机时向全部在监
// 邻居发送 Goodbye，对端收到后立即摘除连接，不必等失联窗口。
package health
