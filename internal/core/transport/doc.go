// Package transport 提供节点间的帧传输层。
//
// 包内包含三部分：
//
//  1. 传输契约：Conn / Listener / Transport / Handler 四个接口，
//     上层（中继、引擎）只依赖契约，不感知具体传输方式。
//  2. 管理器 Manager：按 scheme 注册多种传输，维护监听器与连接集合，
//     为每条连接起读循环并把完整帧交给 Handler；在上层完成首帧验签后
//     通过 BindPeer 建立节点与连接的映射，此后支持按节点发送与广播。
//  3. 三种实现：tcp（长度前缀帧）、ws（WebSocket 二进制消息，自带帧边界）、
//     mem（进程内枢纽，供测试把多个节点接在一起）。
//
// 流式传输上的帧编码为 uvarint 长度前缀 + 帧体，超过上限的帧视为协议
// 违例，连接直接关闭。传输层不解析帧内容，信封的解析与验签都在上层。
package transport
