// Package gossip 实现反熵同步引擎。
//
// 洪泛中继负责实时分发，本引擎负责补洞：每个节点维护最近接受的
// Data 信封窗口（完整线缆编码，TTL 归一为 1，拉回方只投递不再洪泛），
// 周期性把窗口摘要推给随机邻居。摘要有两种形态：窗口小时发有序 ID
// 列表，超过阈值发 Bloom 过滤器（murmur3，四个固定种子，按 1% 误报
// 率定位图大小）。
//
// 收到列表摘要的一端点名拉取缺失 ID；收到 Bloom 摘要无法枚举对端
// 集合，改为回送本端窗口的 Bloom，由摘要发送方取差集推送。两条路
// 最终都落到 GossipPush：信封按 uvarint 定界拼接、整批 zstd 压缩、
// 按载荷上限分片。拉回的信封经中继入站管线重新注入，去重缓存保证
// 收敛不产生重复投递。
//
// 分区愈合后的追赶走的就是这条通道，不依赖重新洪泛。
package gossip
