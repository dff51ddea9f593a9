// Package dht 提供 Kademlia 风格的节点发现与值存储。
//
// 键空间即身份指纹空间，距离为 XOR。路由状态是 256 个按共同前缀
// 索引的 k-桶：插入满桶时对最久未见的联系人发起存活竞争，应答者
// 保位、候选者进替换缓存，超时者出局、候选者顶替。桶只收录经过
// 信封验签的发送方，响应里学到的第三方节点仅作为查询候选与地址
// 线索，不直接入桶。
//
// RPC 是 JSON 报文，乘 DHTRequest/DHTResponse 信封走中继的定向
// 路径，多跳可达，不要求与对端直连；请求与响应靠 uuid 配对，
// 响应类型恒为请求类型加一。
//
// 服务端对每个请求方执行三道闸：单值字节上限、按发布方累计的
// 存储字节配额、STORE 令牌桶限速。任何一道超限都回显式错误
// 响应，绝不静默丢弃。值记录带 TTL 过期回收，自有值周期性重发布；
// 优雅退出时向近邻告别并把本地值再复制到剩余的 k 个最近节点。
package dht
