// Package relay 实现去重/TTL 洪泛中继与入站分发。
//
// 中继是消息面的心脏：传输管理器把完整帧交给这里的有界工作池，
// 验签与解密都在工作协程上执行，从不占用传输读循环。单帧的处理顺序：
//
//	解码 → 黑名单检查 → 验签 → 去重 → 反向路径学习 → TTL 递减 → 分发/转发
//
// 验签分两类：Hello 与 Handshake 载荷自带 Ed25519 公钥，校验
// 指纹后即可自证并顺带教给对端档案库；其余类型用档案库中已知公钥验签，
// 公钥未知的信封允许过境转发，但绝不在本地分发。连接上首个验签通过、
// 且跳数为零的信封完成连接与节点的身份绑定。
//
// 发往本节点的 Data 经会话解封（广播为验签明文）后恰好一次交给
// 应用回调；转发遵循 定向直连 → 路由下一跳 → 有界洪泛 的次序，
// 定向 Data 无路可走时转入存储转发队列。本地发出的信封走 Originate，
// 与入站转发共用同一套路径选择。
package relay
