// Package envelope 实现信封编解码
//
// 信封是网格的线上单元：定长二进制头（157 字节，大端序）+ 变长载荷。
// 编码是确定性的——同一信封编码为同一字节序列。
//
// # 线上布局
//
//	偏移  长度  字段
//	0     1    version    (=1)
//	1     1    type
//	2     1    flags      (bit0 加密, bit1 压缩)
//	3     1    hopLimit   (初始跳数预算，签名保护，转发不变)
//	4     1    ttl        (剩余跳数，逐跳递减，规范形式中置零)
//	5     32   sender     (发送方节点 ID)
//	37    32   recipient  (接收方节点 ID；全零 = 广播)
//	69    12   nonce      (随机；同时作为 AEAD nonce)
//	81    8    seq        (会话序号；未加密时为 0)
//	89    64   signature  (Ed25519；规范形式中置零)
//	153   4    payloadLen
//	157   n    payload
//
// # 规范形式
//
// 签名与 messageId 都在规范形式上计算：ttl 与 signature 字段置零的
// 完整编码。ttl 必须置零，因为中继会在途中递减它；跳数核算由签名
// 保护的 hopLimit 承担（已走跳数 = hopLimit − ttl）。签名写入后
// 重新编码，验证方重建同一规范形式——逐位一致。
//
// messageId = BLAKE3-256(规范形式)，是去重与送达回执的键。
package envelope
