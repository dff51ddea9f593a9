// Package session 实现端到端会话加密
//
// 每个远端一条会话：Noise XX 握手建立根密钥，收发链独立单向推进。
//
// Noise XX 握手流程（握手消息装入 Handshake 信封中继，可跨多跳到达）：
//
//	-> e                                      (发起者发送临时公钥)
//	<- e, ee, s, es, payload                  (响应者发送静态公钥与绑定载荷)
//	-> s, se, payload                         (发起者发送静态公钥与绑定载荷)
//
// 握手信封载荷格式：阶段字节 ‖ 发送方 Ed25519 公钥 ‖ Noise 消息。
// 明文公钥让中继对每个阶段都能自证校验（指纹比对 + 信封验签）。
// Noise 内层绑定载荷包含 Ed25519 公钥与
// Sign("mesh-static-key:" + curve25519_static_pubkey)，
// 把 Noise 静态密钥绑定到节点身份，防止静态密钥被第三方冒用。
//
// 密钥派生：
//
//	root   = Noise 握手信道绑定值
//	链密钥 = HKDF-SHA256(root, info="mesh/chain/<角色>")，收发按角色分离
//	每消息 msgKey = HMAC(chain, 0x01)，chain' = HMAC(chain, 0x02)，旧链即时覆写
//
// 密封使用 ChaCha20-Poly1305：nonce 取信封头随机数，AAD 取信封规范前缀，
// 密文与收发方、序号、标志绑定，密封后明文长度增加 Overhead 字节。
// 乱序容忍至跳过窗口上限（max_skip）；水位线以下且不在窗口内的序号
// 按重放拒绝，且任何失败都不推进接收状态。
package session
