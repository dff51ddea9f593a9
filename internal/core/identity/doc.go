// Package identity 提供节点身份管理
//
// 身份是一把长期 Ed25519 密钥对；节点 ID 是公钥的 SHA-256 指纹。
// 身份创建后永不轮换——换钥即换身份。
//
// 身份模块负责：
//   - 密钥对生成、种子派生与持久化（KV 存储或 PEM 文件）
//   - 信封签名与验证
//   - Ed25519 → Curve25519 转换（供 Noise 握手使用）
//
// # 加载优先级
//
//  1. config.Identity.Seed（十六进制种子，测试与确定性部署）
//  2. config.Identity.KeyFile（PEM 文件）
//  3. KV 存储 identity/self
//  4. 自动生成并写回 KV 存储
package identity
