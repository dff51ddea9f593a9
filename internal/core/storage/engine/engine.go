// Package engine 定义存储引擎接口
//
// 引擎是引擎层之下唯一的持久化依赖：一个不透明的键值契约，
// 用于保存节点档案、路由、会话与 DHT 记录。
//
// # 契约
//
//   - Get 不存在的键返回 ErrKeyNotFound
//   - Iter 按键升序遍历指定前缀，回调返回 false 提前终止
//   - 所有实现必须线程安全
//   - 持久化状态缺失是冷启动，不是错误
//
// # 内置实现
//
//	memory  - 互斥锁保护的内存表（测试、一次性节点）
//	badger  - BadgerDB 本地持久化（默认落盘选择）
//	redis   - Redis 后端（多进程共享或托管部署）
package engine

// Engine 存储引擎接口
type Engine interface {
	// Get 获取指定键的值，不存在返回 ErrKeyNotFound
	Get(key []byte) ([]byte, error)

	// Put 设置键值对
	Put(key, value []byte) error

	// Delete 删除指定键（键不存在不报错）
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// Iter 按键升序遍历指定前缀的键值对
	//
	// 回调返回 false 时提前终止。回调入参的切片仅在
	// 本次回调内有效，如需保留必须复制。
	Iter(prefix []byte, fn func(key, value []byte) bool) error

	// Close 关闭引擎并释放资源
	Close() error
}
