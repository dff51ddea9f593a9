// Package kv 提供带前缀隔离的 KV 存储抽象层
//
// Store 在底层存储引擎之上提供命名空间隔离，
// 每个组件使用独立前缀保存数据。
//
// # 键空间约定
//
//	identity/  - 身份密钥
//	peer/      - 节点档案
//	route/     - 路由表（尽力热启动）
//	session/   - 会话链状态快照
//	dht/v/     - DHT 值记录
//	dht/u/     - DHT 每请求方用量
//
// # 使用示例
//
//	eng := memory.New()
//	peers := kv.New(eng, []byte("peer/"))
//	peers.PutJSON([]byte(id.String()), profile)
package kv

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/dep2p/go-mesh/internal/core/storage/engine"
)

// Store 带前缀隔离的 KV 存储
type Store struct {
	engine engine.Engine
	prefix []byte
	mu     sync.Mutex // 仅保护读-改-写的计数器操作
}

// New 创建新的 Store
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: prefix,
	}
}

// prefixKey 为键添加前缀
func (s *Store) prefixKey(key []byte) []byte {
	if len(s.prefix) == 0 {
		return key
	}
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

// stripPrefix 从键中移除前缀
func (s *Store) stripPrefix(key []byte) []byte {
	if len(s.prefix) == 0 || len(key) < len(s.prefix) {
		return key
	}
	return key[len(s.prefix):]
}

// ============= 基础操作 =============

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// Has 检查键是否存在
func (s *Store) Has(key []byte) (bool, error) {
	return s.engine.Has(s.prefixKey(key))
}

// ============= 便捷方法 =============

// GetJSON 获取并反序列化 JSON 值
func (s *Store) GetJSON(key []byte, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return engine.ErrCorrupted
	}
	return nil
}

// PutJSON 序列化并存储 JSON 值
func (s *Store) PutJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// GetUint64 获取 uint64 值
func (s *Store) GetUint64(key []byte) (uint64, error) {
	data, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, engine.ErrCorrupted
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutUint64 存储 uint64 值
func (s *Store) PutUint64(key []byte, value uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	return s.Put(key, data)
}

// IncrUint64 原子递增计数器，返回递增后的值
//
// 键不存在时视为从 0 开始。用于 DHT 用量账本这类累加计数。
func (s *Store) IncrUint64(key []byte, delta uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetUint64(key)
	if err != nil && !engine.IsNotFound(err) {
		return 0, err
	}

	next := current + delta
	if err := s.PutUint64(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// DecrUint64 原子递减计数器，返回递减后的值
//
// 结果下溢时钳到 0。
func (s *Store) DecrUint64(key []byte, delta uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetUint64(key)
	if err != nil && !engine.IsNotFound(err) {
		return 0, err
	}

	var next uint64
	if current > delta {
		next = current - delta
	}
	if err := s.PutUint64(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// ============= 前缀遍历 =============

// PrefixScan 扫描指定子前缀的所有键值对
//
// 回调返回 false 时停止。回调拿到的 key 已去除 Store 前缀。
func (s *Store) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	fullPrefix := s.prefixKey(subPrefix)
	return s.engine.Iter(fullPrefix, func(key, value []byte) bool {
		return fn(s.stripPrefix(key), value)
	})
}

// Keys 返回指定子前缀的所有键
func (s *Store) Keys(subPrefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.PrefixScan(subPrefix, func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	return keys, err
}

// Count 统计指定子前缀的键数量
func (s *Store) Count(subPrefix []byte) (int64, error) {
	var count int64
	err := s.PrefixScan(subPrefix, func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}

// DeletePrefix 删除指定子前缀的所有键
func (s *Store) DeletePrefix(subPrefix []byte) error {
	keys, err := s.Keys(subPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// ============= 辅助方法 =============

// Prefix 返回当前 Store 的前缀
func (s *Store) Prefix() []byte {
	return s.prefix
}

// SubStore 创建子存储（在当前前缀基础上追加子前缀）
func (s *Store) SubStore(subPrefix []byte) *Store {
	newPrefix := make([]byte, len(s.prefix)+len(subPrefix))
	copy(newPrefix, s.prefix)
	copy(newPrefix[len(s.prefix):], subPrefix)

	return &Store{
		engine: s.engine,
		prefix: newPrefix,
	}
}

// Engine 返回底层存储引擎
func (s *Store) Engine() engine.Engine {
	return s.engine
}
