// Package memory 提供内存存储引擎实现
//
// 互斥锁保护的内存表，重启即失忆，用于测试与一次性节点。
package memory

import (
	"bytes"
	"sort"
	"sync"

	"github.com/dep2p/go-mesh/internal/core/storage/engine"
)

// Engine 内存存储引擎
type Engine struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ engine.Engine = (*Engine)(nil)

// New 创建内存存储引擎
func New() *Engine {
	return &Engine{
		data: make(map[string][]byte),
	}
}

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, engine.ErrClosed
	}
	v, ok := e.data[string(key)]
	if !ok {
		return nil, engine.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return engine.ErrClosed
	}
	e.data[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete 删除指定键
func (e *Engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return engine.ErrClosed
	}
	delete(e.data, string(key))
	return nil
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return false, engine.ErrClosed
	}
	_, ok := e.data[string(key)]
	return ok, nil
}

// Iter 按键升序遍历指定前缀的键值对
func (e *Engine) Iter(prefix []byte, fn func(key, value []byte) bool) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return engine.ErrClosed
	}

	// 复制快照后再回调，避免回调里写存储造成死锁
	type entry struct {
		key   []byte
		value []byte
	}
	var entries []entry
	for k, v := range e.data {
		kb := []byte(k)
		if !bytes.HasPrefix(kb, prefix) {
			continue
		}
		entries = append(entries, entry{
			key:   kb,
			value: append([]byte(nil), v...),
		})
	}
	e.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	for _, ent := range entries {
		if !fn(ent.key, ent.value) {
			break
		}
	}
	return nil
}

// Close 关闭引擎
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.data = nil
	return nil
}

// Len 返回键数量（测试辅助）
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.data)
}
