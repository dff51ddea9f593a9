// Package badger 提供基于 BadgerDB 的存储引擎实现
//
// BadgerDB 是嵌入式 LSM 键值库，带 MVCC 与值日志 GC。
// 这里只暴露引擎契约需要的子集，并在后台周期性触发值日志回收。
//
// # 使用示例
//
//	db, err := badger.New("/data/mesh")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
package badger

import (
	"errors"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/pkg/lib/log"
)

var logger = log.Logger("storage/badger")

// gcInterval 值日志垃圾回收周期
const gcInterval = 10 * time.Minute

// Engine BadgerDB 存储引擎
type Engine struct {
	db *badgerdb.DB

	closeOnce sync.Once
	stopGC    chan struct{}
	gcDone    chan struct{}
}

var _ engine.Engine = (*Engine)(nil)

// New 打开（或创建）指定目录下的 BadgerDB
func New(path string) (*Engine, error) {
	opts := badgerdb.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		db:     db,
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	go e.gcLoop()
	return e, nil
}

// gcLoop 周期性触发值日志垃圾回收
func (e *Engine) gcLoop() {
	defer close(e.gcDone)

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopGC:
			return
		case <-ticker.C:
			// 单轮最多回收一个值日志文件，避免长时间占用 IO
			if err := e.db.RunValueLogGC(0.5); err != nil &&
				!errors.Is(err, badgerdb.ErrNoRewrite) {
				logger.Warn("值日志回收失败", "err", err)
			}
		}
	}
}

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	var value []byte
	err := e.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, engine.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	return e.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete 删除指定键
func (e *Engine) Delete(key []byte) error {
	return e.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	err := e.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Iter 按键升序遍历指定前缀的键值对
func (e *Engine) Iter(prefix []byte, fn func(key, value []byte) bool) error {
	return e.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				return nil
			}
		}
		return nil
	})
}

// Close 关闭引擎
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopGC)
		<-e.gcDone
		err = e.db.Close()
	})
	return err
}
