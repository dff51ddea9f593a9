// Package redis 提供基于 Redis 的存储引擎实现
//
// 面向多进程共享或托管部署的场景。键直接映射为 Redis 字符串键；
// 前缀遍历通过 SCAN MATCH 实现，结果在本地排序以满足升序契约。
package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dep2p/go-mesh/internal/core/storage/engine"
)

// opTimeout 单次 Redis 操作超时
const opTimeout = 5 * time.Second

// scanBatch 单次 SCAN 批量
const scanBatch = 256

// Engine Redis 存储引擎
type Engine struct {
	client *goredis.Client
}

var _ engine.Engine = (*Engine)(nil)

// Options Redis 连接参数
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New 创建 Redis 存储引擎并验证连通性
func New(opts Options) (*Engine, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Engine{client: client}, nil
}

func (e *Engine) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	ctx, cancel := e.ctx()
	defer cancel()

	val, err := e.client.Get(ctx, string(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, engine.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	ctx, cancel := e.ctx()
	defer cancel()
	return e.client.Set(ctx, string(key), value, 0).Err()
}

// Delete 删除指定键
func (e *Engine) Delete(key []byte) error {
	ctx, cancel := e.ctx()
	defer cancel()
	return e.client.Del(ctx, string(key)).Err()
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	ctx, cancel := e.ctx()
	defer cancel()

	n, err := e.client.Exists(ctx, string(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Iter 按键升序遍历指定前缀的键值对
func (e *Engine) Iter(prefix []byte, fn func(key, value []byte) bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// SCAN 无序，先收集全部匹配键再排序
	var keys []string
	iter := e.client.Scan(ctx, 0, string(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	sort.Strings(keys)

	for _, k := range keys {
		val, err := e.client.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			// 键在扫描后被删除，跳过
			continue
		}
		if err != nil {
			return err
		}
		if !fn([]byte(k), val) {
			break
		}
	}
	return nil
}

// Close 关闭引擎
func (e *Engine) Close() error {
	return e.client.Close()
}
