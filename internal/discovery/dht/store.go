package dht

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

// valueRecord 一条存储的值记录。
// kv 键是原始键哈希进 ID 空间后的 Base58；原始键留在记录里，
// 离网前再复制时线路报文要用它。
type valueRecord struct {
	Key       string       `json:"key"`
	Value     []byte       `json:"value"`
	Publisher types.NodeID `json:"publisher"`
	StoredAt  int64        `json:"stored_at"`
	ExpiresAt int64        `json:"expires_at"`
}

func (r *valueRecord) expired(now time.Time) bool {
	return now.UnixNano() >= r.ExpiresAt
}

// valueStore 值存储：kv 持久化 + 内存缓存写通，
// 并按发布方在 usage 账本里累计字节数以执行配额。
//
// 不变量：任一发布方的账本字节数 = 其名下未过期记录的字节和，
// 且绝不超过配额；超限的写入在改动任何状态前拒绝。
type valueStore struct {
	mu     sync.Mutex
	values *kv.Store
	usage  *kv.Store
	cache  map[string]*valueRecord // hashed Base58 → record

	maxValue int
	quota    int64
}

// newValueStore 创建值存储并从 kv 重建缓存，过期记录顺手回收
func newValueStore(values, usage *kv.Store, maxValue int, quota int64, now time.Time) (*valueStore, error) {
	vs := &valueStore{
		values:   values,
		usage:    usage,
		cache:    make(map[string]*valueRecord),
		maxValue: maxValue,
		quota:    quota,
	}
	if err := vs.load(now); err != nil {
		return nil, err
	}
	return vs, nil
}

func (vs *valueStore) load(now time.Time) error {
	type expiredEntry struct {
		key string
		rec *valueRecord
	}
	var stale []expiredEntry

	err := vs.values.PrefixScan(nil, func(key, raw []byte) bool {
		rec := new(valueRecord)
		if err := json.Unmarshal(raw, rec); err != nil {
			logger.Warn("跳过损坏的值记录", "key", string(key), "err", err)
			return true
		}
		if rec.expired(now) {
			stale = append(stale, expiredEntry{string(key), rec})
			return true
		}
		rec.Value = append([]byte(nil), rec.Value...)
		vs.cache[string(key)] = rec
		return true
	})
	if err != nil {
		return err
	}

	// 构造期独占，无需抢 mu
	for _, e := range stale {
		vs.dropLocked(e.key, e.rec)
	}
	return nil
}

// put 写入一条记录，依次执行单值上限与发布方配额两道闸。
// 覆盖写会先释放旧记录占用的字节（可能属于另一发布方）。
func (vs *valueStore) put(publisher types.NodeID, key string, value []byte, ttl time.Duration, now time.Time) error {
	if len(value) > vs.maxValue {
		return ErrValueTooLarge
	}
	hashed := hashKey(key).String()

	vs.mu.Lock()
	defer vs.mu.Unlock()

	var freed int64
	old, overwrite := vs.cache[hashed]
	if overwrite && old.Publisher.Equal(publisher) {
		freed = int64(len(old.Value))
	}

	used, err := vs.usage.GetUint64([]byte(publisher.String()))
	if err != nil && !engine.IsNotFound(err) {
		return err
	}
	if int64(used)-freed+int64(len(value)) > vs.quota {
		return ErrQuotaExceeded
	}

	rec := &valueRecord{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Publisher: publisher,
		StoredAt:  now.UnixNano(),
		ExpiresAt: now.Add(ttl).UnixNano(),
	}
	if err := vs.values.PutJSON([]byte(hashed), rec); err != nil {
		return err
	}

	if overwrite {
		if _, err := vs.usage.DecrUint64([]byte(old.Publisher.String()), uint64(len(old.Value))); err != nil {
			logger.Warn("用量账本回减失败",
				"publisher", log.TruncateID(old.Publisher.String(), 8), "err", err)
		}
	}
	if _, err := vs.usage.IncrUint64([]byte(publisher.String()), uint64(len(value))); err != nil {
		logger.Warn("用量账本累加失败",
			"publisher", log.TruncateID(publisher.String(), 8), "err", err)
	}

	vs.cache[hashed] = rec
	return nil
}

// get 按原始键读取未过期的记录，过期的顺手回收
func (vs *valueStore) get(key string, now time.Time) (*valueRecord, bool) {
	hashed := hashKey(key).String()

	vs.mu.Lock()
	defer vs.mu.Unlock()

	rec, ok := vs.cache[hashed]
	if !ok {
		return nil, false
	}
	if rec.expired(now) {
		vs.dropLocked(hashed, rec)
		return nil, false
	}
	return rec, true
}

// gc 回收全部过期记录，返回回收条数
func (vs *valueStore) gc(now time.Time) int {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	n := 0
	for key, rec := range vs.cache {
		if rec.expired(now) {
			vs.dropLocked(key, rec)
			n++
		}
	}
	return n
}

// dropLocked 删除记录并释放发布方账本字节
func (vs *valueStore) dropLocked(hashed string, rec *valueRecord) {
	delete(vs.cache, hashed)
	if err := vs.values.Delete([]byte(hashed)); err != nil && !engine.IsNotFound(err) {
		logger.Warn("删除值记录失败", "key", hashed, "err", err)
	}
	if _, err := vs.usage.DecrUint64([]byte(rec.Publisher.String()), uint64(len(rec.Value))); err != nil {
		logger.Warn("用量账本回减失败",
			"publisher", log.TruncateID(rec.Publisher.String(), 8), "err", err)
	}
}

// usageOf 返回发布方当前累计字节数
func (vs *valueStore) usageOf(publisher types.NodeID) int64 {
	used, err := vs.usage.GetUint64([]byte(publisher.String()))
	if err != nil {
		return 0
	}
	return int64(used)
}

// size 返回记录条数
func (vs *valueStore) size() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.cache)
}

// totalBytes 返回全部记录的值字节和
func (vs *valueStore) totalBytes() int64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	var n int64
	for _, rec := range vs.cache {
		n += int64(len(rec.Value))
	}
	return n
}

// storedEntry 离网前再复制用的记录快照
type storedEntry struct {
	key   string
	value []byte
	ttl   time.Duration
}

// entries 返回全部未过期记录及剩余 TTL
func (vs *valueStore) entries(now time.Time) []storedEntry {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	out := make([]storedEntry, 0, len(vs.cache))
	for _, rec := range vs.cache {
		if rec.expired(now) {
			continue
		}
		out = append(out, storedEntry{
			key:   rec.Key,
			value: append([]byte(nil), rec.Value...),
			ttl:   time.Duration(rec.ExpiresAt - now.UnixNano()),
		})
	}
	return out
}
