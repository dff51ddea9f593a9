package dht

import (
	"sync"
	"time"

	"github.com/dep2p/go-mesh/pkg/types"
)

// Contact 路由表联系人。
// Endpoints 仅在线路报文里携带，作为拨号线索；表内不维护。
type Contact struct {
	ID        types.NodeID `json:"id"`
	Endpoints []string     `json:"endpoints,omitempty"`
	LastSeen  time.Time    `json:"-"`
}

// bucket 单个 k-桶：最近活跃的联系人在前，替换缓存在侧。
// contesting 置位期间不再发起第二场存活竞争，后来者直接进缓存。
type bucket struct {
	mu          sync.Mutex
	contacts    []*Contact
	replacement []*Contact
	contesting  bool
	lastLookup  time.Time
}

// Table Kademlia 路由表：256 个按共同前缀长度索引的 k-桶
type Table struct {
	self    types.NodeID
	k       int
	buckets [idBits]*bucket
}

// NewTable 创建路由表
func NewTable(self types.NodeID, k int) *Table {
	t := &Table{self: self, k: k}
	for i := range t.buckets {
		t.buckets[i] = &bucket{}
	}
	return t
}

func (t *Table) bucketFor(id types.NodeID) *bucket {
	return t.buckets[bucketIndex(t.self, id)]
}

// Upsert 插入或刷新一个经过验签的联系人。
//
// 满桶时返回最久未见的联系人作为存活竞争的被挑战者，候选者先进
// 替换缓存；调用方须在探测后回报 Survived 或 Failed。同桶竞争
// 进行期间的后续插入不再开新竞争。
func (t *Table) Upsert(id types.NodeID, now time.Time) (challenge types.NodeID, contest bool) {
	if id.IsEmpty() || id.Equal(t.self) {
		return types.EmptyNodeID, false
	}

	b := t.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, c := range b.contacts {
		if c.ID.Equal(id) {
			c.LastSeen = now
			copy(b.contacts[1:i+1], b.contacts[:i])
			b.contacts[0] = c
			return types.EmptyNodeID, false
		}
	}

	if len(b.contacts) < t.k {
		b.contacts = append([]*Contact{{ID: id, LastSeen: now}}, b.contacts...)
		return types.EmptyNodeID, false
	}

	b.stash(&Contact{ID: id, LastSeen: now}, t.k)
	if b.contesting {
		return types.EmptyNodeID, false
	}
	b.contesting = true
	return b.contacts[len(b.contacts)-1].ID, true
}

// stash 候选者进替换缓存，重复则刷新，超容丢最旧
func (b *bucket) stash(c *Contact, limit int) {
	for i, existing := range b.replacement {
		if existing.ID.Equal(c.ID) {
			b.replacement[i] = c
			return
		}
	}
	if len(b.replacement) >= limit {
		b.replacement = b.replacement[1:]
	}
	b.replacement = append(b.replacement, c)
}

// Survived 被挑战者应答了存活探测：保位并移到最前
func (t *Table) Survived(id types.NodeID, now time.Time) {
	b := t.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.contesting = false
	for i, c := range b.contacts {
		if c.ID.Equal(id) {
			c.LastSeen = now
			copy(b.contacts[1:i+1], b.contacts[:i])
			b.contacts[0] = c
			return
		}
	}
}

// Failed 被挑战者探测超时：出局，最新的候选者顶替
func (t *Table) Failed(id types.NodeID, now time.Time) {
	b := t.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.contesting = false
	b.removeLocked(id, now)
}

// Remove 移除联系人（如收到对方的告别），替换缓存顶上
func (t *Table) Remove(id types.NodeID) {
	b := t.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id, time.Time{})
}

func (b *bucket) removeLocked(id types.NodeID, now time.Time) {
	for i, c := range b.contacts {
		if !c.ID.Equal(id) {
			continue
		}
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
		if n := len(b.replacement); n > 0 {
			promoted := b.replacement[n-1]
			b.replacement = b.replacement[:n-1]
			if !now.IsZero() {
				promoted.LastSeen = now
			}
			b.contacts = append([]*Contact{promoted}, b.contacts...)
		}
		return
	}
}

// Contains 检查联系人是否在桶里
func (t *Table) Contains(id types.NodeID) bool {
	b := t.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.contacts {
		if c.ID.Equal(id) {
			return true
		}
	}
	return false
}

// Closest 返回距 target 最近的至多 n 个联系人 ID
func (t *Table) Closest(target types.NodeID, n int) []types.NodeID {
	ids := t.Contacts()
	sortByDistance(ids, target)
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// Contacts 返回全部联系人 ID
func (t *Table) Contacts() []types.NodeID {
	var ids []types.NodeID
	for _, b := range t.buckets {
		b.mu.Lock()
		for _, c := range b.contacts {
			ids = append(ids, c.ID)
		}
		b.mu.Unlock()
	}
	return ids
}

// Size 返回联系人总数
func (t *Table) Size() int {
	n := 0
	for _, b := range t.buckets {
		b.mu.Lock()
		n += len(b.contacts)
		b.mu.Unlock()
	}
	return n
}

// staleBuckets 返回超过 maxAge 未做过查询的非空桶下标
func (t *Table) staleBuckets(now time.Time, maxAge time.Duration) []int {
	var idxs []int
	for i, b := range t.buckets {
		b.mu.Lock()
		stale := len(b.contacts) > 0 && now.Sub(b.lastLookup) > maxAge
		b.mu.Unlock()
		if stale {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// markLookup 记录一次命中该桶的查询时间
func (t *Table) markLookup(idx int, now time.Time) {
	if idx < 0 || idx >= idBits {
		return
	}
	b := t.buckets[idx]
	b.mu.Lock()
	b.lastLookup = now
	b.mu.Unlock()
}
