package gossip

import (
	"sync"

	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/pkg/types"
)

// recentStore 近期消息窗口
//
// 环形槽位覆盖最旧条目，按消息ID索引完整线缆编码。
// 只收 Data 信封：控制信封是瞬时的，补洞没有意义。
// 入库前把 TTL 归一为 1——签名对 TTL 置零后的规范形计算，
// 改写不破坏验签，拉回方投递后不会再洪泛。
type recentStore struct {
	mu   sync.RWMutex
	ring []types.MessageID
	next int
	used int
	byID map[types.MessageID][]byte
}

func newRecentStore(capacity int) *recentStore {
	return &recentStore{
		ring: make([]types.MessageID, capacity),
		byID: make(map[types.MessageID][]byte, capacity),
	}
}

// add 记录一个已接受的信封，返回是否真正入库
func (s *recentStore) add(env *envelope.Envelope) bool {
	if env.Type != envelope.Data {
		return false
	}

	id := envelope.ID(env)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; ok {
		return false
	}

	stored := env.Clone()
	stored.TTL = 1
	frame, err := envelope.Encode(stored)
	if err != nil {
		return false
	}

	if s.used == len(s.ring) {
		delete(s.byID, s.ring[s.next])
	} else {
		s.used++
	}
	s.ring[s.next] = id
	s.next = (s.next + 1) % len(s.ring)
	s.byID[id] = frame
	return true
}

// has 测试窗口内是否已有该消息
func (s *recentStore) has(id types.MessageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// get 取出消息的线缆编码
func (s *recentStore) get(id types.MessageID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frame, ok := s.byID[id]
	return frame, ok
}

// ids 返回窗口内全部消息ID的快照
func (s *recentStore) ids() []types.MessageID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.MessageID, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, id)
	}
	return out
}

// size 返回窗口内消息数
func (s *recentStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
