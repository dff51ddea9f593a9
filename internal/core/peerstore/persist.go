package peerstore

import (
	"encoding/json"
	"time"

	"github.com/dep2p/go-mesh/pkg/types"
)

// peerRecord 档案的落盘形态
//
// 节点 ID 取自存储键，不重复落盘。
type peerRecord struct {
	PublicKey  []byte    `json:"public_key,omitempty"`
	Endpoints  []string  `json:"endpoints,omitempty"`
	Reputation float64   `json:"reputation"`
	State      int       `json:"state"`
	LastSeen   time.Time `json:"last_seen"`
	Quality    int       `json:"quality"`
}

// recordOf 生成档案的落盘快照
func recordOf(pe *types.Peer) *peerRecord {
	return &peerRecord{
		PublicKey:  append([]byte(nil), pe.PublicKey...),
		Endpoints:  append([]string(nil), pe.Endpoints...),
		Reputation: pe.Reputation,
		State:      int(pe.State),
		LastSeen:   pe.LastSeen,
		Quality:    pe.Quality,
	}
}

// restore 从落盘形态重建档案
//
// 瞬态连接状态在重启后不再成立：除 Blacklisted 外一律归位
// Discovered，质量评分归零。
func (r *peerRecord) restore(id types.NodeID) *types.Peer {
	pe := &types.Peer{
		ID:         id,
		PublicKey:  append([]byte(nil), r.PublicKey...),
		Endpoints:  append([]string(nil), r.Endpoints...),
		Reputation: r.Reputation,
		State:      types.PeerState(r.State),
		LastSeen:   r.LastSeen,
	}
	if pe.State != types.PeerStateBlacklisted {
		pe.State = types.PeerStateDiscovered
	}
	return pe
}

// flush 将全部脏档案写入存储
//
// 在锁内写盘，落盘顺序与内存变更顺序保持一致；
// 写失败的档案保留脏标记，下个周期重试。
func (p *Peerstore) flush() error {
	if p.store == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id := range p.dirty {
		pe, ok := p.peers[id]
		if !ok {
			delete(p.dirty, id)
			continue
		}
		if err := p.store.PutJSON([]byte(id.String()), recordOf(pe)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(p.dirty, id)
	}
	return firstErr
}

// load 从存储加载全部档案，返回加载条数
//
// 无法解析的记录跳过并告警，不中断启动。
func (p *Peerstore) load() (int, error) {
	loaded := make(map[types.NodeID]*types.Peer)
	err := p.store.PrefixScan(nil, func(key, value []byte) bool {
		id, err := types.ParseNodeID(string(key))
		if err != nil {
			logger.Warn("跳过无法解析的档案键", "key", string(key))
			return true
		}
		var rec peerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			logger.Warn("跳过损坏的对端档案", "peer", string(key), "err", err)
			return true
		}
		loaded[id] = rec.restore(id)
		return true
	})
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	for id, pe := range loaded {
		if _, ok := p.peers[id]; !ok {
			p.peers[id] = pe
		}
	}
	p.mu.Unlock()
	return len(loaded), nil
}
