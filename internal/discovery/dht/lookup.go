package dht

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

// lookup 迭代收敛查询：每轮并发问 α 个距 target 最近的未访问候选，
// 合并响应里的更近节点，直到最近 k 个候选全部问过或轮数耗尽。
//
// key 非空时按 FIND_VALUE 查询，任一响应带值即短路返回（轮为粒度）。
// 响应中学来的第三方节点只作本次查询的候选与地址线索，
// 不写路由表——入桶资格仅凭验签信封。
//
// 结果只含两类节点：本次应答过的，以及未被问到但已在路由表里的。
func (d *DHT) lookup(ctx context.Context, target types.NodeID, key string) ([]Contact, []byte, error) {
	now := d.cl.Now()
	d.table.markLookup(bucketIndex(d.self, target), now)

	pool := d.table.Closest(target, d.cfg.BucketSize)
	if len(pool) == 0 {
		return nil, nil, ErrNoContacts
	}

	seen := make(map[types.NodeID]bool, len(pool))
	for _, id := range pool {
		seen[id] = true
	}
	queried := make(map[types.NodeID]bool)
	responded := make(map[types.NodeID]bool)

	for round := 0; round < d.cfg.MaxRounds; round++ {
		batch := d.nextBatch(pool, queried)
		if len(batch) == 0 {
			break
		}

		var mu sync.Mutex
		var value []byte
		merged := false

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range batch {
			queried[id] = true
			id := id
			g.Go(func() error {
				msg := &message{Type: msgFindNode, Target: target}
				if key != "" {
					msg = &message{Type: msgFindValue, Key: key}
				}
				resp, err := d.call(gctx, id, msg, d.cfg.RequestTimeout.Duration())
				if err != nil {
					logger.Debug("查询候选无响应",
						"peer", log.TruncateID(id.String(), 8), "err", err)
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				responded[id] = true
				if key != "" && len(resp.Value) > 0 && value == nil {
					value = resp.Value
				}
				for _, c := range resp.Nodes {
					if c.ID.IsEmpty() || c.ID.Equal(d.self) {
						continue
					}
					if len(c.Endpoints) > 0 {
						if err := d.peers.AddEndpoints(c.ID, c.Endpoints...); err != nil {
							logger.Debug("记录查询线索失败",
								"peer", log.TruncateID(c.ID.String(), 8), "err", err)
						}
					}
					if !seen[c.ID] {
						seen[c.ID] = true
						pool = append(pool, c.ID)
						merged = true
					}
				}
				return nil
			})
		}
		_ = g.Wait()

		if value != nil {
			return nil, value, nil
		}
		if merged {
			sortByDistance(pool, target)
		}
		if d.converged(pool, queried) {
			break
		}
	}

	return d.harvest(pool, queried, responded), nil, nil
}

// nextBatch 距 target 最近的至多 α 个未访问候选（pool 已有序）
func (d *DHT) nextBatch(pool []types.NodeID, queried map[types.NodeID]bool) []types.NodeID {
	batch := make([]types.NodeID, 0, d.cfg.Alpha)
	for _, id := range pool {
		if queried[id] {
			continue
		}
		batch = append(batch, id)
		if len(batch) == d.cfg.Alpha {
			break
		}
	}
	return batch
}

// converged 最近 k 个候选是否已全部访问过
func (d *DHT) converged(pool []types.NodeID, queried map[types.NodeID]bool) bool {
	n := d.cfg.BucketSize
	if len(pool) < n {
		n = len(pool)
	}
	for _, id := range pool[:n] {
		if !queried[id] {
			return false
		}
	}
	return true
}

// harvest 收拢查询结果并补端点：应答者优先，未访问的只收路由表在册的
func (d *DHT) harvest(pool []types.NodeID, queried, responded map[types.NodeID]bool) []Contact {
	out := make([]Contact, 0, d.cfg.BucketSize)
	for _, id := range pool {
		if !responded[id] && (queried[id] || !d.table.Contains(id)) {
			continue
		}
		c := Contact{ID: id}
		if p, err := d.peers.Get(id); err == nil {
			c.Endpoints = p.Endpoints
		}
		out = append(out, c)
		if len(out) == d.cfg.BucketSize {
			break
		}
	}
	return out
}
