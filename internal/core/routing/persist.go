package routing

import (
	"encoding/json"
	"time"

	"github.com/dep2p/go-mesh/pkg/types"
)

// routeRecord 路由条目的落盘形态，按目标聚合
type routeRecord struct {
	NextHop   string    `json:"next_hop"`
	Cost      float64   `json:"cost"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// flush 快照全部未过期路由
//
// 热启动是尽力而为：整体覆盖旧快照，单条写失败只告警。
func (t *Table) flush() error {
	if t.store == nil {
		return nil
	}

	t.mu.RLock()
	now := t.cl.Now()
	snap := make(map[types.NodeID][]routeRecord, len(t.routes))
	for dest, vias := range t.routes {
		var recs []routeRecord
		for _, r := range vias {
			if !r.ExpiresAt.After(now) {
				continue
			}
			recs = append(recs, routeRecord{
				NextHop:   r.NextHop.String(),
				Cost:      r.Cost,
				UpdatedAt: r.UpdatedAt,
				ExpiresAt: r.ExpiresAt,
			})
		}
		if len(recs) > 0 {
			snap[dest] = recs
		}
	}
	t.mu.RUnlock()

	if err := t.store.DeletePrefix(nil); err != nil {
		return err
	}
	for dest, recs := range snap {
		if err := t.store.PutJSON([]byte(dest.String()), recs); err != nil {
			logger.Warn("路由快照写盘失败", "dest", dest.ShortString(), "err", err)
		}
	}
	if len(snap) > 0 {
		logger.Info("已快照路由表", "destinations", len(snap))
	}
	return nil
}

// load 加载落盘路由，返回加载条数
//
// 过期与无法解析的条目直接跳过，不中断启动。
func (t *Table) load() (int, error) {
	now := t.cl.Now()
	loaded := 0

	restored := make(map[types.NodeID]map[types.NodeID]*Route)
	err := t.store.PrefixScan(nil, func(key, value []byte) bool {
		dest, err := types.ParseNodeID(string(key))
		if err != nil {
			logger.Warn("跳过无法解析的路由键", "key", string(key))
			return true
		}
		var recs []routeRecord
		if err := json.Unmarshal(value, &recs); err != nil {
			logger.Warn("跳过损坏的路由快照", "dest", string(key), "err", err)
			return true
		}
		for _, rec := range recs {
			via, err := types.ParseNodeID(rec.NextHop)
			if err != nil || !rec.ExpiresAt.After(now) {
				continue
			}
			vias, ok := restored[dest]
			if !ok {
				vias = make(map[types.NodeID]*Route)
				restored[dest] = vias
			}
			vias[via] = &Route{
				Destination: dest,
				NextHop:     via,
				Cost:        rec.Cost,
				UpdatedAt:   rec.UpdatedAt,
				ExpiresAt:   rec.ExpiresAt,
			}
			loaded++
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	for dest, vias := range restored {
		if _, ok := t.routes[dest]; !ok {
			t.routes[dest] = vias
		}
	}
	t.mu.Unlock()
	return loaded, nil
}
