package routing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("core/routing")

// defaultQuality 尚无质量样本的邻居的中性先验
const defaultQuality = 50

// Route 一条学到的路由
type Route struct {
	// Destination 目标节点
	Destination types.NodeID
	// NextHop 下一跳邻居
	NextHop types.NodeID
	// Cost 路由成本（跳数 + 质量项，随邻居质量变化重新加权）
	Cost float64
	// UpdatedAt 最近一次刷新时间
	UpdatedAt time.Time
	// ExpiresAt 过期时间，过期后不再参与选路
	ExpiresAt time.Time
}

// neighbor 直连邻居的选路视图
type neighbor struct {
	quality int
}

// Table 路由表
//
// 邻居集由连接生命周期驱动（传输建连加入、健康监控失联移除）；
// 路由集由反向路径学习与外部注入驱动。两者都只在内存中参与选路，
// 路由快照在 Stop 时落盘作尽力而为的热启动。
type Table struct {
	cfg   config.RoutingConfig
	store *kv.Store // nil 表示不落盘
	cl    clock.Clock

	mu        sync.RWMutex
	neighbors map[types.NodeID]*neighbor
	routes    map[types.NodeID]map[types.NodeID]*Route // dest → nextHop → route
	closed    bool
	looping   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTable 创建路由表
//
// store 为 nil 时不落盘；cl 为 nil 时使用真实时钟。
func NewTable(cfg config.RoutingConfig, store *kv.Store, cl clock.Clock) *Table {
	if cl == nil {
		cl = clock.New()
	}
	return &Table{
		cfg:       cfg,
		store:     store,
		cl:        cl,
		neighbors: make(map[types.NodeID]*neighbor),
		routes:    make(map[types.NodeID]map[types.NodeID]*Route),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 加载落盘路由并启动过期清理循环
func (t *Table) Start(ctx context.Context) error {
	if t.store != nil {
		n, err := t.load()
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("已热启动路由表", "routes", n)
		}
	}

	t.mu.Lock()
	t.looping = true
	t.mu.Unlock()
	go t.pruneLoop()
	return nil
}

// Stop 停止清理循环并快照路由表
func (t *Table) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	looping := t.looping
	t.mu.Unlock()

	if looping {
		close(t.stopCh)
		<-t.doneCh
	}
	return t.flush()
}

// pruneLoop 周期清理过期路由，直到 Stop
func (t *Table) pruneLoop() {
	defer close(t.doneCh)

	ticker := t.cl.Ticker(t.cfg.PruneInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := t.Prune(); n > 0 {
				logger.Debug("已清理过期路由", "count", n)
			}
		case <-t.stopCh:
			return
		}
	}
}

// ============================================================================
//                              邻居集
// ============================================================================

// AddNeighbor 将节点加入直连邻居集
//
// 重复加入保留已有质量评分。
func (t *Table) AddNeighbor(id types.NodeID) {
	if id.IsEmpty() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, ok := t.neighbors[id]; !ok {
		t.neighbors[id] = &neighbor{quality: defaultQuality}
	}
}

// RemoveNeighbor 将节点移出直连邻居集
//
// 途经该邻居的路由加上失联惩罚，降权而非删除；
// 下一次刷新（Update/Learn）重置成本，过期则被清理。
func (t *Table) RemoveNeighbor(id types.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, ok := t.neighbors[id]; !ok {
		return
	}
	delete(t.neighbors, id)
	for _, vias := range t.routes {
		if r, ok := vias[id]; ok {
			r.Cost += t.cfg.UnreachablePenalty
		}
	}
}

// Neighbors 返回直连邻居集，按节点 ID 排序
func (t *Table) Neighbors() []types.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.NodeID, 0, len(t.neighbors))
	for id := range t.neighbors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// IsNeighbor 节点是否在直连邻居集内
func (t *Table) IsNeighbor(id types.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.neighbors[id]
	return ok
}

// SetNeighborQuality 更新邻居链路质量，重新加权途经路由
//
// 成本中的质量项为 (100−quality)/25，按新旧差值调整，
// 不改动路由的跳数部分。
func (t *Table) SetNeighborQuality(id types.NodeID, quality int) {
	if quality < 0 {
		quality = 0
	} else if quality > 100 {
		quality = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	nb, ok := t.neighbors[id]
	if !ok || nb.quality == quality {
		return
	}
	delta := float64(nb.quality-quality) / 25
	nb.quality = quality

	for _, vias := range t.routes {
		if r, ok := vias[id]; ok {
			r.Cost += delta
			if r.Cost < 0 {
				r.Cost = 0
			}
		}
	}
}

// ============================================================================
//                              路由集
// ============================================================================

// Learn 反向路径学习
//
// 中继对每个被接受的信封上报 (origin, arrivedVia, hops)，
// 成本按当前邻居质量计算：cost = hops + (100−quality)/25。
func (t *Table) Learn(origin, via types.NodeID, hops int) {
	if origin.IsEmpty() || via.IsEmpty() {
		return
	}
	if hops < 0 {
		hops = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	q := defaultQuality
	if nb, ok := t.neighbors[via]; ok {
		q = nb.quality
	}
	t.upsertLocked(origin, via, float64(hops)+float64(100-q)/25)
}

// Update 注入或刷新一条路由
//
// 成本由调用方给定（如 DHT 解析出的路径），刷新重置过期时间。
func (t *Table) Update(dest, nextHop types.NodeID, cost float64) {
	if dest.IsEmpty() || nextHop.IsEmpty() {
		return
	}
	if cost < 0 {
		cost = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.upsertLocked(dest, nextHop, cost)
}

// upsertLocked 写入路由条目，调用方需持有写锁
func (t *Table) upsertLocked(dest, via types.NodeID, cost float64) {
	now := t.cl.Now()
	vias, ok := t.routes[dest]
	if !ok {
		vias = make(map[types.NodeID]*Route)
		t.routes[dest] = vias
	}
	vias[via] = &Route{
		Destination: dest,
		NextHop:     via,
		Cost:        cost,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(t.cfg.RouteTTL.Duration()),
	}
}

// NextHop 返回送达目标的下一跳
//
// 目标本身是直连邻居时直接返回目标；否则在未过期且下一跳
// 仍在邻居集内的路由中取成本最低者，平局取最近更新的。
func (t *Table) NextHop(dest types.NodeID) (types.NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.neighbors[dest]; ok {
		return dest, true
	}

	now := t.cl.Now()
	var best *Route
	for via, r := range t.routes[dest] {
		if _, ok := t.neighbors[via]; !ok {
			continue
		}
		if !r.ExpiresAt.After(now) {
			continue
		}
		if best == nil || r.Cost < best.Cost ||
			(r.Cost == best.Cost && r.UpdatedAt.After(best.UpdatedAt)) {
			best = r
		}
	}
	if best == nil {
		return types.EmptyNodeID, false
	}
	return best.NextHop, true
}

// Lookup 返回目标的全部路由快照，按成本升序
func (t *Table) Lookup(dest types.NodeID) []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vias := t.routes[dest]
	out := make([]Route, 0, len(vias))
	for _, r := range vias {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cost < out[j].Cost })
	return out
}

// Routes 返回全部路由快照
func (t *Table) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Route
	for _, vias := range t.routes {
		for _, r := range vias {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Destination.Equal(out[j].Destination) {
			return out[i].Destination.Less(out[j].Destination)
		}
		return out[i].Cost < out[j].Cost
	})
	return out
}

// Prune 清理过期路由，返回清理条数
func (t *Table) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cl.Now()
	removed := 0
	for dest, vias := range t.routes {
		for via, r := range vias {
			if !r.ExpiresAt.After(now) {
				delete(vias, via)
				removed++
			}
		}
		if len(vias) == 0 {
			delete(t.routes, dest)
		}
	}
	return removed
}

// ============================================================================
//                              统计
// ============================================================================

// Stats 路由表统计
type Stats struct {
	// Neighbors 直连邻居数
	Neighbors int
	// Routes 路由条目数（含未清理的过期条目）
	Routes int
}

// GetStats 获取路由表统计
func (t *Table) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{Neighbors: len(t.neighbors)}
	for _, vias := range t.routes {
		s.Routes += len(vias)
	}
	return s
}
