package routing

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/storage/engine/memory"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/pkg/types"
)

func testNodeID(b byte) types.NodeID {
	var id types.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

func newTestTable(mock clock.Clock) *Table {
	return NewTable(config.DefaultRoutingConfig(), nil, mock)
}

// waitFor 轮询等待条件成立
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func TestTable_DirectNeighborWins(t *testing.T) {
	tb := newTestTable(clock.NewMock())
	dest := testNodeID(0x01)
	via := testNodeID(0x02)
	tb.AddNeighbor(dest)
	tb.AddNeighbor(via)

	// 即使存在"更便宜"的学来路由，直连邻居仍然优先
	tb.Update(dest, via, 0.1)

	hop, ok := tb.NextHop(dest)
	if !ok || !hop.Equal(dest) {
		t.Fatalf("直连邻居应直接返回目标，得到 %v ok=%v", hop.ShortString(), ok)
	}
}

func TestTable_LowestCostThenMostRecent(t *testing.T) {
	mock := clock.NewMock()
	tb := newTestTable(mock)
	dest := testNodeID(0x01)
	n1 := testNodeID(0x02)
	n2 := testNodeID(0x03)
	tb.AddNeighbor(n1)
	tb.AddNeighbor(n2)

	tb.Update(dest, n1, 3)
	tb.Update(dest, n2, 1.5)
	if hop, ok := tb.NextHop(dest); !ok || !hop.Equal(n2) {
		t.Fatalf("应选成本最低的 n2，得到 %v", hop.ShortString())
	}

	// 成本平局取最近更新的
	mock.Add(time.Second)
	tb.Update(dest, n1, 1.5)
	if hop, ok := tb.NextHop(dest); !ok || !hop.Equal(n1) {
		t.Fatalf("平局应选最近更新的 n1，得到 %v", hop.ShortString())
	}
}

func TestTable_IgnoresNonNeighborNextHop(t *testing.T) {
	tb := newTestTable(clock.NewMock())
	dest := testNodeID(0x01)
	via := testNodeID(0x04)

	tb.Update(dest, via, 1)
	if _, ok := tb.NextHop(dest); ok {
		t.Fatal("下一跳不在邻居集内的路由不可用")
	}

	tb.AddNeighbor(via)
	if hop, ok := tb.NextHop(dest); !ok || !hop.Equal(via) {
		t.Fatal("邻居恢复后路由应重新可用")
	}
}

func TestTable_ExpiredNeverSelected(t *testing.T) {
	mock := clock.NewMock()
	tb := newTestTable(mock)
	dest := testNodeID(0x01)
	via := testNodeID(0x02)
	tb.AddNeighbor(via)
	tb.Update(dest, via, 1)

	mock.Add(10*time.Minute + time.Second)

	// 过期条目清理前也绝不参与选路
	if _, ok := tb.NextHop(dest); ok {
		t.Fatal("过期路由不得被选中")
	}
	if got := tb.GetStats().Routes; got != 1 {
		t.Fatalf("清理前条目应保留，得到 %d", got)
	}
	if n := tb.Prune(); n != 1 {
		t.Fatalf("Prune 应清理 1 条，得到 %d", n)
	}
	if got := tb.GetStats().Routes; got != 0 {
		t.Fatalf("清理后应为 0 条，得到 %d", got)
	}
}

func TestTable_PruneLoop(t *testing.T) {
	mock := clock.NewMock()
	tb := newTestTable(mock)
	if err := tb.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tb.Stop(context.Background())

	// 让清理循环先建好 ticker
	time.Sleep(20 * time.Millisecond)

	dest := testNodeID(0x01)
	via := testNodeID(0x02)
	tb.AddNeighbor(via)
	tb.Update(dest, via, 1)

	mock.Add(11 * time.Minute)
	waitFor(t, 2*time.Second, func() bool {
		return tb.GetStats().Routes == 0
	})
}

func TestTable_LearnUsesNeighborQuality(t *testing.T) {
	tb := newTestTable(clock.NewMock())
	origin := testNodeID(0x01)
	via := testNodeID(0x05)

	tb.AddNeighbor(via)
	tb.SetNeighborQuality(via, 100)
	tb.Learn(origin, via, 2)

	routes := tb.Lookup(origin)
	if len(routes) != 1 {
		t.Fatalf("应学到 1 条路由，得到 %d", len(routes))
	}
	if routes[0].Cost != 2 {
		t.Fatalf("满质量邻居的成本应等于跳数 2，得到 %v", routes[0].Cost)
	}

	// 陌生下一跳用中性先验质量 50：cost = 1 + 2
	stranger := testNodeID(0x06)
	tb.Learn(origin, stranger, 1)
	routes = tb.Lookup(origin)
	if len(routes) != 2 {
		t.Fatalf("应有 2 条路由，得到 %d", len(routes))
	}
	if routes[0].Cost != 2 || routes[1].Cost != 3 {
		t.Fatalf("成本应为 [2 3]，得到 [%v %v]", routes[0].Cost, routes[1].Cost)
	}
}

func TestTable_QualityReweight(t *testing.T) {
	tb := newTestTable(clock.NewMock())
	dest := testNodeID(0x01)
	n1 := testNodeID(0x02)
	n2 := testNodeID(0x03)
	tb.AddNeighbor(n1)
	tb.AddNeighbor(n2)
	tb.SetNeighborQuality(n1, 100)
	tb.SetNeighborQuality(n2, 100)

	tb.Learn(dest, n1, 1) // cost 1
	tb.Learn(dest, n2, 2) // cost 2
	if hop, _ := tb.NextHop(dest); !hop.Equal(n1) {
		t.Fatal("初始应选 n1")
	}

	// n1 质量跌到 0：成本 +4，选路切换到 n2
	tb.SetNeighborQuality(n1, 0)
	if hop, _ := tb.NextHop(dest); !hop.Equal(n2) {
		t.Fatal("n1 降权后应切换到 n2")
	}

	// 质量恢复后切回
	tb.SetNeighborQuality(n1, 100)
	if hop, _ := tb.NextHop(dest); !hop.Equal(n1) {
		t.Fatal("n1 质量恢复后应切回")
	}
}

func TestTable_UnreachablePenalty(t *testing.T) {
	mock := clock.NewMock()
	tb := newTestTable(mock)
	dest := testNodeID(0x01)
	n1 := testNodeID(0x02)
	n2 := testNodeID(0x03)
	tb.AddNeighbor(n1)
	tb.AddNeighbor(n2)
	tb.Update(dest, n1, 1)
	tb.Update(dest, n2, 3)

	tb.RemoveNeighbor(n1)
	if hop, ok := tb.NextHop(dest); !ok || !hop.Equal(n2) {
		t.Fatal("n1 失联后应选 n2")
	}

	// n1 回归但路由未刷新：惩罚仍在，继续选 n2
	tb.AddNeighbor(n1)
	if hop, _ := tb.NextHop(dest); !hop.Equal(n2) {
		t.Fatal("未刷新的惩罚路由应保持降权")
	}

	// 刷新重置成本
	tb.Update(dest, n1, 1)
	if hop, _ := tb.NextHop(dest); !hop.Equal(n1) {
		t.Fatal("刷新后 n1 应恢复为最优")
	}
}

func TestTable_PersistWarmStart(t *testing.T) {
	eng := memory.New()
	cfg := config.DefaultRoutingConfig()
	dest := testNodeID(0x01)
	via := testNodeID(0x02)

	tb1 := NewTable(cfg, kv.New(eng, kvPrefix), clock.NewMock())
	if err := tb1.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	tb1.AddNeighbor(via)
	tb1.Update(dest, via, 2.5)
	if err := tb1.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	tb2 := NewTable(cfg, kv.New(eng, kvPrefix), clock.NewMock())
	if err := tb2.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tb2.Stop(context.Background())

	routes := tb2.Lookup(dest)
	if len(routes) != 1 || routes[0].Cost != 2.5 {
		t.Fatalf("热启动应恢复路由，得到 %v", routes)
	}

	// 邻居集不持久化：邻居回归前路由不可用
	if _, ok := tb2.NextHop(dest); ok {
		t.Fatal("邻居集为空时路由不可用")
	}
	tb2.AddNeighbor(via)
	if hop, ok := tb2.NextHop(dest); !ok || !hop.Equal(via) {
		t.Fatal("邻居回归后恢复的路由应可用")
	}
}

func TestTable_LoadSkipsExpiredAndCorrupt(t *testing.T) {
	eng := memory.New()
	raw := kv.New(eng, kvPrefix)
	dest := testNodeID(0x01)
	via := testNodeID(0x02)

	// 混入一条有效、一条过期（mock 时钟起点为 Unix 纪元）、一条损坏
	valid := []routeRecord{
		{NextHop: via.String(), Cost: 1, ExpiresAt: time.Unix(0, 0).Add(time.Hour)},
		{NextHop: via.String(), Cost: 2, ExpiresAt: time.Unix(0, 0).Add(-time.Hour)},
	}
	if err := raw.PutJSON([]byte(dest.String()), valid); err != nil {
		t.Fatal(err)
	}
	if err := raw.Put([]byte("not-a-node-id"), []byte("[]")); err != nil {
		t.Fatal(err)
	}
	if err := raw.Put([]byte(testNodeID(0x03).String()), []byte("not json")); err != nil {
		t.Fatal(err)
	}

	tb := NewTable(config.DefaultRoutingConfig(), kv.New(eng, kvPrefix), clock.NewMock())
	if err := tb.Start(context.Background()); err != nil {
		t.Fatalf("损坏快照不应中断启动: %v", err)
	}
	defer tb.Stop(context.Background())

	if got := tb.GetStats().Routes; got != 1 {
		t.Fatalf("应只加载 1 条未过期路由，得到 %d", got)
	}
}

func TestTable_NeighborSet(t *testing.T) {
	tb := newTestTable(clock.NewMock())
	origin := testNodeID(0x01)

	tb.AddNeighbor(testNodeID(0x30))
	tb.AddNeighbor(testNodeID(0x10))
	if !tb.IsNeighbor(testNodeID(0x10)) {
		t.Fatal("IsNeighbor 应为 true")
	}

	nbs := tb.Neighbors()
	if len(nbs) != 2 || !nbs[0].Less(nbs[1]) {
		t.Fatalf("邻居集应按 ID 升序，得到 %v", nbs)
	}

	// 重复加入保留质量评分
	tb.SetNeighborQuality(testNodeID(0x10), 75)
	tb.AddNeighbor(testNodeID(0x10))
	tb.Learn(origin, testNodeID(0x10), 0)
	routes := tb.Lookup(origin)
	if len(routes) != 1 || routes[0].Cost != 1 {
		t.Fatalf("质量 75 的 0 跳路由成本应为 1，得到 %v", routes)
	}

	if got := tb.GetStats().Neighbors; got != 2 {
		t.Fatalf("邻居数应为 2，得到 %d", got)
	}
}
