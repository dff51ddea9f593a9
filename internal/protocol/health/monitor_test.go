package health

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/routing"
	"github.com/dep2p/go-mesh/internal/core/session"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
	"github.com/dep2p/go-mesh/pkg/types"
)

// healthNode 挂着健康监控的完整测试节点；mon 可以为空模拟不应答的对端
type healthNode struct {
	name  string
	id    *identity.Identity
	peers *peerstore.Peerstore
	mgr   *transport.Manager
	rel   *relay.Relay
	mon   *Monitor
	bus   *eventbus.Bus
	mock  *clock.Mock
}

func newHealthNode(t *testing.T, hub *transport.Network, name string, withMonitor bool, mutate func(*config.HealthConfig)) *healthNode {
	t.Helper()

	ident, err := identity.Generate()
	if err != nil {
		t.Fatalf("生成身份失败: %v", err)
	}

	n := &healthNode{
		name:  name,
		id:    ident,
		peers: peerstore.NewPeerstore(nil, nil),
		bus:   eventbus.NewBus(),
		mock:  clock.NewMock(),
	}

	tcfg := config.DefaultTransportConfig()
	tcfg.ListenAddrs = []string{"mem://" + name}
	n.mgr, err = transport.NewManager(tcfg, nil, n.peers, n.bus)
	if err != nil {
		t.Fatalf("创建传输管理器失败: %v", err)
	}
	n.mgr.Register(hub.Transport())

	routes := routing.NewTable(config.DefaultRoutingConfig(), nil, nil)
	sess, err := session.NewManager(config.DefaultSessionConfig(), 8, ident, nil, n.bus, nil)
	if err != nil {
		t.Fatalf("创建会话管理器失败: %v", err)
	}
	n.rel, err = relay.New(config.DefaultRelayConfig(), ident, n.mgr, n.peers, routes, sess, n.bus, nil)
	if err != nil {
		t.Fatalf("创建中继失败: %v", err)
	}

	if withMonitor {
		hcfg := config.DefaultHealthConfig()
		if mutate != nil {
			mutate(&hcfg)
		}
		n.mon, err = New(hcfg, ident, n.mgr, n.peers, routes, n.rel, n.bus, n.mock)
		if err != nil {
			t.Fatalf("创建健康监控失败: %v", err)
		}
	}

	ctx := context.Background()
	if err := n.rel.Start(ctx); err != nil {
		t.Fatalf("启动中继失败: %v", err)
	}
	if n.mon != nil {
		if err := n.mon.Start(ctx); err != nil {
			t.Fatalf("启动健康监控失败: %v", err)
		}
	}
	if err := n.mgr.Start(ctx); err != nil {
		t.Fatalf("启动传输失败: %v", err)
	}
	t.Cleanup(func() {
		if n.mon != nil {
			_ = n.mon.Stop(context.Background())
		}
		_ = n.rel.Stop(context.Background())
		_ = n.mgr.Stop(context.Background())
	})
	time.Sleep(20 * time.Millisecond)
	return n
}

func connect(t *testing.T, from, to *healthNode) {
	t.Helper()
	if _, err := from.mgr.Dial(context.Background(), "mem://"+to.name); err != nil {
		t.Fatalf("拨号 %s→%s 失败: %v", from.name, to.name, err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, a := from.mgr.ConnOf(to.id.ID())
		_, b := to.mgr.ConnOf(from.id.ID())
		return a && b
	})
	// 等监控通过连接事件把对端纳入状态机
	if from.mon != nil {
		waitFor(t, 2*time.Second, func() bool {
			_, ok := from.mon.Snapshot(to.id.ID())
			return ok
		})
	}
}

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

// step 推进 mock 时钟并给调度协程消化的时间
func (n *healthNode) step(d time.Duration) {
	n.mock.Add(d)
	time.Sleep(15 * time.Millisecond)
}

// ════════════════════════════════════════════════════════════════════════
// 探测与质量
// ════════════════════════════════════════════════════════════════════════

func TestProbeAckRoundTrip(t *testing.T) {
	hub := transport.NewNetwork()
	a := newHealthNode(t, hub, "a", true, nil)
	b := newHealthNode(t, hub, "b", true, nil)

	connect(t, a, b)

	// 第一拍扫描发出探测，对端回显
	a.step(tickResolution)
	waitFor(t, 2*time.Second, func() bool {
		snap, ok := a.mon.Snapshot(b.id.ID())
		return ok && snap.Samples == 1 && snap.MissStreak == 0 && snap.Quality == 100
	})

	snap, _ := a.mon.Snapshot(b.id.ID())
	if snap.Interval != 5*time.Second {
		t.Fatalf("单次成功后间隔 = %v, 期望维持 5s", snap.Interval)
	}
	if snap.Degraded {
		t.Fatal("健康邻居不应处于降级态")
	}

	// 质量分推到了档案与路由
	p, err := a.peers.Get(b.id.ID())
	if err != nil {
		t.Fatalf("查询档案失败: %v", err)
	}
	if p.Quality != 100 {
		t.Fatalf("档案质量 = %d, 期望 100", p.Quality)
	}
}

func TestStableLinkDoublesInterval(t *testing.T) {
	hub := transport.NewNetwork()
	a := newHealthNode(t, hub, "a", true, nil)
	b := newHealthNode(t, hub, "b", true, nil)

	connect(t, a, b)

	waitSamples := func(want int) {
		waitFor(t, 2*time.Second, func() bool {
			snap, ok := a.mon.Snapshot(b.id.ID())
			return ok && snap.Samples == want
		})
	}

	a.step(tickResolution) // 探测 1
	waitSamples(1)
	a.step(5 * time.Second) // 探测 2
	waitSamples(2)
	a.step(5 * time.Second) // 探测 3：连续稳定，期满加倍
	waitSamples(3)

	snap, _ := a.mon.Snapshot(b.id.ID())
	if snap.Interval != 10*time.Second {
		t.Fatalf("三次稳定后间隔 = %v, 期望 10s", snap.Interval)
	}
}

// ════════════════════════════════════════════════════════════════════════
// 丢失、降级与恢复
// ════════════════════════════════════════════════════════════════════════

func TestMissesHalveIntervalThenDegrade(t *testing.T) {
	hub := transport.NewNetwork()
	a := newHealthNode(t, hub, "a", true, nil)
	// 对端不挂监控：心跳无人应答
	b := newHealthNode(t, hub, "b", false, nil)

	connect(t, a, b)

	sub, err := a.bus.Subscribe(new(types.EvtPeerDegraded))
	if err != nil {
		t.Fatalf("订阅降级事件失败: %v", err)
	}
	defer sub.Close()

	waitMiss := func(want int) {
		waitFor(t, 2*time.Second, func() bool {
			snap, ok := a.mon.Snapshot(b.id.ID())
			return ok && snap.MissStreak == want
		})
	}

	a.step(tickResolution)  // 探测 1 发出
	a.step(3 * time.Second) // 超时：丢失 1，间隔 5s→2.5s
	waitMiss(1)
	snap, _ := a.mon.Snapshot(b.id.ID())
	if snap.Interval != 2500*time.Millisecond {
		t.Fatalf("一次丢失后间隔 = %v, 期望 2.5s", snap.Interval)
	}

	a.step(2500 * time.Millisecond) // 探测 2
	a.step(3 * time.Second)         // 丢失 2，间隔 1.25s
	waitMiss(2)

	a.step(1250 * time.Millisecond) // 探测 3
	a.step(3 * time.Second)         // 丢失 3：降级
	waitMiss(3)

	select {
	case raw := <-sub.Out():
		evt, ok := raw.(types.EvtPeerDegraded)
		if !ok {
			t.Fatalf("事件类型 = %T", raw)
		}
		if evt.Peer != b.id.ID() || evt.MissStreak != 3 {
			t.Fatalf("降级事件不符: %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("等待降级事件超时")
	}

	snap, _ = a.mon.Snapshot(b.id.ID())
	if !snap.Degraded {
		t.Fatal("三次丢失后应进入降级态")
	}
	if snap.Interval != time.Second {
		t.Fatalf("降级后间隔 = %v, 期望地板 1s", snap.Interval)
	}
	if snap.Quality != 25 {
		t.Fatalf("三次丢失后质量 = %d, 期望 25", snap.Quality)
	}
	p, err := a.peers.Get(b.id.ID())
	if err != nil {
		t.Fatalf("查询档案失败: %v", err)
	}
	if p.State != types.PeerStateDegraded {
		t.Fatalf("档案状态 = %v, 期望 Degraded", p.State)
	}
}

func TestRecoveryEmitsReachable(t *testing.T) {
	hub := transport.NewNetwork()
	a := newHealthNode(t, hub, "a", true, nil)
	b := newHealthNode(t, hub, "b", false, nil)

	connect(t, a, b)

	// 压到降级
	a.step(tickResolution)
	a.step(3 * time.Second)
	a.step(2500 * time.Millisecond)
	a.step(3 * time.Second)
	a.step(1250 * time.Millisecond)
	a.step(3 * time.Second)
	waitFor(t, 2*time.Second, func() bool {
		snap, ok := a.mon.Snapshot(b.id.ID())
		return ok && snap.Degraded
	})

	sub, err := a.bus.Subscribe(new(types.EvtPeerReachable))
	if err != nil {
		t.Fatalf("订阅可达事件失败: %v", err)
	}
	defer sub.Close()

	// 对端开始应答：手工登记回显处理器
	if err := b.rel.Register(envelope.Heartbeat, func(env *envelope.Envelope) error {
		ack, err := envelope.New(envelope.HeartbeatAck, b.id.ID(), env.Sender, 1, env.Payload)
		if err != nil {
			return err
		}
		envelope.Sign(ack, b.id.PrivateKey())
		return b.rel.Originate(ack)
	}); err != nil {
		t.Fatalf("登记回显处理器失败: %v", err)
	}

	a.step(time.Second) // 地板间隔后的下一次探测
	waitFor(t, 2*time.Second, func() bool {
		snap, ok := a.mon.Snapshot(b.id.ID())
		return ok && !snap.Degraded && snap.MissStreak == 0
	})

	select {
	case raw := <-sub.Out():
		evt, ok := raw.(types.EvtPeerReachable)
		if !ok {
			t.Fatalf("事件类型 = %T", raw)
		}
		if evt.Peer != b.id.ID() {
			t.Fatal("可达事件的对端不符")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("等待可达事件超时")
	}

	p, err := a.peers.Get(b.id.ID())
	if err != nil {
		t.Fatalf("查询档案失败: %v", err)
	}
	if p.State != types.PeerStateConnected {
		t.Fatalf("恢复后档案状态 = %v, 期望 Connected", p.State)
	}
}

// ════════════════════════════════════════════════════════════════════════
// 失联与告别
// ════════════════════════════════════════════════════════════════════════

func TestSilenceDisconnectsPeer(t *testing.T) {
	hub := transport.NewNetwork()
	short := func(c *config.HealthConfig) { c.UnreachableAfter = config.Duration(8 * time.Second) }
	a := newHealthNode(t, hub, "a", true, short)
	b := newHealthNode(t, hub, "b", false, nil)

	connect(t, a, b)

	sub, err := a.bus.Subscribe(new(types.EvtPeerUnreachable))
	if err != nil {
		t.Fatalf("订阅失联事件失败: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 9; i++ {
		a.step(time.Second)
	}

	select {
	case raw := <-sub.Out():
		evt, ok := raw.(types.EvtPeerUnreachable)
		if !ok {
			t.Fatalf("事件类型 = %T", raw)
		}
		if evt.Peer != b.id.ID() {
			t.Fatal("失联事件的对端不符")
		}
		if evt.Silence < 8*time.Second {
			t.Fatalf("失联静默 = %v, 期望 >= 8s", evt.Silence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("等待失联事件超时")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, connected := a.mgr.ConnOf(b.id.ID())
		_, tracked := a.mon.Snapshot(b.id.ID())
		return !connected && !tracked
	})

	// 中继的断开监听把档案退回 Discovered
	waitFor(t, 2*time.Second, func() bool {
		p, err := a.peers.Get(b.id.ID())
		return err == nil && p.State == types.PeerStateDiscovered
	})
}

func TestGoodbyeTearsDownRemoteSide(t *testing.T) {
	hub := transport.NewNetwork()
	a := newHealthNode(t, hub, "a", true, nil)
	b := newHealthNode(t, hub, "b", true, nil)

	connect(t, a, b)

	if err := a.mon.Stop(context.Background()); err != nil {
		t.Fatalf("停止监控失败: %v", err)
	}

	// 对端收到告别后立即摘除连接
	waitFor(t, 2*time.Second, func() bool {
		_, ok := b.mgr.ConnOf(a.id.ID())
		return !ok
	})
	waitFor(t, 2*time.Second, func() bool {
		p, err := b.peers.Get(a.id.ID())
		return err == nil && p.State == types.PeerStateDiscovered
	})
}

// ════════════════════════════════════════════════════════════════════════
// 评分
// ════════════════════════════════════════════════════════════════════════

func TestQualityFormula(t *testing.T) {
	budget := 800 * time.Millisecond

	st := &probeState{}
	if got := st.quality(budget); got != 100 {
		t.Fatalf("无样本质量 = %d, 期望 100", got)
	}

	st.pushRTT(400*time.Millisecond, 10)
	if got := st.quality(budget); got != 75 {
		t.Fatalf("半预算 RTT 质量 = %d, 期望 75", got)
	}

	st.missStreak = 2
	if got := st.quality(budget); got != 25 {
		t.Fatalf("两次丢失后质量 = %d, 期望 25", got)
	}

	st.missStreak = 5
	if got := st.quality(budget); got != 0 {
		t.Fatalf("质量下限 = %d, 期望 0", got)
	}
}

func TestRTTWindowTrims(t *testing.T) {
	st := &probeState{}
	for i := 1; i <= 5; i++ {
		st.pushRTT(time.Duration(i)*time.Millisecond, 3)
	}
	if len(st.rtts) != 3 {
		t.Fatalf("窗口长度 = %d, 期望 3", len(st.rtts))
	}
	// 留下 3,4,5ms，均值 4ms
	if got := st.avgRTT(); got != 4*time.Millisecond {
		t.Fatalf("窗口均值 = %v, 期望 4ms", got)
	}
}
