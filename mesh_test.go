package mesh

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/pkg/types"
)

// received 一条到站消息
type received struct {
	sender  types.NodeID
	payload []byte
}

// newTestEngine 在共享内存网络上创建并启动一个引擎
func newTestEngine(t *testing.T, hub *transport.Network, name string, opts ...Option) *Engine {
	t.Helper()

	base := []Option{
		WithMemoryStorage(),
		WithListenAddrs("mem://" + name),
		WithTransport(hub.Transport()),
	}
	e, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("创建引擎 %s: %v", name, err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("启动引擎 %s: %v", name, err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// collect 注册消息回调并把到站消息汇入通道
func collect(e *Engine) chan received {
	ch := make(chan received, 16)
	e.OnMessage(func(sender types.NodeID, payload []byte) {
		ch <- received{sender, append([]byte(nil), payload...)}
	})
	return ch
}

func waitRecv(t *testing.T, ch chan received, d time.Duration) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(d):
		t.Fatal("等待消息到站超时")
		return received{}
	}
}

func expectQuiet(t *testing.T, ch chan received, window time.Duration) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("不应有投递, got %q from %s", r.payload, r.sender.ShortString())
	case <-time.After(window):
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

// ════════════════════════════════════════════════════════════════════════
// 生命周期
// ════════════════════════════════════════════════════════════════════════

func TestEngineLifecycle(t *testing.T) {
	hub := transport.NewNetwork()
	e, err := New(
		WithMemoryStorage(),
		WithListenAddrs("mem://solo"),
		WithTransport(hub.Transport()),
	)
	if err != nil {
		t.Fatalf("创建引擎: %v", err)
	}
	if got := e.State(); got != StateIdle {
		t.Fatalf("初始状态 = %v, want idle", got)
	}
	if e.ID().IsEmpty() {
		t.Fatal("New 之后节点 ID 不应为空")
	}

	// 未启动时的操作全部拒绝
	if _, err := e.Send(context.Background(), types.NodeID{1}, []byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("未启动 Send = %v, want ErrNotStarted", err)
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("启动: %v", err)
	}
	if got := e.State(); got != StateRunning {
		t.Fatalf("启动后状态 = %v, want running", got)
	}
	if err := e.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("重复启动 = %v, want ErrAlreadyStarted", err)
	}

	addrs := e.Addrs()
	if len(addrs) != 1 || addrs[0] != "mem://solo" {
		t.Fatalf("监听端点 = %v", addrs)
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("停止: %v", err)
	}
	if got := e.State(); got != StateStopped {
		t.Fatalf("停止后状态 = %v, want stopped", got)
	}
	if err := e.Stop(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("重复停止 = %v, want ErrNotStarted", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("关闭: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("重复关闭应幂等, got %v", err)
	}
	if err := e.Start(ctx); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("关闭后启动 = %v, want ErrEngineClosed", err)
	}
}

// ════════════════════════════════════════════════════════════════════════
// 点对点收发
// ════════════════════════════════════════════════════════════════════════

func TestEngineSendReceive(t *testing.T) {
	hub := transport.NewNetwork()
	a := newTestEngine(t, hub, "a")
	b := newTestEngine(t, hub, "b")
	gotA, gotB := collect(a), collect(b)
	ctx := context.Background()

	if err := a.Connect(ctx, "mem://b"); err != nil {
		t.Fatalf("连接: %v", err)
	}

	// 首条消息：无会话，经握手与存储转发队列送达
	id, err := a.Send(ctx, b.ID(), []byte("hello mesh"))
	if err != nil {
		t.Fatalf("发送: %v", err)
	}
	if id.IsEmpty() {
		t.Fatal("消息 ID 不应为空")
	}
	r := waitRecv(t, gotB, 5*time.Second)
	if r.sender != a.ID() {
		t.Fatalf("发送方 = %s, want %s", r.sender.ShortString(), a.ID().ShortString())
	}
	if !bytes.Equal(r.payload, []byte("hello mesh")) {
		t.Fatalf("载荷 = %q", r.payload)
	}

	// 会话就绪后走直发路径
	if _, err := a.Send(ctx, b.ID(), []byte("second")); err != nil {
		t.Fatalf("二次发送: %v", err)
	}
	if r := waitRecv(t, gotB, 3*time.Second); !bytes.Equal(r.payload, []byte("second")) {
		t.Fatalf("载荷 = %q", r.payload)
	}

	// 反向复用同一会话
	if _, err := b.Send(ctx, a.ID(), []byte("pong")); err != nil {
		t.Fatalf("回发: %v", err)
	}
	if r := waitRecv(t, gotA, 3*time.Second); r.sender != b.ID() {
		t.Fatalf("回发发送方 = %s", r.sender.ShortString())
	}
}

func TestEngineSendValidation(t *testing.T) {
	hub := transport.NewNetwork()
	a := newTestEngine(t, hub, "a")
	ctx := context.Background()

	if _, err := a.Send(ctx, types.EmptyNodeID, []byte("x")); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("空目标 = %v, want ErrInvalidDestination", err)
	}
	if _, err := a.Send(ctx, a.ID(), []byte("x")); !errors.Is(err, ErrSelfAddressed) {
		t.Fatalf("自发 = %v, want ErrSelfAddressed", err)
	}

	// 随机数据不可压缩，超限应被拒绝
	big := make([]byte, 70000)
	if _, err := rand.Read(big); err != nil {
		t.Fatalf("随机载荷: %v", err)
	}
	if _, err := a.Send(ctx, types.NodeID{1}, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("超限载荷 = %v, want ErrPayloadTooLarge", err)
	}
	if _, err := a.Broadcast(ctx, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("超限广播 = %v, want ErrPayloadTooLarge", err)
	}
}

// ════════════════════════════════════════════════════════════════════════
// 广播
// ════════════════════════════════════════════════════════════════════════

func TestEngineBroadcastRelay(t *testing.T) {
	hub := transport.NewNetwork()
	a := newTestEngine(t, hub, "a")
	b := newTestEngine(t, hub, "b")
	c := newTestEngine(t, hub, "c")
	gotA, gotB, gotC := collect(a), collect(b), collect(c)
	ctx := context.Background()

	// 先搭远端链路再接入 a，让 a 的自通告能洪泛到 c
	if err := b.Connect(ctx, "mem://c"); err != nil {
		t.Fatalf("连接 b→c: %v", err)
	}
	if err := a.Connect(ctx, "mem://b"); err != nil {
		t.Fatalf("连接 a→b: %v", err)
	}
	// c 学到 a 的公钥后才会投递 a 的广播
	waitFor(t, 3*time.Second, func() bool {
		_, err := c.Peer(a.ID())
		return err == nil
	})

	if _, err := a.Broadcast(ctx, []byte("assembly call")); err != nil {
		t.Fatalf("广播: %v", err)
	}

	for name, ch := range map[string]chan received{"b": gotB, "c": gotC} {
		r := waitRecv(t, ch, 5*time.Second)
		if r.sender != a.ID() {
			t.Fatalf("%s 收到的发送方 = %s", name, r.sender.ShortString())
		}
		if !bytes.Equal(r.payload, []byte("assembly call")) {
			t.Fatalf("%s 收到载荷 = %q", name, r.payload)
		}
	}

	// 发起方不自投，去重保证两跳节点只收一次
	expectQuiet(t, gotA, 300*time.Millisecond)
	expectQuiet(t, gotC, 300*time.Millisecond)
}

// ════════════════════════════════════════════════════════════════════════
// 投递失败反馈
// ════════════════════════════════════════════════════════════════════════

func TestEngineDeliveryFailure(t *testing.T) {
	hub := transport.NewNetwork()

	cfg := config.NewConfig()
	cfg.Outbox.BackoffBase = config.Duration(30 * time.Millisecond)
	cfg.Outbox.BackoffMax = config.Duration(100 * time.Millisecond)
	cfg.Outbox.MaxAttempts = 2
	cfg.Outbox.ScanInterval = config.Duration(50 * time.Millisecond)
	a := newTestEngine(t, hub, "a", WithConfig(cfg),
		WithMemoryStorage(), WithListenAddrs("mem://a"))

	failed := make(chan types.MessageID, 1)
	a.OnDeliveryFailed(func(id types.MessageID, reason error) {
		if reason != nil {
			failed <- id
		}
	})

	// 目标不存在：消息排队，重试耗尽后触发失败回调
	ghost := types.NodeID{0xde, 0xad}
	id, err := a.Send(context.Background(), ghost, []byte("into the void"))
	if err != nil {
		t.Fatalf("发送: %v", err)
	}

	select {
	case got := <-failed:
		if got != id {
			t.Fatalf("失败回调 ID = %s, want %s", got.ShortString(), id.ShortString())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("等待失败回调超时")
	}
	if depth := a.Stats().OutboxDepth; depth != 0 {
		t.Fatalf("放弃后队列深度 = %d, want 0", depth)
	}
}

// ════════════════════════════════════════════════════════════════════════
// 自举与解析
// ════════════════════════════════════════════════════════════════════════

func TestEngineBootstrapResolve(t *testing.T) {
	hub := transport.NewNetwork()
	b := newTestEngine(t, hub, "seed")
	a := newTestEngine(t, hub, "joiner", WithBootstrap("mem://seed"))
	ctx := context.Background()

	// a 启动时已拨号 seed 并发布地址记录，seed 侧应能解析到 a
	waitFor(t, 5*time.Second, func() bool {
		eps, err := b.Resolve(ctx, a.ID())
		if err != nil {
			return false
		}
		for _, ep := range eps {
			if ep == "mem://joiner" {
				return true
			}
		}
		return false
	})

	st := a.Stats()
	if st.PeersConnected < 1 {
		t.Fatalf("PeersConnected = %d, want >= 1", st.PeersConnected)
	}
	if st.DHTKeys < 1 {
		t.Fatalf("DHTKeys = %d, want >= 1（至少有自身地址记录）", st.DHTKeys)
	}
	if st.Bandwidth.MsgsOut == 0 {
		t.Fatal("自举后出站消息计数不应为 0")
	}

	// 未知节点解析应报 ErrPeerNotFound
	if _, err := a.Resolve(ctx, types.NodeID{0xaa}); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("解析未知节点 = %v, want ErrPeerNotFound", err)
	}
}

func TestEngineConnectPeerByID(t *testing.T) {
	hub := transport.NewNetwork()
	b := newTestEngine(t, hub, "b")
	a := newTestEngine(t, hub, "a")
	ctx := context.Background()

	if err := a.ConnectPeer(ctx, b.ID(), "mem://b"); err != nil {
		t.Fatalf("按 ID 连接: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return a.Stats().PeersConnected == 1
	})

	// 已有连接时直接复用
	if err := a.ConnectPeer(ctx, b.ID()); err != nil {
		t.Fatalf("复用连接: %v", err)
	}
	if err := a.ConnectPeer(ctx, a.ID()); !errors.Is(err, ErrSelfAddressed) {
		t.Fatalf("连接自身 = %v, want ErrSelfAddressed", err)
	}
}

// ════════════════════════════════════════════════════════════════════════
// 拉黑与观测
// ════════════════════════════════════════════════════════════════════════

func TestEngineBlacklist(t *testing.T) {
	hub := transport.NewNetwork()
	a := newTestEngine(t, hub, "a")
	b := newTestEngine(t, hub, "b")
	ctx := context.Background()

	if err := a.Connect(ctx, "mem://b"); err != nil {
		t.Fatalf("连接: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return a.Stats().PeersConnected == 1
	})

	if err := a.Blacklist(b.ID()); err != nil {
		t.Fatalf("拉黑: %v", err)
	}
	p, err := a.Peer(b.ID())
	if err != nil {
		t.Fatalf("查档案: %v", err)
	}
	if p.State != types.PeerStateBlacklisted {
		t.Fatalf("状态 = %v, want blacklisted", p.State)
	}
	waitFor(t, 3*time.Second, func() bool {
		return a.Stats().PeersConnected == 0
	})

	if err := a.Blacklist(a.ID()); err == nil {
		t.Fatal("拉黑自身应报错")
	}
}

func TestEngineObservability(t *testing.T) {
	hub := transport.NewNetwork()
	a := newTestEngine(t, hub, "a")
	b := newTestEngine(t, hub, "b")
	gotB := collect(b)
	ctx := context.Background()

	if err := a.Connect(ctx, "mem://b"); err != nil {
		t.Fatalf("连接: %v", err)
	}
	if _, err := a.Send(ctx, b.ID(), []byte("observe me")); err != nil {
		t.Fatalf("发送: %v", err)
	}
	waitRecv(t, gotB, 5*time.Second)

	st := a.Stats()
	if st.ID != a.ID() {
		t.Fatalf("Stats.ID = %s", st.ID.ShortString())
	}
	if st.PeersKnown < 1 || st.PeersConnected != 1 {
		t.Fatalf("PeersKnown=%d PeersConnected=%d", st.PeersKnown, st.PeersConnected)
	}
	if st.Uptime <= 0 {
		t.Fatalf("Uptime = %v", st.Uptime)
	}
	if st.Bandwidth.MsgsOut == 0 || st.Bandwidth.TotalOut == 0 {
		t.Fatalf("带宽计数为零: %+v", st.Bandwidth)
	}
	if _, ok := a.PeerBandwidth(b.ID()); !ok {
		t.Fatal("应有对端带宽统计")
	}

	d := a.Diag()
	if d.State != "running" || d.Conns != 1 {
		t.Fatalf("诊断 = %+v", d)
	}
	if d.Processed == 0 {
		t.Fatal("中继处理计数不应为 0")
	}

	if q := a.ConnectionQuality(b.ID()); q < 0 || q > 100 {
		t.Fatalf("质量评分越界: %d", q)
	}
}

// ════════════════════════════════════════════════════════════════════════
// 事件总线
// ════════════════════════════════════════════════════════════════════════

func TestEngineEvents(t *testing.T) {
	hub := transport.NewNetwork()
	a := newTestEngine(t, hub, "a")
	b := newTestEngine(t, hub, "b")

	sub, err := a.Events().Subscribe(new(types.EvtPeerConnected))
	if err != nil {
		t.Fatalf("订阅: %v", err)
	}
	defer sub.Close()

	if err := a.Connect(context.Background(), "mem://b"); err != nil {
		t.Fatalf("连接: %v", err)
	}

	select {
	case ev := <-sub.Out():
		evt, ok := ev.(types.EvtPeerConnected)
		if !ok {
			t.Fatalf("事件类型 = %T", ev)
		}
		if evt.Peer != b.ID() {
			t.Fatalf("事件节点 = %s, want %s", evt.Peer.ShortString(), b.ID().ShortString())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("等待连接事件超时")
	}
}

// ════════════════════════════════════════════════════════════════════════
// 选项与预设
// ════════════════════════════════════════════════════════════════════════

func TestEngineOptions(t *testing.T) {
	ident, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("生成身份: %v", err)
	}
	hub := transport.NewNetwork()
	e, err := New(
		WithIdentity(ident),
		WithMemoryStorage(),
		WithListenAddrs("mem://fixed"),
		WithTransport(hub.Transport()),
	)
	if err != nil {
		t.Fatalf("创建引擎: %v", err)
	}
	defer e.Close()
	if e.ID() != ident.ID() {
		t.Fatalf("注入身份未生效: %s != %s", e.ID().ShortString(), ident.ID().ShortString())
	}

	if _, err := New(WithConfig(nil)); err == nil {
		t.Fatal("nil 配置应报错")
	}
	if _, err := New(WithPreset("no-such")); err == nil {
		t.Fatal("未知预设应报错")
	}
	if _, err := New(WithListenAddrs()); err == nil {
		t.Fatal("空监听列表应报错")
	}
}

func TestPresets(t *testing.T) {
	if !IsValidPreset(PresetNameMobile) || IsValidPreset("no-such") {
		t.Fatal("预设名称校验不符")
	}
	if got := len(AvailablePresets()); got != 4 {
		t.Fatalf("预设数量 = %d, want 4", got)
	}

	cfg, err := GetConfigByPreset(PresetNameServer)
	if err != nil {
		t.Fatalf("按名称取预设: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("服务器预设应通过校验: %v", err)
	}
	if _, err := GetConfigByPreset("bogus"); err == nil {
		t.Fatal("未知预设应报错")
	}

	for _, cfg := range []*config.Config{
		GetDefaultConfig(), GetMobileConfig(), GetServerConfig(), GetMinimalConfig(),
	} {
		if err := cfg.Validate(); err != nil {
			t.Fatalf("预设校验失败: %v", err)
		}
	}
}
