package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/pkg/types"
)

var errSendFailed = errors.New("send failed")

// fakeSender 可编程的重投发送器
type fakeSender struct {
	mu   sync.Mutex
	sent []*envelope.Envelope
	err  error
}

func (f *fakeSender) Transmit(env *envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, env.Clone())
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) payloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, env := range f.sent {
		out[i] = string(env.Payload)
	}
	return out
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func testNodeID(b byte) types.NodeID {
	var id types.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

func testEnvelope(t *testing.T, dest types.NodeID, payload string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(envelope.Data, testNodeID(0xAA), dest, 8, []byte(payload))
	if err != nil {
		t.Fatalf("创建信封失败: %v", err)
	}
	env.Flags |= envelope.FlagEncrypted
	return env
}

func testConfig() config.OutboxConfig {
	cfg := config.DefaultOutboxConfig()
	cfg.BackoffBase = config.Duration(time.Second)
	cfg.BackoffMax = config.Duration(4 * time.Second)
	cfg.ScanInterval = config.Duration(time.Second)
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", msg)
}

// startOutbox 启动一个挂着 mock 时钟的队列，测试结束自动停止
func startOutbox(t *testing.T, cfg config.OutboxConfig, bus *eventbus.Bus, mock *clock.Mock, sender Sender) *Outbox {
	t.Helper()
	o, err := New(cfg, bus, mock)
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	o.BindSender(sender)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("启动队列失败: %v", err)
	}
	t.Cleanup(func() { _ = o.Stop(context.Background()) })
	// 等调度协程把 Ticker 挂到 mock 时钟上
	time.Sleep(20 * time.Millisecond)
	return o
}

func TestScanFlushesFIFO(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{}
	o := startOutbox(t, testConfig(), nil, mock, sender)

	dest := testNodeID(1)
	if err := o.Enqueue(dest, testEnvelope(t, dest, "first")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if err := o.Enqueue(dest, testEnvelope(t, dest, "second")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if o.Depth() != 2 {
		t.Fatalf("积压深度 = %d, 期望 2", o.Depth())
	}

	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return sender.count() == 2 }, "周期扫描冲刷积压")

	got := sender.payloads()
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("重投顺序 = %v, 期望 FIFO", got)
	}
	if o.Depth() != 0 {
		t.Fatalf("冲刷后积压深度 = %d, 期望 0", o.Depth())
	}
}

func TestSessionEstablishedWakesQueue(t *testing.T) {
	mock := clock.NewMock()
	bus := eventbus.NewBus()
	sender := &fakeSender{}
	o := startOutbox(t, testConfig(), bus, mock, sender)

	dest := testNodeID(2)
	if err := o.Enqueue(dest, testEnvelope(t, dest, "queued")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	em, err := bus.Emitter(new(types.EvtSessionEstablished))
	if err != nil {
		t.Fatalf("创建发射器失败: %v", err)
	}
	defer em.Close()
	if err := em.Emit(types.EvtSessionEstablished{
		BaseEvent: types.NewBaseEvent("session.established"),
		Peer:      dest,
		Initiator: true,
	}); err != nil {
		t.Fatalf("发布事件失败: %v", err)
	}

	// 不拨时钟，只靠事件唤醒
	waitFor(t, 2*time.Second, func() bool { return sender.count() == 1 }, "会话建立触发冲刷")
}

func TestPeerReachableWakesQueue(t *testing.T) {
	mock := clock.NewMock()
	bus := eventbus.NewBus()
	sender := &fakeSender{}
	o := startOutbox(t, testConfig(), bus, mock, sender)

	dest := testNodeID(3)
	if err := o.Enqueue(dest, testEnvelope(t, dest, "backlog")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	em, err := bus.Emitter(new(types.EvtPeerReachable))
	if err != nil {
		t.Fatalf("创建发射器失败: %v", err)
	}
	defer em.Close()
	if err := em.Emit(types.EvtPeerReachable{
		BaseEvent: types.NewBaseEvent("peer.reachable"),
		Peer:      dest,
	}); err != nil {
		t.Fatalf("发布事件失败: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return sender.count() == 1 }, "节点可达触发冲刷")
}

func TestBackoffDelaysRetry(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{err: errSendFailed}
	o := startOutbox(t, testConfig(), nil, mock, sender)

	dest := testNodeID(4)
	if err := o.Enqueue(dest, testEnvelope(t, dest, "stuck")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	// 第一次扫描：尝试一次失败，退避 1s
	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return o.attemptsFor(dest) == 1 }, "首次重投")

	// 第二次扫描：1s 退避已到期，再试一次，退避翻倍到 2s
	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return o.attemptsFor(dest) == 2 }, "二次重投")

	// 第三次扫描：还在 2s 退避中，不应尝试
	mock.Add(time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := o.attemptsFor(dest); got != 2 {
		t.Fatalf("退避期内重投次数 = %d, 期望 2", got)
	}

	// 再拨 1s 越过退避窗口
	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return o.attemptsFor(dest) == 3 }, "退避到期后重投")

	if o.Depth() != 1 {
		t.Fatalf("失败条目应保留在队列中, 深度 = %d", o.Depth())
	}

	// 发送恢复后冲刷成功（逐拍推进，mock 的 Ticker 通道只缓冲一拍）
	sender.setErr(nil)
	for i := 0; i < 4; i++ {
		mock.Add(time.Second)
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, 2*time.Second, func() bool { return o.Depth() == 0 }, "恢复后冲刷")
}

func TestMaxAttemptsEmitsDeliveryFailed(t *testing.T) {
	mock := clock.NewMock()
	bus := eventbus.NewBus()
	sender := &fakeSender{err: errSendFailed}

	cfg := testConfig()
	cfg.MaxAttempts = 2
	o := startOutbox(t, cfg, bus, mock, sender)

	sub, err := bus.Subscribe(new(types.EvtDeliveryFailed))
	if err != nil {
		t.Fatalf("订阅失败: %v", err)
	}
	defer sub.Close()

	dest := testNodeID(5)
	env := testEnvelope(t, dest, "doomed")
	wantID := envelope.ID(env)
	if err := o.Enqueue(dest, env); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return o.attemptsFor(dest) == 1 }, "首次重投")
	mock.Add(time.Second)

	select {
	case raw := <-sub.Out():
		evt, ok := raw.(types.EvtDeliveryFailed)
		if !ok {
			t.Fatalf("事件类型 = %T", raw)
		}
		if evt.ID != wantID {
			t.Fatalf("失败事件消息ID = %s, 期望 %s", evt.ID.ShortString(), wantID.ShortString())
		}
		if evt.Destination != dest {
			t.Fatal("失败事件目的地不匹配")
		}
		if evt.Attempts != 2 {
			t.Fatalf("失败事件重试次数 = %d, 期望 2", evt.Attempts)
		}
		if !errors.Is(evt.Reason, errSendFailed) {
			t.Fatalf("失败原因 = %v", evt.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("等待投递失败事件超时")
	}

	waitFor(t, 2*time.Second, func() bool { return o.Depth() == 0 }, "耗尽后移出队列")
}

func TestFailedHeadBlocksDestination(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{err: errSendFailed}
	o := startOutbox(t, testConfig(), nil, mock, sender)

	dest := testNodeID(6)
	_ = o.Enqueue(dest, testEnvelope(t, dest, "head"))
	_ = o.Enqueue(dest, testEnvelope(t, dest, "tail"))

	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return o.attemptsFor(dest) == 1 }, "队首重投")

	// 队首失败后本轮结束，队尾不应被越过尝试
	if sender.count() != 0 {
		t.Fatalf("发送成功数 = %d, 期望 0", sender.count())
	}
	if o.DepthFor(dest) != 2 {
		t.Fatalf("目的地积压 = %d, 期望 2", o.DepthFor(dest))
	}

	// 恢复后按原顺序送出
	sender.setErr(nil)
	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return sender.count() == 2 }, "恢复后全部送出")
	got := sender.payloads()
	if got[0] != "head" || got[1] != "tail" {
		t.Fatalf("送出顺序 = %v, 期望保持 FIFO", got)
	}
}

func TestPerDestCapDropsOldest(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{}

	cfg := testConfig()
	cfg.PerDestCap = 2
	o := startOutbox(t, cfg, nil, mock, sender)

	dest := testNodeID(7)
	_ = o.Enqueue(dest, testEnvelope(t, dest, "one"))
	_ = o.Enqueue(dest, testEnvelope(t, dest, "two"))
	_ = o.Enqueue(dest, testEnvelope(t, dest, "three"))

	if o.DepthFor(dest) != 2 {
		t.Fatalf("目的地积压 = %d, 期望 2", o.DepthFor(dest))
	}

	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return sender.count() == 2 }, "冲刷保留条目")
	got := sender.payloads()
	if got[0] != "two" || got[1] != "three" {
		t.Fatalf("保留条目 = %v, 期望丢最旧", got)
	}
}

func TestGlobalCapEvictsGlobalOldest(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{}

	cfg := testConfig()
	cfg.GlobalCap = 2
	cfg.PerDestCap = 2

	o, err := New(cfg, nil, mock)
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	o.BindSender(sender)

	destA := testNodeID(8)
	destB := testNodeID(9)

	_ = o.Enqueue(destA, testEnvelope(t, destA, "a-old"))
	mock.Add(time.Millisecond)
	_ = o.Enqueue(destB, testEnvelope(t, destB, "b-1"))
	mock.Add(time.Millisecond)
	_ = o.Enqueue(destB, testEnvelope(t, destB, "b-2"))

	if o.Depth() != 2 {
		t.Fatalf("全局积压 = %d, 期望 2", o.Depth())
	}
	if o.DepthFor(destA) != 0 {
		t.Fatalf("最旧条目所在目的地应被清空, 积压 = %d", o.DepthFor(destA))
	}
	if o.DepthFor(destB) != 2 {
		t.Fatalf("目的地B积压 = %d, 期望 2", o.DepthFor(destB))
	}
}

func TestFinalizerSealsBeforeTransmit(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{}
	o := startOutbox(t, testConfig(), nil, mock, sender)

	o.SetFinalizer(func(env *envelope.Envelope) (*envelope.Envelope, error) {
		env.Flags |= envelope.FlagEncrypted
		env.Payload = append(env.Payload, []byte("+sealed")...)
		return env, nil
	})

	dest := testNodeID(10)
	env, err := envelope.New(envelope.Data, testNodeID(0xAA), dest, 8, []byte("plain"))
	if err != nil {
		t.Fatalf("创建信封失败: %v", err)
	}
	if err := o.Enqueue(dest, env); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return sender.count() == 1 }, "终结后送出")

	sender.mu.Lock()
	sent := sender.sent[0]
	sender.mu.Unlock()
	if !sent.Flags.Has(envelope.FlagEncrypted) {
		t.Fatal("送出的信封缺少加密标志")
	}
	if string(sent.Payload) != "plain+sealed" {
		t.Fatalf("送出载荷 = %q", sent.Payload)
	}
}

func TestFinalizerErrorKeepsPlaintext(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{}
	o := startOutbox(t, testConfig(), nil, mock, sender)

	errNoSession := errors.New("no session yet")
	var calls int
	var mu sync.Mutex
	o.SetFinalizer(func(env *envelope.Envelope) (*envelope.Envelope, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			// 就地污染克隆件后报错，原条目必须不受影响
			env.Payload = []byte("tainted")
			return nil, errNoSession
		}
		env.Flags |= envelope.FlagEncrypted
		return env, nil
	})

	dest := testNodeID(11)
	env, err := envelope.New(envelope.Data, testNodeID(0xAA), dest, 8, []byte("pristine"))
	if err != nil {
		t.Fatalf("创建信封失败: %v", err)
	}
	_ = o.Enqueue(dest, env)

	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return o.attemptsFor(dest) == 1 }, "终结失败记为一次重投")
	if sender.count() != 0 {
		t.Fatal("终结失败时不应发送")
	}

	mock.Add(time.Second)
	waitFor(t, 2*time.Second, func() bool { return sender.count() == 1 }, "二次终结成功")
	if got := string(sender.payloads()[0]); got != "pristine" {
		t.Fatalf("重投载荷 = %q, 期望原始明文", got)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{}
	o, err := New(testConfig(), nil, mock)
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	o.BindSender(sender)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("停止失败: %v", err)
	}

	dest := testNodeID(12)
	if err := o.Enqueue(dest, testEnvelope(t, dest, "late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("停止后入队错误 = %v, 期望 ErrClosed", err)
	}
	// 幂等停止
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("重复停止错误 = %v", err)
	}
}

func TestStartWithoutSender(t *testing.T) {
	o, err := New(testConfig(), nil, clock.NewMock())
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	if err := o.Start(context.Background()); !errors.Is(err, ErrNoSender) {
		t.Fatalf("未绑定发送器启动错误 = %v, 期望 ErrNoSender", err)
	}
}
