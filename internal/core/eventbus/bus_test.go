package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/dep2p/go-mesh/pkg/types"
)

// ============================================================================
// 基础功能测试
// ============================================================================

// TestBus_NewBus 测试创建事件总线
func TestBus_NewBus(t *testing.T) {
	bus := NewBus()

	if bus == nil {
		t.Fatal("NewBus() returned nil")
	}
	if bus.nodes == nil {
		t.Error("NewBus() nodes map is nil")
	}
}

// TestBus_Subscribe 测试订阅事件
func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.EvtPeerConnected))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	if sub.Out() == nil {
		t.Error("Subscribe() subscription has nil output channel")
	}
}

// TestBus_SubscribeNonPointer 测试非指针订阅被拒绝
func TestBus_SubscribeNonPointer(t *testing.T) {
	bus := NewBus()

	_, err := bus.Subscribe(types.EvtPeerConnected{})
	if err != ErrNonPointerType {
		t.Errorf("Subscribe(non-pointer) = %v, want ErrNonPointerType", err)
	}

	_, err = bus.Subscribe(nil)
	if err != ErrInvalidEventType {
		t.Errorf("Subscribe(nil) = %v, want ErrInvalidEventType", err)
	}
}

// TestBus_EmitAndReceive 测试事件发射和接收
func TestBus_EmitAndReceive(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.EvtMessageDelivered))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	em, err := bus.Emitter(new(types.EvtMessageDelivered))
	if err != nil {
		t.Fatalf("Emitter() failed: %v", err)
	}
	defer em.Close()

	var id types.MessageID
	id[0] = 0x7E
	if err := em.Emit(types.EvtMessageDelivered{ID: id}); err != nil {
		t.Errorf("Emit() failed: %v", err)
	}

	evt := <-sub.Out()
	received, ok := evt.(types.EvtMessageDelivered)
	if !ok {
		t.Fatalf("received wrong event type: %T", evt)
	}
	if received.ID != id {
		t.Errorf("received event id = %s, want %s", received.ID, id)
	}
}

// TestBus_MultipleSubscribers 测试多个订阅者都收到事件
func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()

	var subs []*Subscription
	for i := 0; i < 3; i++ {
		sub, err := bus.Subscribe(new(types.EvtPeerReachable))
		if err != nil {
			t.Fatalf("Subscribe() failed: %v", err)
		}
		defer sub.Close()
		subs = append(subs, sub)
	}

	em, err := bus.Emitter(new(types.EvtPeerReachable))
	if err != nil {
		t.Fatalf("Emitter() failed: %v", err)
	}
	defer em.Close()

	if err := em.Emit(types.EvtPeerReachable{}); err != nil {
		t.Fatalf("Emit() failed: %v", err)
	}

	for i, sub := range subs {
		select {
		case <-sub.Out():
		case <-time.After(time.Second):
			t.Errorf("subscriber %d did not receive the event", i)
		}
	}
}

// TestBus_TypeIsolation 测试不同事件类型互不串扰
func TestBus_TypeIsolation(t *testing.T) {
	bus := NewBus()

	subConn, _ := bus.Subscribe(new(types.EvtPeerConnected))
	defer subConn.Close()
	subDisc, _ := bus.Subscribe(new(types.EvtPeerDisconnected))
	defer subDisc.Close()

	em, _ := bus.Emitter(new(types.EvtPeerConnected))
	defer em.Close()
	_ = em.Emit(types.EvtPeerConnected{})

	select {
	case <-subConn.Out():
	case <-time.After(time.Second):
		t.Error("EvtPeerConnected subscriber did not receive the event")
	}

	select {
	case evt := <-subDisc.Out():
		t.Errorf("EvtPeerDisconnected subscriber received foreign event %T", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestBus_Stateful 测试有状态发射器补发最后事件
func TestBus_Stateful(t *testing.T) {
	bus := NewBus()

	em, err := bus.Emitter(new(types.EvtPeerDegraded), Stateful())
	if err != nil {
		t.Fatalf("Emitter() failed: %v", err)
	}
	defer em.Close()

	if err := em.Emit(types.EvtPeerDegraded{MissStreak: 3}); err != nil {
		t.Fatalf("Emit() failed: %v", err)
	}

	// 事件发射之后才订阅
	sub, err := bus.Subscribe(new(types.EvtPeerDegraded))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	select {
	case evt := <-sub.Out():
		if evt.(types.EvtPeerDegraded).MissStreak != 3 {
			t.Error("stateful replay delivered wrong event")
		}
	case <-time.After(time.Second):
		t.Error("late subscriber did not receive the stateful event")
	}
}

// TestBus_SlowConsumerDrops 测试慢消费者丢弃而非阻塞
func TestBus_SlowConsumerDrops(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.EvtGossipSync), BufSize(2))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	em, err := bus.Emitter(new(types.EvtGossipSync))
	if err != nil {
		t.Fatalf("Emitter() failed: %v", err)
	}
	defer em.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// 无人消费，发射不能阻塞
		for i := 0; i < 10; i++ {
			_ = em.Emit(types.EvtGossipSync{Pulled: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full subscriber buffer")
	}

	// 缓冲区里恰好是最早的两个事件
	first := (<-sub.Out()).(types.EvtGossipSync)
	if first.Pulled != 0 {
		t.Errorf("first buffered event Pulled = %d, want 0", first.Pulled)
	}
}

// TestEmitter_Closed 测试关闭后的发射器报错
func TestEmitter_Closed(t *testing.T) {
	bus := NewBus()

	em, err := bus.Emitter(new(types.EvtPeerConnected))
	if err != nil {
		t.Fatalf("Emitter() failed: %v", err)
	}
	if err := em.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := em.Emit(types.EvtPeerConnected{}); err != ErrEmitterClosed {
		t.Errorf("Emit after Close = %v, want ErrEmitterClosed", err)
	}
}

// TestSubscription_CloseIdempotent 测试订阅重复关闭安全
func TestSubscription_CloseIdempotent(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.EvtPeerConnected))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Errorf("first Close() = %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

// TestBus_NodeCleanup 测试节点在无订阅者和发射器时被清理
func TestBus_NodeCleanup(t *testing.T) {
	bus := NewBus()

	sub, _ := bus.Subscribe(new(types.EvtPeerConnected))
	em, _ := bus.Emitter(new(types.EvtPeerConnected))

	bus.mu.RLock()
	n := len(bus.nodes)
	bus.mu.RUnlock()
	if n != 1 {
		t.Fatalf("nodes = %d, want 1", n)
	}

	sub.Close()
	em.Close()

	bus.mu.RLock()
	n = len(bus.nodes)
	bus.mu.RUnlock()
	if n != 0 {
		t.Errorf("nodes after cleanup = %d, want 0", n)
	}
}

// TestBus_Concurrent 测试并发订阅与发射
func TestBus_Concurrent(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := bus.Subscribe(new(types.EvtPeerConnected), BufSize(64))
			if err != nil {
				t.Errorf("Subscribe() failed: %v", err)
				return
			}
			defer sub.Close()
			<-sub.Out()
		}()
	}

	// 留出订阅建立时间
	time.Sleep(20 * time.Millisecond)

	em, err := bus.Emitter(new(types.EvtPeerConnected))
	if err != nil {
		t.Fatalf("Emitter() failed: %v", err)
	}
	defer em.Close()

	for i := 0; i < 5; i++ {
		_ = em.Emit(types.EvtPeerConnected{})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent subscribers did not all receive events")
	}
}
