// Package eventbus 实现类型化事件总线
//
// 事件按 Go 类型路由：以事件类型的指针订阅，以值发射。
// 订阅通道有界，慢消费者的事件被丢弃并计数，发射方永不阻塞。
//
// # 使用示例
//
//	bus := eventbus.NewBus()
//
//	sub, _ := bus.Subscribe(new(types.EvtPeerConnected))
//	defer sub.Close()
//
//	em, _ := bus.Emitter(new(types.EvtPeerConnected))
//	defer em.Close()
//	em.Emit(types.EvtPeerConnected{Peer: id})
//
//	evt := (<-sub.Out()).(types.EvtPeerConnected)
//
// 事件类型定义在 pkg/types（EvtPeerConnected、EvtPeerReachable、
// EvtMessageDelivered、EvtDeliveryFailed 等）。
package eventbus
