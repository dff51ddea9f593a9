package mesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/session"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════
// 发送
// ════════════════════════════════════════════════════════════════════════

// Send 向目标节点发送一条端到端加密消息。
//
// 非阻塞：密封签名后交给中继转发即返回，返回值是消息 ID。
// 与目标尚无会话时自动发起握手，消息明文暂存本地存储转发队列，
// 会话建立后密封重投；这种情况同样返回消息 ID，排队不是失败。
// 最终投出与否经 OnDeliveryFailed 与事件总线反馈。
func (e *Engine) Send(ctx context.Context, dest types.NodeID, payload []byte) (types.MessageID, error) {
	if err := e.ensureStarted(); err != nil {
		return types.MessageID{}, err
	}
	if dest.IsEmpty() {
		return types.MessageID{}, ErrInvalidDestination
	}
	if dest == e.ident.ID() {
		return types.MessageID{}, ErrSelfAddressed
	}

	body, compressed := envelope.MaybeCompress(payload, e.config.Envelope.CompressThreshold)
	if len(body)+session.Overhead > e.payloadLimit() {
		return types.MessageID{}, fmt.Errorf("%w: %d bytes after compression", ErrPayloadTooLarge, len(body))
	}

	env, err := envelope.New(envelope.Data, e.ident.ID(), dest, uint8(e.config.Envelope.DefaultHopLimit), nil)
	if err != nil {
		return types.MessageID{}, fmt.Errorf("build envelope: %w", err)
	}
	if compressed {
		env.Flags |= envelope.FlagCompressed
	}

	switch err := e.sessions.Seal(env, body); {
	case err == nil:
		envelope.Sign(env, e.ident.PrivateKey())
		id := envelope.ID(env)
		if err := e.rel.Originate(env); err != nil {
			return types.MessageID{}, fmt.Errorf("originate: %w", err)
		}
		return id, nil

	case errors.Is(err, session.ErrNoSession):
		// 无会话：Seal 已在后台发起握手。明文入存储转发队列，
		// 握手完成后由终结器密封重投。
		env.Payload = body
		envelope.Sign(env, e.ident.PrivateKey())
		id := envelope.ID(env)
		if err := e.box.Enqueue(dest, env); err != nil {
			return types.MessageID{}, fmt.Errorf("enqueue: %w", err)
		}
		logger.Debug("会话未就绪，消息入队等待握手",
			"dest", log.TruncateID(dest.String(), 8),
			"id", log.TruncateID(id.String(), 8))
		return id, nil

	default:
		return types.MessageID{}, fmt.Errorf("seal message: %w", err)
	}
}

// Broadcast 向整个网格洪泛一条明文广播。
//
// 广播不加密（没有统一的收方），靠签名保真：只有持有本节点公钥的
// 节点才会向应用投递。返回消息 ID。
func (e *Engine) Broadcast(ctx context.Context, payload []byte) (types.MessageID, error) {
	if err := e.ensureStarted(); err != nil {
		return types.MessageID{}, err
	}

	body, compressed := envelope.MaybeCompress(payload, e.config.Envelope.CompressThreshold)
	if len(body) > e.payloadLimit() {
		return types.MessageID{}, fmt.Errorf("%w: %d bytes after compression", ErrPayloadTooLarge, len(body))
	}

	env, err := envelope.New(envelope.Data, e.ident.ID(), types.EmptyNodeID, uint8(e.config.Envelope.DefaultHopLimit), body)
	if err != nil {
		return types.MessageID{}, fmt.Errorf("build envelope: %w", err)
	}
	if compressed {
		env.Flags |= envelope.FlagCompressed
	}
	envelope.Sign(env, e.ident.PrivateKey())

	id := envelope.ID(env)
	if err := e.rel.Originate(env); err != nil {
		return types.MessageID{}, fmt.Errorf("originate: %w", err)
	}
	return id, nil
}

// payloadLimit 返回单信封载荷上限：配置值与线格式硬上限取小
func (e *Engine) payloadLimit() int {
	limit := e.config.Envelope.MaxPayload
	if limit <= 0 || limit > envelope.MaxPayload {
		limit = envelope.MaxPayload
	}
	return limit
}

// ════════════════════════════════════════════════════════════════════════
// 回调
// ════════════════════════════════════════════════════════════════════════

// OnMessage 注册消息到达回调。
//
// 回调收到的是解密解压后的应用明文；sender 已通过签名验证。
// 回调在中继工作协程上执行，不应长时间阻塞。
// 重复调用会替换旧回调，传 nil 取消。
func (e *Engine) OnMessage(fn func(sender types.NodeID, payload []byte)) {
	e.cbMu.Lock()
	e.onMessage = fn
	e.cbMu.Unlock()
}

// OnDeliveryFailed 注册投递失败回调。
//
// 存储转发队列放弃一条消息（超时或重试耗尽）时触发，
// 参数是 Send 返回的消息 ID 与失败原因。
func (e *Engine) OnDeliveryFailed(fn func(id types.MessageID, reason error)) {
	e.cbMu.Lock()
	e.onFailed = fn
	e.cbMu.Unlock()
}

// dispatch 中继投递回调：把到站消息转交应用
func (e *Engine) dispatch(d relay.Delivery) {
	e.cbMu.RLock()
	fn := e.onMessage
	e.cbMu.RUnlock()

	if fn == nil {
		logger.Debug("消息到站但应用未注册回调",
			"sender", log.TruncateID(d.Sender.String(), 8))
		return
	}
	fn(d.Sender, d.Payload)
}

// finalizeQueued 存储转发重投前的终结器。
//
// 排队的点对点消息以明文形态入队，重投时在克隆件上补上
// 密封与签名；会话仍未建立则返回错误，由队列按退避继续等。
// 广播与已加密信封原样放行。
func (e *Engine) finalizeQueued(env *envelope.Envelope) (*envelope.Envelope, error) {
	if env.Type != envelope.Data || env.IsBroadcast() || env.Flags.Has(envelope.FlagEncrypted) {
		return env, nil
	}

	plain := env.Payload
	if err := e.sessions.Seal(env, plain); err != nil {
		return nil, err
	}
	envelope.Sign(env, e.ident.PrivateKey())
	return env, nil
}

// watchFailures 把投递失败事件桥接到应用回调
func (e *Engine) watchFailures(sub *eventbus.Subscription) {
	defer e.wg.Done()
	for ev := range sub.Out() {
		evt, ok := ev.(types.EvtDeliveryFailed)
		if !ok {
			continue
		}
		e.cbMu.RLock()
		fn := e.onFailed
		e.cbMu.RUnlock()
		if fn != nil {
			fn(evt.ID, evt.Reason)
		}
	}
}
