package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("protocol/gossip")

// batchMargin 推送批次的压缩前预留余量
const batchMargin = 1024

// digestPayload GossipDigest 信封载荷。
// IDs 与 Bloom 二选一：窗口不超过列表阈值时发有序 ID 列表。
type digestPayload struct {
	Count int      `json:"count"`
	IDs   [][]byte `json:"ids,omitempty"`
	Bloom []byte   `json:"bloom,omitempty"`
	M     uint32   `json:"m,omitempty"`
}

// pullPayload GossipPull 信封载荷。
// IDs 点名拉取（对列表摘要）；Bloom 回送本端过滤器由对端取差集（对 Bloom 摘要）。
type pullPayload struct {
	IDs   [][]byte `json:"ids,omitempty"`
	Bloom []byte   `json:"bloom,omitempty"`
	M     uint32   `json:"m,omitempty"`
	Count int      `json:"count,omitempty"`
}

// Engine 反熵同步引擎
type Engine struct {
	cfg   config.GossipConfig
	self  types.NodeID
	ident *identity.Identity
	mgr   *transport.Manager
	rel   *relay.Relay
	store *recentStore
	cl    clock.Clock

	emitSync *eventbus.Emitter

	mu       sync.Mutex
	lastPull map[types.NodeID]time.Time
	closed   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New 创建反熵引擎并挂接中继：
// 注册三种流言信封的分发，把近期消息记录器喂入口接到中继上。
func New(cfg config.GossipConfig, ident *identity.Identity, mgr *transport.Manager, rel *relay.Relay, bus *eventbus.Bus, cl clock.Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cl == nil {
		cl = clock.New()
	}

	e := &Engine{
		cfg:      cfg,
		self:     ident.ID(),
		ident:    ident,
		mgr:      mgr,
		rel:      rel,
		store:    newRecentStore(cfg.RecentWindow),
		cl:       cl,
		lastPull: make(map[types.NodeID]time.Time),
		stopCh:   make(chan struct{}),
	}

	if bus != nil {
		em, err := bus.Emitter(new(types.EvtGossipSync))
		if err != nil {
			return nil, err
		}
		e.emitSync = em
	}

	if err := rel.Register(envelope.GossipDigest, e.handleDigest); err != nil {
		return nil, err
	}
	if err := rel.Register(envelope.GossipPull, e.handlePull); err != nil {
		return nil, err
	}
	if err := rel.Register(envelope.GossipPush, e.handlePush); err != nil {
		return nil, err
	}
	rel.SetRecorder(e.Record)

	return e, nil
}

// Record 记录一个已接受的 Data 信封（中继每次接受/发起时回调）
func (e *Engine) Record(env *envelope.Envelope) {
	e.store.add(env)
}

// WindowSize 返回近期窗口内的消息数
func (e *Engine) WindowSize() int {
	return e.store.size()
}

// Start 启动摘要推送循环
func (e *Engine) Start(ctx context.Context) error {
	e.wg.Add(1)
	go e.loop()

	logger.Info("反熵引擎已启动",
		"interval", e.cfg.Interval.String(),
		"fanout", e.cfg.Fanout,
		"window", e.cfg.RecentWindow)
	return nil
}

// Stop 停止推送循环
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	logger.Info("反熵引擎已停止")
	return nil
}

func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := e.cl.Ticker(e.cfg.Interval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.round()
		case <-e.stopCh:
			return
		}
	}
}

// round 向随机邻居推送一轮窗口摘要
func (e *Engine) round() {
	if e.store.size() == 0 {
		return
	}
	peers := e.mgr.ConnectedPeers()
	if len(peers) == 0 {
		return
	}

	rand.Shuffle(len(peers), func(i, j int) {
		peers[i], peers[j] = peers[j], peers[i]
	})
	if len(peers) > e.cfg.Fanout {
		peers = peers[:e.cfg.Fanout]
	}

	payload, err := e.digestPayload()
	if err != nil {
		logger.Warn("构造摘要失败", "err", err)
		return
	}

	for _, peer := range peers {
		if err := e.sendControl(envelope.GossipDigest, peer, payload); err != nil {
			logger.Debug("摘要推送失败",
				"peer", log.TruncateID(peer.String(), 8), "err", err)
		}
	}
}

// digestPayload 构造本端窗口的摘要载荷
func (e *Engine) digestPayload() ([]byte, error) {
	ids := e.store.ids()

	if len(ids) <= e.cfg.DigestListMax {
		slices.SortFunc(ids, func(a, b types.MessageID) int {
			return bytes.Compare(a[:], b[:])
		})
		list := make([][]byte, len(ids))
		for i, id := range ids {
			list[i] = append([]byte(nil), id[:]...)
		}
		return json.Marshal(digestPayload{Count: len(ids), IDs: list})
	}

	f := newBloom(len(ids))
	for _, id := range ids {
		f.add(id)
	}
	return json.Marshal(digestPayload{Count: len(ids), Bloom: f.bits, M: f.m})
}

// handleDigest 处理对端摘要：算出缺口并发起拉取
func (e *Engine) handleDigest(env *envelope.Envelope) error {
	var digest digestPayload
	if err := json.Unmarshal(env.Payload, &digest); err != nil {
		return fmt.Errorf("%w: %w", ErrBadDigest, err)
	}

	if !e.allowPull(env.Sender) {
		return nil
	}

	var pull pullPayload
	switch {
	case digest.IDs != nil:
		// 列表摘要：点名拉取本端缺失的 ID
		var missing [][]byte
		for _, raw := range digest.IDs {
			id, err := types.MessageIDFromBytes(raw)
			if err != nil {
				return ErrBadDigest
			}
			if !e.store.has(id) {
				missing = append(missing, raw)
				if len(missing) >= e.cfg.MaxPull {
					break
				}
			}
		}
		if len(missing) == 0 {
			return nil
		}
		pull = pullPayload{IDs: missing}

	case digest.Bloom != nil:
		// Bloom 摘要枚举不出对端集合，回送本端过滤器让对端取差集
		if _, err := bloomFromWire(digest.Bloom, digest.M); err != nil {
			return err
		}
		ids := e.store.ids()
		f := newBloom(len(ids))
		for _, id := range ids {
			f.add(id)
		}
		pull = pullPayload{Bloom: f.bits, M: f.m, Count: len(ids)}

	default:
		// 空窗口摘要，无事可做
		return nil
	}

	payload, err := json.Marshal(pull)
	if err != nil {
		return err
	}
	return e.sendControl(envelope.GossipPull, env.Sender, payload)
}

// handlePull 处理拉取请求：打包对端缺失的信封并推送
func (e *Engine) handlePull(env *envelope.Envelope) error {
	var pull pullPayload
	if err := json.Unmarshal(env.Payload, &pull); err != nil {
		return fmt.Errorf("%w: %w", ErrBadDigest, err)
	}

	var frames [][]byte
	switch {
	case pull.IDs != nil:
		for _, raw := range pull.IDs {
			id, err := types.MessageIDFromBytes(raw)
			if err != nil {
				return ErrBadDigest
			}
			if frame, ok := e.store.get(id); ok {
				frames = append(frames, frame)
			}
			if len(frames) >= e.cfg.MaxPull {
				break
			}
		}

	case pull.Bloom != nil:
		f, err := bloomFromWire(pull.Bloom, pull.M)
		if err != nil {
			return err
		}
		for _, id := range e.store.ids() {
			if f.has(id) {
				continue
			}
			if frame, ok := e.store.get(id); ok {
				frames = append(frames, frame)
			}
			if len(frames) >= e.cfg.MaxPull {
				break
			}
		}

	default:
		return ErrBadDigest
	}

	if len(frames) == 0 {
		return nil
	}

	for _, batch := range batchFrames(frames) {
		payload := envelope.Compress(batch)
		if len(payload) > envelope.MaxPayload {
			logger.Debug("推送批次压缩后仍超限，跳过", "size", len(payload))
			continue
		}
		if err := e.sendControl(envelope.GossipPush, env.Sender, payload); err != nil {
			return err
		}
	}
	return nil
}

// handlePush 处理推送批次：解包后经中继入站管线重新注入
func (e *Engine) handlePush(env *envelope.Envelope) error {
	raw, err := envelope.Decompress(env.Payload, envelope.MaxPayload+batchMargin)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadBatch, err)
	}

	conn, ok := e.mgr.ConnOf(env.Sender)
	if !ok {
		// 推送方已断开，批次作废
		return nil
	}

	pulled := 0
	for off := 0; off < len(raw); {
		size, n, err := varint.FromUvarint(raw[off:])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadBatch, err)
		}
		off += n
		if size > uint64(len(raw)-off) {
			return ErrBadBatch
		}
		frame := raw[off : off+int(size)]
		off += int(size)

		e.rel.HandleFrame(conn, frame)
		pulled++
	}

	if pulled > 0 {
		logger.Debug("反熵拉回信封",
			"peer", log.TruncateID(env.Sender.String(), 8), "count", pulled)
		if e.emitSync != nil {
			_ = e.emitSync.Emit(types.EvtGossipSync{
				BaseEvent: types.NewBaseEvent("gossip.sync"),
				Peer:      env.Sender,
				Pulled:    pulled,
			})
		}
	}
	return nil
}

// allowPull 判断是否允许向该节点再次发起拉取（按应答超时节流）
func (e *Engine) allowPull(peer types.NodeID) bool {
	now := e.cl.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastPull[peer]; ok && now.Sub(last) < e.cfg.PullTimeout.Duration() {
		return false
	}
	e.lastPull[peer] = now
	return true
}

// sendControl 签名并发出一个单跳流言信封
func (e *Engine) sendControl(typ envelope.Type, dest types.NodeID, payload []byte) error {
	env, err := envelope.New(typ, e.self, dest, 1, payload)
	if err != nil {
		return err
	}
	envelope.Sign(env, e.ident.PrivateKey())
	return e.rel.Originate(env)
}

// batchFrames 把信封按 uvarint 定界拼接，按载荷预算分片
func batchFrames(frames [][]byte) [][]byte {
	budget := envelope.MaxPayload - batchMargin

	var batches [][]byte
	var cur []byte
	for _, frame := range frames {
		framed := append(varint.ToUvarint(uint64(len(frame))), frame...)
		if len(framed) > budget {
			// 单个信封压不进一个批次，只能放弃
			logger.Debug("信封超出批次预算，跳过", "size", len(framed))
			continue
		}
		if len(cur) > 0 && len(cur)+len(framed) > budget {
			batches = append(batches, cur)
			cur = nil
		}
		cur = append(cur, framed...)
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
