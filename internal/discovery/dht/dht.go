package dht

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	arc "github.com/hashicorp/golang-lru/arc/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("discovery/dht")

const (
	// maintenanceInterval 维护循环扫描粒度：过期回收、限速器清理、桶刷新
	maintenanceInterval = time.Minute

	// bucketRefreshAfter 非空桶多久未被查询命中后做一次随机 ID 刷新
	bucketRefreshAfter = time.Hour

	// cacheTTL 查询结果缓存的新鲜窗口
	cacheTTL = 30 * time.Second
)

// cachedLookup 一次迭代查询的缓存结果
type cachedLookup struct {
	contacts []Contact
	at       time.Time
}

// pendingCall 在途 RPC：响应按 request_id 配对并核验来源
type pendingCall struct {
	peer types.NodeID
	ch   chan *message
}

// DHT Kademlia 发现与值存储
type DHT struct {
	cfg   config.DHTConfig
	hop   uint8
	self  types.NodeID
	ident *identity.Identity
	rel   *relay.Relay
	mgr   *transport.Manager
	peers *peerstore.Peerstore
	cl    clock.Clock

	table   *Table
	store   *valueStore
	limiter *storeLimiter
	cache   *arc.ARCCache[types.NodeID, cachedLookup]
	sf      singleflight.Group

	subConn *eventbus.Subscription

	mu        sync.Mutex
	pending   map[string]*pendingCall
	own       map[string][]byte // 自有值：原始键 → 值，周期性重发布
	endpoints string            // 上次发布的端点签名，变更即重发
	closed    bool

	left   atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New 创建 DHT 并挂接中继的请求/响应信封分发
func New(cfg config.DHTConfig, hop uint8, ident *identity.Identity, rel *relay.Relay, mgr *transport.Manager, peers *peerstore.Peerstore, values, usage *kv.Store, bus *eventbus.Bus, cl clock.Clock) (*DHT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cl == nil {
		cl = clock.New()
	}

	store, err := newValueStore(values, usage, cfg.MaxValueSize, cfg.PerPeerQuota, cl.Now())
	if err != nil {
		return nil, err
	}
	cache, err := arc.NewARC[types.NodeID, cachedLookup](cfg.LookupCacheSize)
	if err != nil {
		return nil, err
	}

	d := &DHT{
		cfg:     cfg,
		hop:     hop,
		self:    ident.ID(),
		ident:   ident,
		rel:     rel,
		mgr:     mgr,
		peers:   peers,
		cl:      cl,
		table:   NewTable(ident.ID(), cfg.BucketSize),
		store:   store,
		limiter: newStoreLimiter(cfg.StoreRatePerMin, cfg.StoreBurst),
		cache:   cache,
		pending: make(map[string]*pendingCall),
		own:     make(map[string][]byte),
		stopCh:  make(chan struct{}),
	}

	if bus != nil {
		if d.subConn, err = bus.Subscribe(new(types.EvtPeerConnected)); err != nil {
			return nil, err
		}
	}

	if err := rel.Register(envelope.DHTRequest, d.handleRequest); err != nil {
		return nil, err
	}
	if err := rel.Register(envelope.DHTResponse, d.handleResponse); err != nil {
		return nil, err
	}

	return d, nil
}

// Start 启动维护与重发布循环，已连接的邻居先入桶
func (d *DHT) Start(ctx context.Context) error {
	for _, peer := range d.mgr.ConnectedPeers() {
		d.noteContact(peer)
	}

	d.wg.Add(2)
	go d.maintenanceLoop()
	go d.republishLoop()

	if d.subConn != nil {
		d.wg.Add(1)
		go d.watchEvents()
	}

	logger.Info("DHT 已启动",
		"k", d.cfg.BucketSize,
		"alpha", d.cfg.Alpha,
		"quota", d.cfg.PerPeerQuota)
	return nil
}

// Stop 停止循环并丢弃在途 RPC。优雅退出先走 Leave。
func (d *DHT) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stopCh)
	if d.subConn != nil {
		d.subConn.Close()
	}
	d.wg.Wait()

	logger.Info("DHT 已停止", "contacts", d.table.Size(), "keys", d.store.size())
	return nil
}

// Stats DHT 运行时快照
type Stats struct {
	// Contacts 路由表联系人总数
	Contacts int
	// Keys 本地存储的值记录条数
	Keys int
	// StoredBytes 本地值记录字节和
	StoredBytes int64
	// OwnKeys 本节点发布并负责重发布的键数
	OwnKeys int
}

// GetStats 返回运行时快照
func (d *DHT) GetStats() Stats {
	d.mu.Lock()
	own := len(d.own)
	d.mu.Unlock()
	return Stats{
		Contacts:    d.table.Size(),
		Keys:        d.store.size(),
		StoredBytes: d.store.totalBytes(),
		OwnKeys:     own,
	}
}

// Routing 返回路由表（供引导与诊断读取）
func (d *DHT) Routing() *Table {
	return d.table
}

// ════════════════════════════════════════════════════════════════════════
// 联系人维护
// ════════════════════════════════════════════════════════════════════════

// noteContact 收录一个经信封验签的联系人，满桶时发起存活竞争
func (d *DHT) noteContact(peer types.NodeID) {
	challenge, contest := d.table.Upsert(peer, d.cl.Now())
	if !contest {
		return
	}

	// 关停路上不再开战，避免在 wg.Wait 之后追加计数
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go d.runContest(challenge)
}

// runContest 对被挑战者做一次 PING 存活探测并回报裁决
func (d *DHT) runContest(challenged types.NodeID) {
	defer d.wg.Done()

	_, err := d.call(context.Background(), challenged, &message{Type: msgPing}, d.cfg.PingTimeout.Duration())
	switch {
	case err == nil:
		d.table.Survived(challenged, d.cl.Now())
	case errors.Is(err, ErrClosed):
		// 关停途中不下裁决
	default:
		logger.Debug("存活竞争淘汰",
			"peer", log.TruncateID(challenged.String(), 8), "err", err)
		d.table.Failed(challenged, d.cl.Now())
	}
}

func (d *DHT) watchEvents() {
	defer d.wg.Done()
	for {
		select {
		case evt, ok := <-d.subConn.Out():
			if !ok {
				return
			}
			if e, ok := evt.(types.EvtPeerConnected); ok {
				d.noteContact(e.Peer)
			}
		case <-d.stopCh:
			return
		}
	}
}

// closestContacts 取距 target 最近的联系人并补上节点档案里的端点线索
func (d *DHT) closestContacts(target types.NodeID, n int) []Contact {
	ids := d.table.Closest(target, n)
	out := make([]Contact, 0, len(ids))
	for _, id := range ids {
		c := Contact{ID: id}
		if p, err := d.peers.Get(id); err == nil {
			c.Endpoints = p.Endpoints
		}
		out = append(out, c)
	}
	return out
}

// ════════════════════════════════════════════════════════════════════════
// RPC 收发
// ════════════════════════════════════════════════════════════════════════

// send 编码报文并装入指定类型的信封发出，借中继定向路径多跳送达
func (d *DHT) send(typ envelope.Type, to types.NodeID, msg *message) error {
	payload, err := msg.encode()
	if err != nil {
		return err
	}
	env, err := envelope.New(typ, d.self, to, d.hop, payload)
	if err != nil {
		return err
	}
	envelope.Sign(env, d.ident.PrivateKey())
	return d.rel.Originate(env)
}

// call 发出请求并等待配对响应。
// 超时走注入时钟；远端的显式错误还原成本地哨兵错误返回。
func (d *DHT) call(ctx context.Context, peer types.NodeID, msg *message, timeout time.Duration) (*message, error) {
	msg.RequestID = uuid.NewString()
	msg.Sender = d.self

	ch := make(chan *message, 1)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.pending[msg.RequestID] = &pendingCall{peer: peer, ch: ch}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, msg.RequestID)
		d.mu.Unlock()
	}()

	if err := d.send(envelope.DHTRequest, peer, msg); err != nil {
		return nil, err
	}

	timer := d.cl.Timer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, rpcError(resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.stopCh:
		return nil, ErrClosed
	}
}

// handleResponse 响应按 request_id 配对，来源与当初的收件方不符则丢弃
func (d *DHT) handleResponse(env *envelope.Envelope) error {
	msg, err := decodeMessage(env.Payload)
	if err != nil {
		return err
	}
	msg.Sender = env.Sender
	d.noteContact(env.Sender)

	d.mu.Lock()
	pc, ok := d.pending[msg.RequestID]
	d.mu.Unlock()
	if !ok || !pc.peer.Equal(env.Sender) {
		return nil
	}
	select {
	case pc.ch <- msg:
	default:
	}
	return nil
}

// handleRequest 服务端分发。Sender 一律以信封验签结果为准。
func (d *DHT) handleRequest(env *envelope.Envelope) error {
	msg, err := decodeMessage(env.Payload)
	if err != nil {
		return err
	}
	msg.Sender = env.Sender
	d.noteContact(env.Sender)
	now := d.cl.Now()

	var resp *message
	switch msg.Type {
	case msgPing:
		resp = msg.reply(d.self)
	case msgFindNode:
		resp = msg.reply(d.self)
		resp.Nodes = d.closestContacts(msg.Target, d.cfg.BucketSize)
	case msgFindValue:
		resp = d.handleFindValue(msg, now)
	case msgStore:
		resp = d.handleStore(msg, env.Sender, now)
	case msgGoodbye:
		d.handleGoodbye(msg, env.Sender)
		return nil
	default:
		// 响应类型误入请求信封
		return nil
	}
	return d.send(envelope.DHTResponse, env.Sender, resp)
}

func (d *DHT) handleFindValue(msg *message, now time.Time) *message {
	resp := msg.reply(d.self)
	if rec, ok := d.store.get(msg.Key, now); ok {
		resp.Value = rec.Value
		return resp
	}
	resp.Nodes = d.closestContacts(hashKey(msg.Key), d.cfg.BucketSize)
	return resp
}

// handleStore 三道闸依次放行：令牌桶限速、单值上限、发布方配额。
// 拒绝一律回显式错误响应，绝不静默丢弃。
func (d *DHT) handleStore(msg *message, sender types.NodeID, now time.Time) *message {
	if !d.limiter.allow(sender, now) {
		logger.Debug("STORE 触发限速", "peer", log.TruncateID(sender.String(), 8))
		return msg.errorReply(d.self, ErrStoreRateLimited)
	}

	ttl := d.cfg.ValueTTL.Duration()
	if msg.TTL > 0 {
		if requested := time.Duration(msg.TTL) * time.Second; requested < ttl {
			ttl = requested
		}
	}

	if err := d.store.put(sender, msg.Key, msg.Value, ttl, now); err != nil {
		logger.Debug("STORE 被拒",
			"peer", log.TruncateID(sender.String(), 8),
			"key", msg.Key, "err", err)
		return msg.errorReply(d.self, err)
	}
	return msg.reply(d.self)
}

// handleGoodbye 对方离网：移出路由表，随带的联系人仅作地址线索
func (d *DHT) handleGoodbye(msg *message, sender types.NodeID) {
	logger.Info("收到 DHT 告别",
		"peer", log.TruncateID(sender.String(), 8), "contacts", len(msg.Nodes))
	d.table.Remove(sender)
	for _, c := range msg.Nodes {
		if c.ID.IsEmpty() || c.ID.Equal(d.self) || len(c.Endpoints) == 0 {
			continue
		}
		if err := d.peers.AddEndpoints(c.ID, c.Endpoints...); err != nil {
			logger.Debug("记录告别线索失败",
				"peer", log.TruncateID(c.ID.String(), 8), "err", err)
		}
	}
}

// ════════════════════════════════════════════════════════════════════════
// 后台循环
// ════════════════════════════════════════════════════════════════════════

func (d *DHT) maintenanceLoop() {
	defer d.wg.Done()

	ticker := d.cl.Ticker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.maintain()
		case <-d.stopCh:
			return
		}
	}
}

func (d *DHT) maintain() {
	now := d.cl.Now()

	if n := d.store.gc(now); n > 0 {
		logger.Debug("回收过期值记录", "count", n)
	}
	d.limiter.gc(now)

	// 端点变更立刻重发地址记录，不等重发布周期
	if sig := strings.Join(d.mgr.ListenEndpoints(), ","); sig != d.lastEndpoints() {
		d.setEndpoints(sig)
		if err := d.publishSelf(context.Background()); err != nil {
			logger.Debug("地址记录重发失败", "err", err)
		}
	}

	// 每拍至多刷新一个陈旧桶，随机 ID 查询顺带补充联系人
	if idxs := d.table.staleBuckets(now, bucketRefreshAfter); len(idxs) > 0 {
		idx := idxs[0]
		d.table.markLookup(idx, now)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			target := randomIDInBucket(d.self, idx)
			if _, _, err := d.lookup(context.Background(), target, ""); err != nil {
				logger.Debug("桶刷新查询失败", "bucket", idx, "err", err)
			}
		}()
	}
}

func (d *DHT) republishLoop() {
	defer d.wg.Done()

	ticker := d.cl.Ticker(d.cfg.RepublishInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.republish()
		case <-d.stopCh:
			return
		}
	}
}

// republish 重发地址记录与全部自有值，维持它们在网内常青
func (d *DHT) republish() {
	ctx := context.Background()
	if err := d.publishSelf(ctx); err != nil {
		logger.Debug("地址记录重发失败", "err", err)
	}

	d.mu.Lock()
	own := make(map[string][]byte, len(d.own))
	for k, v := range d.own {
		own[k] = v
	}
	d.mu.Unlock()

	for key, value := range own {
		if err := d.replicate(ctx, key, value, d.cfg.ValueTTL.Duration()); err != nil {
			logger.Debug("自有值重发布失败", "key", key, "err", err)
		}
	}
	if len(own) > 0 {
		logger.Debug("自有值重发布完成", "keys", len(own))
	}
}

func (d *DHT) lastEndpoints() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoints
}

func (d *DHT) setEndpoints(sig string) {
	d.mu.Lock()
	d.endpoints = sig
	d.mu.Unlock()
}
