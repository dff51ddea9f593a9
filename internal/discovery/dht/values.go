package dht

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

// Store 发布键值：本地先落一份（单节点也算成功），
// 再复制到距键哈希最近的至多 ReplicationFactor 个节点。
// 发布过的键记入自有集，由重发布循环维持常青。
func (d *DHT) Store(ctx context.Context, key string, value []byte) error {
	if len(value) > d.cfg.MaxValueSize {
		return ErrValueTooLarge
	}

	ttl := d.cfg.ValueTTL.Duration()
	if err := d.store.put(d.self, key, value, ttl, d.cl.Now()); err != nil {
		return err
	}
	d.mu.Lock()
	d.own[key] = value
	d.mu.Unlock()

	return d.replicate(ctx, key, value, ttl)
}

// FindValue 取键对应的值：本地命中直接返回，否则迭代查询。
// 取回的值不落本地存储——配额以发布方计账，代查缓存会污染账本。
func (d *DHT) FindValue(ctx context.Context, key string) ([]byte, error) {
	if rec, ok := d.store.get(key, d.cl.Now()); ok {
		return rec.Value, nil
	}

	_, value, err := d.lookup(ctx, hashKey(key), key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrNotFound
	}
	return value, nil
}

// FindNode 查找距 target 最近的节点，热结果走 ARC 缓存
func (d *DHT) FindNode(ctx context.Context, target types.NodeID) ([]Contact, error) {
	now := d.cl.Now()
	if cached, ok := d.cache.Get(target); ok && now.Sub(cached.at) < cacheTTL {
		return cached.contacts, nil
	}

	contacts, _, err := d.lookup(ctx, target, "")
	if err != nil {
		return nil, err
	}
	if len(contacts) > 0 {
		d.cache.Add(target, cachedLookup{contacts: contacts, at: d.cl.Now()})
	}
	return contacts, nil
}

// ResolvePeer 解析节点的签名地址记录，端点与公钥写入节点档案。
// 并发解析同一节点合并为一次查询。
func (d *DHT) ResolvePeer(ctx context.Context, id types.NodeID) (*AddressRecord, error) {
	if id.Equal(d.self) {
		return newAddressRecord(d.ident, d.mgr.ListenEndpoints(), d.cl.Now())
	}

	v, err, _ := d.sf.Do(id.String(), func() (interface{}, error) {
		raw, err := d.FindValue(ctx, recordKey(id))
		if err != nil {
			return nil, err
		}
		rec, err := decodeAddressRecord(raw)
		if err != nil {
			return nil, err
		}
		if !rec.ID.Equal(id) {
			return nil, fmt.Errorf("%w: 记录归属不符", ErrBadRecord)
		}

		if len(rec.Endpoints) > 0 {
			if err := d.peers.AddEndpoints(id, rec.Endpoints...); err != nil {
				logger.Debug("写入解析端点失败",
					"peer", log.TruncateID(id.String(), 8), "err", err)
			}
		}
		if err := d.peers.SetPublicKey(id, rec.PublicKey); err != nil {
			logger.Debug("写入解析公钥失败",
				"peer", log.TruncateID(id.String(), 8), "err", err)
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*AddressRecord), nil
}

// Announce 上线宣告：发布地址记录，并对自身 ID 做一次收敛查询热身路由表
func (d *DHT) Announce(ctx context.Context) error {
	if err := d.publishSelf(ctx); err != nil {
		return err
	}
	if _, _, err := d.lookup(ctx, d.self, ""); err != nil && !errors.Is(err, ErrNoContacts) {
		return err
	}
	return nil
}

// Leave 优雅离网：先把本地值记录（含代存的）按剩余 TTL 移交给
// 各键的最近节点，最后向最近邻居告别。告别放在移交之后——移交
// 报文会让对方重新收录本节点，反过来就白告别了。幂等，只第一次生效。
func (d *DHT) Leave(ctx context.Context) error {
	if !d.left.CompareAndSwap(false, true) {
		return nil
	}

	// 自己的地址记录不移交：离网后它只会误导拨号
	selfKey := recordKey(d.self)
	entries := d.store.entries(d.cl.Now())
	moved := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Alpha)
	for _, e := range entries {
		if e.key == selfKey {
			continue
		}
		moved++
		e := e
		g.Go(func() error {
			if err := d.replicate(gctx, e.key, e.value, e.ttl); err != nil {
				logger.Debug("值移交失败", "key", e.key, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	neighbors := d.table.Closest(d.self, d.cfg.BucketSize)
	for _, id := range neighbors {
		msg := &message{
			Type:      msgGoodbye,
			RequestID: uuid.NewString(),
			Sender:    d.self,
			Nodes:     d.closestContacts(id, d.cfg.BucketSize),
		}
		if err := d.send(envelope.DHTRequest, id, msg); err != nil {
			logger.Debug("告别发送失败",
				"peer", log.TruncateID(id.String(), 8), "err", err)
		}
	}

	logger.Info("DHT 已离网", "neighbors", len(neighbors), "handoff", moved)
	return nil
}

// publishSelf 以自身 ID 为键发布签名地址记录
func (d *DHT) publishSelf(ctx context.Context) error {
	endpoints := d.mgr.ListenEndpoints()
	rec, err := newAddressRecord(d.ident, endpoints, d.cl.Now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := recordKey(d.self)
	if err := d.store.put(d.self, key, raw, d.cfg.ValueTTL.Duration(), d.cl.Now()); err != nil {
		return err
	}
	d.setEndpoints(strings.Join(endpoints, ","))
	return d.replicate(ctx, key, raw, d.cfg.ValueTTL.Duration())
}

// replicate 把键值推送到距键哈希最近的节点，失败的副本只记日志。
// 路由表为空视作单节点网络，不算错误。
func (d *DHT) replicate(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	targets, _, err := d.lookup(ctx, hashKey(key), "")
	if errors.Is(err, ErrNoContacts) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(targets) > d.cfg.ReplicationFactor {
		targets = targets[:d.cfg.ReplicationFactor]
	}

	ttlSecs := uint32(ttl / time.Second)
	var stored atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Alpha)
	for _, c := range targets {
		c := c
		g.Go(func() error {
			msg := &message{Type: msgStore, Key: key, Value: value, TTL: ttlSecs}
			if _, err := d.call(gctx, c.ID, msg, d.cfg.RequestTimeout.Duration()); err != nil {
				logger.Debug("值复制被拒",
					"peer", log.TruncateID(c.ID.String(), 8),
					"key", key, "err", err)
				return nil
			}
			stored.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	logger.Debug("值复制完成",
		"key", key, "stored", stored.Load(), "targets", len(targets))
	return nil
}
