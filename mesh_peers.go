package mesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-mesh/internal/discovery/dht"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════
// 连接管理
// ════════════════════════════════════════════════════════════════════════

// Connect 拨号指定端点并加入其所在网格。
//
// 端点格式 "<scheme>://<host:port>"，如 "tcp://1.2.3.4:9430"。
// 成功后会向新邻域洪泛自通告，对端身份在首个验签信封后绑定。
func (e *Engine) Connect(ctx context.Context, endpoint string) error {
	if err := e.ensureStarted(); err != nil {
		return err
	}

	if _, err := e.mgr.Dial(ctx, endpoint); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, endpoint, err)
	}
	logger.Debug("已连接端点", "endpoint", endpoint)

	e.announce(ctx)
	return nil
}

// ConnectPeer 按节点 ID 建立连接。
//
// 端点来源依次为：调用方提供的 endpoints、节点档案中记录的端点、
// DHT 地址记录。已有连接时直接复用。
func (e *Engine) ConnectPeer(ctx context.Context, id types.NodeID, endpoints ...string) error {
	if err := e.ensureStarted(); err != nil {
		return err
	}
	if id.IsEmpty() {
		return ErrInvalidDestination
	}
	if id == e.ident.ID() {
		return ErrSelfAddressed
	}
	if _, ok := e.mgr.ConnOf(id); ok {
		return nil
	}

	candidates := append([]string(nil), endpoints...)
	if p, err := e.peers.Get(id); err == nil {
		candidates = append(candidates, p.Endpoints...)
	}
	if len(candidates) == 0 {
		eps, err := e.Resolve(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: no known endpoints for %s", ErrPeerNotFound, log.TruncateID(id.String(), 8))
		}
		candidates = eps
	}

	if _, err := e.mgr.DialPeer(ctx, id, candidates); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	e.announce(ctx)
	return nil
}

// Resolve 经 DHT 查询节点的已公告端点列表
func (e *Engine) Resolve(ctx context.Context, id types.NodeID) ([]string, error) {
	if err := e.ensureStarted(); err != nil {
		return nil, err
	}

	rec, err := e.lookup.ResolvePeer(ctx, id)
	if err != nil {
		if errors.Is(err, dht.ErrNotFound) || errors.Is(err, dht.ErrNoContacts) {
			return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, log.TruncateID(id.String(), 8))
		}
		return nil, fmt.Errorf("resolve peer: %w", err)
	}
	return rec.Endpoints, nil
}

// ════════════════════════════════════════════════════════════════════════
// 节点档案
// ════════════════════════════════════════════════════════════════════════

// Peers 返回所有已知节点的档案快照
func (e *Engine) Peers() []types.Peer {
	if e.peers == nil {
		return nil
	}
	list := e.peers.List()
	out := make([]types.Peer, 0, len(list))
	for _, p := range list {
		out = append(out, *p)
	}
	return out
}

// Peer 返回指定节点的档案快照
func (e *Engine) Peer(id types.NodeID) (types.Peer, error) {
	if e.peers == nil {
		return types.Peer{}, ErrNotStarted
	}
	p, err := e.peers.Get(id)
	if err != nil {
		return types.Peer{}, fmt.Errorf("%w: %s", ErrPeerNotFound, log.TruncateID(id.String(), 8))
	}
	return *p, nil
}

// ConnectionQuality 返回到指定节点的链路质量评分（0-100）。
// 评分由心跳往返与丢失率驱动，未知节点返回 0。
func (e *Engine) ConnectionQuality(id types.NodeID) int {
	if e.peers == nil {
		return 0
	}
	p, err := e.peers.Get(id)
	if err != nil {
		return 0
	}
	return p.Quality
}

// Blacklist 拉黑节点：断开现有连接、销毁会话、拒绝后续信封。
// 拉黑是终态，只能通过重建引擎解除。
func (e *Engine) Blacklist(id types.NodeID) error {
	if e.peers == nil {
		return ErrNotStarted
	}
	if id == e.ident.ID() {
		return fmt.Errorf("cannot blacklist self")
	}

	if err := e.peers.Blacklist(id); err != nil {
		return fmt.Errorf("blacklist peer: %w", err)
	}
	if e.mgr != nil {
		e.mgr.DisconnectPeer(id)
	}
	if e.sessions != nil {
		e.sessions.Remove(id)
	}
	if e.routes != nil {
		e.routes.RemoveNeighbor(id)
	}
	logger.Info("已拉黑节点", "id", log.TruncateID(id.String(), 8))
	return nil
}
