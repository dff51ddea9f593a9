package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dep2p/go-mesh/pkg/types"
)

// sessionState 会话链快照
//
// 跳过键窗口不持久化：重启前乱序未达的消息将按重放拒绝。
type sessionState struct {
	Peer          string    `json:"peer"`
	Initiator     bool      `json:"initiator"`
	SendChain     []byte    `json:"send_chain"`
	SendSeq       uint64    `json:"send_seq"`
	RecvChain     []byte    `json:"recv_chain"`
	RecvSeq       uint64    `json:"recv_seq"`
	EstablishedAt time.Time `json:"established_at"`
}

// snapshot 导出链状态
func (s *Session) snapshot() *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &sessionState{
		Peer:          s.peer.String(),
		Initiator:     s.initiator,
		SendChain:     append([]byte(nil), s.sendChain...),
		SendSeq:       s.sendSeq,
		RecvChain:     append([]byte(nil), s.recvChain...),
		RecvSeq:       s.recvSeq,
		EstablishedAt: s.establishedAt,
	}
}

// restoreSession 从快照重建会话
func restoreSession(st *sessionState, maxSkip int) (*Session, error) {
	peer, err := types.ParseNodeID(st.Peer)
	if err != nil {
		return nil, fmt.Errorf("解析快照节点ID失败: %w", err)
	}
	if len(st.SendChain) != chainKeySize || len(st.RecvChain) != chainKeySize {
		return nil, fmt.Errorf("会话快照链密钥长度无效")
	}
	return &Session{
		peer:          peer,
		initiator:     st.Initiator,
		sendChain:     append([]byte(nil), st.SendChain...),
		sendSeq:       st.SendSeq,
		recvChain:     append([]byte(nil), st.RecvChain...),
		recvSeq:       st.RecvSeq,
		skipped:       newSkippedKeys(maxSkip),
		maxSkip:       maxSkip,
		establishedAt: st.EstablishedAt,
	}, nil
}

// persistSessions 覆写存储中的全部会话快照
func (m *Manager) persistSessions(states []*sessionState) error {
	if err := m.store.DeletePrefix(nil); err != nil {
		return err
	}
	for _, st := range states {
		if err := m.store.PutJSON([]byte(st.Peer), st); err != nil {
			return err
		}
	}
	return nil
}

// restoreSessions 从存储加载会话快照，返回恢复条数
func (m *Manager) restoreSessions() (int, error) {
	var states []*sessionState
	err := m.store.PrefixScan(nil, func(key, value []byte) bool {
		var st sessionState
		if err := json.Unmarshal(value, &st); err != nil {
			logger.Warn("跳过损坏的会话快照", "key", string(key))
			return true
		}
		states = append(states, &st)
		return true
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, st := range states {
		sess, err := restoreSession(st, m.cfg.MaxSkip)
		if err != nil {
			logger.Warn("跳过无效的会话快照", "peer", st.Peer, "err", err)
			continue
		}
		e := m.entry(sess.Peer())
		e.mu.Lock()
		e.sess = sess
		e.mu.Unlock()
		n++
	}
	return n, nil
}
