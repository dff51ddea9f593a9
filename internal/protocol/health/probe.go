package health

import (
	"time"

	"github.com/dep2p/go-mesh/pkg/types"
)

// probePayload Heartbeat/HeartbeatAck 信封载荷。
// 应答方原样回显，RTT 以本端记录的发出时刻为准，不信任对端时间戳。
type probePayload struct {
	ID     string `json:"id"`
	SentAt int64  `json:"sent_at"`
}

// goodbyePayload Goodbye 信封载荷
type goodbyePayload struct {
	Reason string `json:"reason"`
}

// 告别原因
const (
	// GoodbyeShutdown 本端正常停机
	GoodbyeShutdown = "shutdown"
	// GoodbyeLeaving 本端主动退网
	GoodbyeLeaving = "leaving"
)

// probeState 单个邻居的探测状态机
type probeState struct {
	peer        types.NodeID
	interval    time.Duration // 当前自适应间隔
	nextProbe   time.Time
	pendingID   string    // 在途心跳的 uuid，空表示无在途
	sentAt      time.Time // 在途心跳的发出时刻
	deadline    time.Time // 在途心跳的应答期限
	rtts        []time.Duration
	stableRun   int // 连续成功数（清零换一次间隔加倍）
	missStreak  int
	lastSuccess time.Time
	degraded    bool
}

// pushRTT 把样本压进滑动窗口
func (st *probeState) pushRTT(rtt time.Duration, window int) {
	st.rtts = append(st.rtts, rtt)
	if len(st.rtts) > window {
		st.rtts = st.rtts[len(st.rtts)-window:]
	}
}

// avgRTT 返回窗口内的平均 RTT，无样本时为 0
func (st *probeState) avgRTT() time.Duration {
	if len(st.rtts) == 0 {
		return 0
	}
	var sum time.Duration
	for _, rtt := range st.rtts {
		sum += rtt
	}
	return sum / time.Duration(len(st.rtts))
}

// quality 折算 0-100 质量评分：RTT 均值与连续丢失各占一块扣分
func (st *probeState) quality(rttBudget time.Duration) int {
	q := 100
	if budget := rttBudget.Milliseconds(); budget > 0 {
		q -= int(50 * st.avgRTT().Milliseconds() / budget)
	}
	q -= 25 * st.missStreak
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	return q
}

// Snapshot 单个邻居的健康快照
type Snapshot struct {
	Peer        types.NodeID
	Interval    time.Duration
	AvgRTT      time.Duration
	Samples     int // 窗口内的 RTT 样本数
	Quality     int
	MissStreak  int
	LastSuccess time.Time
	Degraded    bool
}
