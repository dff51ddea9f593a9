package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/pkg/types"
)

func testNodeID(b byte) types.NodeID {
	var id types.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

// newTestPair 从同一根密钥建立一对会话（a 为发起方）
func newTestPair(t *testing.T, maxSkip int) (a, b *Session) {
	t.Helper()
	root := testRoot("pair-root")
	now := time.Now()

	a, err := newSession(testNodeID(0xBB), root, true, maxSkip, now)
	if err != nil {
		t.Fatalf("newSession a: %v", err)
	}
	b, err = newSession(testNodeID(0xAA), root, false, maxSkip, now)
	if err != nil {
		t.Fatalf("newSession b: %v", err)
	}
	return a, b
}

// sealData a 向 b 密封一条数据信封
func sealData(t *testing.T, a *Session, plaintext []byte) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(envelope.Data, testNodeID(0xAA), testNodeID(0xBB), 8, nil)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := a.Seal(env, plaintext); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return env
}

func TestSession_SealOpen(t *testing.T) {
	a, b := newTestPair(t, 16)
	plaintext := []byte("hello mesh")

	env := sealData(t, a, plaintext)

	if !env.Flags.Has(envelope.FlagEncrypted) {
		t.Error("密封后应置加密标志")
	}
	if env.Seq != 0 {
		t.Errorf("首条消息 Seq = %d, want 0", env.Seq)
	}
	if len(env.Payload) != len(plaintext)+Overhead {
		t.Errorf("密文长度 = %d, want %d", len(env.Payload), len(plaintext)+Overhead)
	}
	if bytes.Contains(env.Payload, plaintext) {
		t.Error("密文包含明文")
	}

	got, err := b.Open(env)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("明文 = %q, want %q", got, plaintext)
	}
}

func TestSession_SeqAdvances(t *testing.T) {
	a, b := newTestPair(t, 16)

	for i := 0; i < 5; i++ {
		env := sealData(t, a, []byte{byte(i)})
		if env.Seq != uint64(i) {
			t.Fatalf("Seq = %d, want %d", env.Seq, i)
		}
		got, err := b.Open(env)
		if err != nil {
			t.Fatalf("open seq %d: %v", i, err)
		}
		if got[0] != byte(i) {
			t.Fatalf("seq %d 明文错位", i)
		}
	}
}

func TestSession_BothDirections(t *testing.T) {
	a, b := newTestPair(t, 16)

	envAB := sealData(t, a, []byte("a->b"))
	if _, err := b.Open(envAB); err != nil {
		t.Fatalf("b open: %v", err)
	}

	envBA, err := envelope.New(envelope.Data, testNodeID(0xBB), testNodeID(0xAA), 8, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Seal(envBA, []byte("b->a")); err != nil {
		t.Fatalf("b seal: %v", err)
	}
	got, err := a.Open(envBA)
	if err != nil {
		t.Fatalf("a open: %v", err)
	}
	if string(got) != "b->a" {
		t.Errorf("明文 = %q", got)
	}
}

func TestSession_OutOfOrder(t *testing.T) {
	a, b := newTestPair(t, 16)

	env0 := sealData(t, a, []byte("m0"))
	env1 := sealData(t, a, []byte("m1"))
	env2 := sealData(t, a, []byte("m2"))

	// 先到最新的，再补旧的
	for _, tc := range []struct {
		env  *envelope.Envelope
		want string
	}{
		{env2, "m2"},
		{env0, "m0"},
		{env1, "m1"},
	} {
		got, err := b.Open(tc.env)
		if err != nil {
			t.Fatalf("open %s: %v", tc.want, err)
		}
		if string(got) != tc.want {
			t.Errorf("明文 = %q, want %q", got, tc.want)
		}
	}
}

func TestSession_Replay(t *testing.T) {
	a, b := newTestPair(t, 16)

	env := sealData(t, a, []byte("once"))
	if _, err := b.Open(env); err != nil {
		t.Fatalf("首次 open: %v", err)
	}

	if _, err := b.Open(env); !errors.Is(err, ErrReplayOrExpired) {
		t.Fatalf("重放应拒绝, got %v", err)
	}
}

func TestSession_ReplaySkippedAfterConsume(t *testing.T) {
	a, b := newTestPair(t, 16)

	env0 := sealData(t, a, []byte("m0"))
	env1 := sealData(t, a, []byte("m1"))

	// 乱序消费：1 先到（0 进入跳过窗口），随后 0 到达并消费
	if _, err := b.Open(env1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(env0); err != nil {
		t.Fatal(err)
	}

	// 已消费的跳过序号重放必须拒绝
	if _, err := b.Open(env0); !errors.Is(err, ErrReplayOrExpired) {
		t.Fatalf("重放应拒绝, got %v", err)
	}
}

func TestSession_TamperFailsWithoutStateMutation(t *testing.T) {
	a, b := newTestPair(t, 16)

	env := sealData(t, a, []byte("intact"))

	tampered := env.Clone()
	tampered.Payload[0] ^= 0xFF
	if _, err := b.Open(tampered); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("篡改应解封失败, got %v", err)
	}

	// 失败不得推进接收状态：原信封此后仍可解封
	got, err := b.Open(env)
	if err != nil {
		t.Fatalf("失败后的正常 open: %v", err)
	}
	if string(got) != "intact" {
		t.Errorf("明文 = %q", got)
	}
}

func TestSession_AADBindsHeader(t *testing.T) {
	a, b := newTestPair(t, 16)

	env := sealData(t, a, []byte("bound"))

	// 密封后改写头部字段，AAD 不再匹配
	rerouted := env.Clone()
	rerouted.Recipient = testNodeID(0xCC)
	if _, err := b.Open(rerouted); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("改写收件人后应解封失败, got %v", err)
	}

	reflagged := env.Clone()
	reflagged.Flags |= envelope.FlagCompressed
	if _, err := b.Open(reflagged); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("改写标志后应解封失败, got %v", err)
	}

	// TTL 不参与 AAD，中继递减不影响解封
	relayed := env.Clone()
	relayed.TTL -= 3
	if _, err := b.Open(relayed); err != nil {
		t.Fatalf("TTL 递减后应可解封: %v", err)
	}
}

func TestSession_NotEncrypted(t *testing.T) {
	_, b := newTestPair(t, 16)

	env, err := envelope.New(envelope.Data, testNodeID(0xAA), testNodeID(0xBB), 8, []byte("plain"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(env); !errors.Is(err, ErrNotEncrypted) {
		t.Fatalf("未密封信封应拒绝, got %v", err)
	}
}

func TestSession_SkipWindowLimit(t *testing.T) {
	a, b := newTestPair(t, 2)

	envs := make([]*envelope.Envelope, 4)
	for i := range envs {
		envs[i] = sealData(t, a, []byte{byte(i)})
	}

	// 距水位线 3 > maxSkip 2
	if _, err := b.Open(envs[3]); !errors.Is(err, ErrSkipExceeded) {
		t.Fatalf("超窗跳跃应拒绝, got %v", err)
	}

	// 拒绝不改变状态：窗口内的跳跃仍可接受
	if _, err := b.Open(envs[2]); err != nil {
		t.Fatalf("open seq2: %v", err)
	}
	if _, err := b.Open(envs[3]); err != nil {
		t.Fatalf("open seq3: %v", err)
	}
	if _, err := b.Open(envs[0]); err != nil {
		t.Fatalf("open seq0: %v", err)
	}
	if _, err := b.Open(envs[1]); err != nil {
		t.Fatalf("open seq1: %v", err)
	}
}

func TestSession_SkipKeyEviction(t *testing.T) {
	a, b := newTestPair(t, 2)

	envs := make([]*envelope.Envelope, 5)
	for i := range envs {
		envs[i] = sealData(t, a, []byte{byte(i)})
	}

	// 跳到 2：0、1 进入窗口
	if _, err := b.Open(envs[2]); err != nil {
		t.Fatal(err)
	}
	// 跳到 4：3 入窗，窗口超容淘汰最旧的 0
	if _, err := b.Open(envs[4]); err != nil {
		t.Fatal(err)
	}

	if _, err := b.Open(envs[1]); err != nil {
		t.Fatalf("seq1 仍在窗口内: %v", err)
	}
	if _, err := b.Open(envs[3]); err != nil {
		t.Fatalf("seq3 仍在窗口内: %v", err)
	}
	if _, err := b.Open(envs[0]); !errors.Is(err, ErrReplayOrExpired) {
		t.Fatalf("被淘汰的 seq0 应拒绝, got %v", err)
	}
}

func TestSession_SnapshotRestore(t *testing.T) {
	a, b := newTestPair(t, 16)

	for i := 0; i < 3; i++ {
		env := sealData(t, a, []byte{byte(i)})
		if _, err := b.Open(env); err != nil {
			t.Fatal(err)
		}
	}

	restored, err := restoreSession(b.snapshot(), 16)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Peer() != b.Peer() {
		t.Error("恢复后的对端不一致")
	}

	// 链状态延续：重启后的会话能解封后续消息
	env := sealData(t, a, []byte("after-restart"))
	got, err := restored.Open(env)
	if err != nil {
		t.Fatalf("恢复后 open: %v", err)
	}
	if string(got) != "after-restart" {
		t.Errorf("明文 = %q", got)
	}

	// 快照不带跳过键：水位线以下一律按重放拒绝
	earlier := env.Clone()
	earlier.Seq = 0
	if _, err := restored.Open(earlier); !errors.Is(err, ErrReplayOrExpired) {
		t.Fatalf("水位线以下应拒绝, got %v", err)
	}
}

func TestSession_BadSnapshot(t *testing.T) {
	if _, err := restoreSession(&sessionState{Peer: "not-base58-!"}, 16); err == nil {
		t.Error("无效节点ID应报错")
	}

	a, _ := newTestPair(t, 16)
	st := a.snapshot()
	st.SendChain = st.SendChain[:8]
	if _, err := restoreSession(st, 16); err == nil {
		t.Error("链密钥长度错误应报错")
	}
}
