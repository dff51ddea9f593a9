package types

import (
	"bytes"
	"testing"
)

func TestNodeIDRoundTrip(t *testing.T) {
	var raw [32]byte
	for i := range raw {
		raw[i] = byte(i * 7)
	}

	id, err := NodeIDFromBytes(raw[:])
	if err != nil {
		t.Fatalf("NodeIDFromBytes: %v", err)
	}

	s := id.String()
	if s == "" {
		t.Fatal("String() 不应为空")
	}

	parsed, err := ParseNodeID(s)
	if err != nil {
		t.Fatalf("ParseNodeID(%q): %v", s, err)
	}
	if !parsed.Equal(id) {
		t.Fatalf("往返不一致: %s != %s", parsed, id)
	}
	if !bytes.Equal(parsed.Bytes(), raw[:]) {
		t.Fatal("Bytes() 与原始字节不一致")
	}
}

func TestNodeIDEmpty(t *testing.T) {
	var id NodeID
	if !id.IsEmpty() {
		t.Fatal("零值应为 Empty")
	}
	if id.String() != "" {
		t.Fatal("空 ID 的 String() 应为空串")
	}
	if _, err := ParseNodeID(""); err == nil {
		t.Fatal("空字符串解析应失败")
	}
}

func TestNodeIDInvalid(t *testing.T) {
	cases := []string{
		"not-base58-0OIl",
		"abc", // 太短
	}
	for _, c := range cases {
		if _, err := ParseNodeID(c); err == nil {
			t.Errorf("ParseNodeID(%q) 应失败", c)
		}
	}

	if _, err := NodeIDFromBytes(make([]byte, 16)); err == nil {
		t.Error("16 字节输入应失败")
	}
}

func TestNodeIDLess(t *testing.T) {
	var a, b NodeID
	b[31] = 1
	if !a.Less(b) {
		t.Fatal("a < b 应成立")
	}
	if b.Less(a) {
		t.Fatal("b < a 不应成立")
	}
	if a.Less(a) {
		t.Fatal("a < a 不应成立")
	}
}

func TestMessageIDShortString(t *testing.T) {
	var raw [32]byte
	raw[0] = 0xff
	id, err := MessageIDFromBytes(raw[:])
	if err != nil {
		t.Fatalf("MessageIDFromBytes: %v", err)
	}
	if got := id.ShortString(); len(got) != 8 {
		t.Fatalf("ShortString 长度 = %d, 期望 8", len(got))
	}
	if EmptyMessageID.ShortString() != "" {
		t.Fatal("空 MessageID 的 ShortString 应为空串")
	}
}

func TestPeerStateString(t *testing.T) {
	cases := map[PeerState]string{
		PeerStateDiscovered:  "discovered",
		PeerStateConnecting:  "connecting",
		PeerStateConnected:   "connected",
		PeerStateDegraded:    "degraded",
		PeerStateBlacklisted: "blacklisted",
		PeerState(99):        "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, 期望 %q", state, got, want)
		}
	}
}

func TestPeerClone(t *testing.T) {
	p := &Peer{
		ID:        NodeID{1},
		PublicKey: []byte{1, 2, 3},
		Endpoints: []string{"tcp://127.0.0.1:9430"},
		State:     PeerStateConnected,
		Quality:   80,
	}
	cp := p.Clone()
	cp.PublicKey[0] = 9
	cp.Endpoints[0] = "changed"
	if p.PublicKey[0] != 1 || p.Endpoints[0] != "tcp://127.0.0.1:9430" {
		t.Fatal("Clone 应为深拷贝")
	}
}
