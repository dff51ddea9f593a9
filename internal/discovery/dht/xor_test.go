package dht

import (
	"testing"

	"github.com/dep2p/go-mesh/pkg/types"
)

// testID 首字节可控、其余为零的节点 ID
func testID(b byte) types.NodeID {
	var id types.NodeID
	id[0] = b
	return id
}

func TestXorDistance(t *testing.T) {
	a := testID(0b1100_0000)
	b := testID(0b1010_0000)

	if d := xorDistance(a, b); d[0] != 0b0110_0000 {
		t.Fatalf("首字节距离 = %08b, 期望 01100000", d[0])
	}
	var zero [32]byte
	if xorDistance(a, a) != zero {
		t.Fatal("自身距离应为零")
	}
	if xorDistance(a, b) != xorDistance(b, a) {
		t.Fatal("距离应对称")
	}
}

func TestCloserTo(t *testing.T) {
	target := testID(0x00)
	near := testID(0x01)
	far := testID(0x80)

	if closerTo(near, far, target) >= 0 {
		t.Fatal("0x01 应比 0x80 更近")
	}
	if closerTo(far, near, target) <= 0 {
		t.Fatal("反向比较应为正")
	}
	if closerTo(near, near, target) != 0 {
		t.Fatal("同距应为零")
	}
}

func TestBucketIndex(t *testing.T) {
	local := testID(0x00)

	cases := []struct {
		remote types.NodeID
		idx    int
	}{
		{testID(0x80), 0},
		{testID(0x40), 1},
		{testID(0x01), 7},
	}
	for _, c := range cases {
		if got := commonPrefixLen(local, c.remote); got != c.idx {
			t.Fatalf("前缀长度 = %d, 期望 %d", got, c.idx)
		}
		if got := bucketIndex(local, c.remote); got != c.idx {
			t.Fatalf("桶下标 = %d, 期望 %d", got, c.idx)
		}
	}

	// 自身对自身：前缀占满，钳到最后一桶
	if got := bucketIndex(local, local); got != idBits-1 {
		t.Fatalf("自身桶下标 = %d, 期望 %d", got, idBits-1)
	}
}

func TestHashKey(t *testing.T) {
	if hashKey("alpha") != hashKey("alpha") {
		t.Fatal("同键哈希应稳定")
	}
	if hashKey("alpha") == hashKey("beta") {
		t.Fatal("异键不应撞哈希")
	}
}

func TestSortByDistance(t *testing.T) {
	target := testID(0x00)
	ids := []types.NodeID{testID(0x80), testID(0x01), testID(0x40)}
	sortByDistance(ids, target)

	want := []types.NodeID{testID(0x01), testID(0x40), testID(0x80)}
	for i := range want {
		if !ids[i].Equal(want[i]) {
			t.Fatalf("第 %d 位 = %s, 期望 %s", i, ids[i], want[i])
		}
	}
}

func TestRandomIDInBucket(t *testing.T) {
	local := testID(0x5A)
	for _, idx := range []int{0, 3, 8, 17, 200, idBits - 1} {
		id := randomIDInBucket(local, idx)
		if got := bucketIndex(local, id); got != idx {
			t.Fatalf("随机 ID 落桶 %d, 期望 %d", got, idx)
		}
	}
}
