package gossip

import (
	"github.com/spaolacci/murmur3"

	"github.com/dep2p/go-mesh/pkg/types"
)

// bloomSeeds 四个固定的 murmur3 种子，对应 k=4 次哈希。
// 两端必须一致，属于线缆协议的一部分。
var bloomSeeds = [4]uint32{0x9747b28c, 0x85ebca6b, 0xc2b2ae35, 0x27d4eb2f}

// bitsPerID 每元素位数。k=4 下 1% 误报率约需 9.6 位，取整 10。
const bitsPerID = 10

// bloomFilter 定长位图的 Bloom 过滤器
type bloomFilter struct {
	bits []byte
	m    uint32
}

// newBloom 按元素数预估位图大小
func newBloom(n int) *bloomFilter {
	m := uint32(n * bitsPerID)
	if m < 64 {
		m = 64
	}
	return &bloomFilter{
		bits: make([]byte, (m+7)/8),
		m:    m,
	}
}

// bloomFromWire 从线缆字段重建过滤器
func bloomFromWire(bits []byte, m uint32) (*bloomFilter, error) {
	if m == 0 || len(bits) != int((m+7)/8) {
		return nil, ErrBadDigest
	}
	return &bloomFilter{bits: bits, m: m}, nil
}

// add 置位一个消息ID
func (f *bloomFilter) add(id types.MessageID) {
	for _, seed := range bloomSeeds {
		idx := murmur3.Sum32WithSeed(id[:], seed) % f.m
		f.bits[idx/8] |= 1 << (idx % 8)
	}
}

// has 测试消息ID是否可能在集合中。
// 返回 false 时一定不在，返回 true 时以误报率为限可能在。
func (f *bloomFilter) has(id types.MessageID) bool {
	for _, seed := range bloomSeeds {
		idx := murmur3.Sum32WithSeed(id[:], seed) % f.m
		if f.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}
