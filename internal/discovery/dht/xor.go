package dht

import (
	"bytes"
	"crypto/rand"
	"sort"

	"github.com/minio/sha256-simd"

	"github.com/dep2p/go-mesh/pkg/types"
)

// idBits 键空间位宽，亦即 k-桶数量
const idBits = 256

// xorDistance 计算两个 ID 的 XOR 距离（大端字节序）
func xorDistance(a, b types.NodeID) [32]byte {
	var d [32]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// closerTo 比较 a 与 b 到 target 的距离，a 更近返回负数
func closerTo(a, b, target types.NodeID) int {
	da := xorDistance(a, target)
	db := xorDistance(b, target)
	return bytes.Compare(da[:], db[:])
}

// commonPrefixLen 返回两个 ID 的共同前缀位数
func commonPrefixLen(a, b types.NodeID) int {
	d := xorDistance(a, b)
	zeros := 0
	for _, x := range d {
		if x == 0 {
			zeros += 8
			continue
		}
		for mask := byte(0x80); mask > 0; mask >>= 1 {
			if x&mask != 0 {
				return zeros
			}
			zeros++
		}
	}
	return zeros
}

// bucketIndex 计算 remote 相对 local 的桶下标（0..255）。
// 前缀越长距离越近，下标越大。自身距离为零时钳到最后一桶。
func bucketIndex(local, remote types.NodeID) int {
	cpl := commonPrefixLen(local, remote)
	if cpl >= idBits {
		return idBits - 1
	}
	return cpl
}

// hashKey 把任意字符串键映射进 ID 空间
func hashKey(key string) types.NodeID {
	return types.NodeID(sha256.Sum256([]byte(key)))
}

// sortByDistance 就地按到 target 的 XOR 距离升序排序
func sortByDistance(ids []types.NodeID, target types.NodeID) {
	sort.Slice(ids, func(i, j int) bool {
		return closerTo(ids[i], ids[j], target) < 0
	})
}

// randomIDInBucket 生成落在指定桶内的随机 ID：
// 翻转第 idx 位，其后各位取密码学随机数。
func randomIDInBucket(local types.NodeID, idx int) types.NodeID {
	id := local
	byteIdx := idx / 8
	bitIdx := 7 - idx%8
	id[byteIdx] ^= 1 << bitIdx

	if byteIdx+1 < len(id) {
		_, _ = rand.Read(id[byteIdx+1:])
	}
	return id
}
