package envelope

import (
	"github.com/klauspost/compress/zstd"
)

// ============================================================================
// 载荷压缩（zstd）
// ============================================================================

// EncodeAll/DecodeAll 模式下 Encoder/Decoder 可安全并发复用
var (
	zstdEncoder, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxFrameSize))
)

// Compress 压缩数据
func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// Decompress 解压数据，解压结果超过 limit 时拒绝
//
// 限制解压放大是对压缩炸弹的防线；limit 通常取 MaxPayload。
func Decompress(data []byte, limit int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, ErrCorruptPayload
	}
	if limit > 0 && len(out) > limit {
		return nil, ErrCorruptPayload
	}
	return out, nil
}

// MaybeCompress 在数据超过阈值且压缩有收益时压缩
//
// 返回处理后的数据与是否压缩的标志。
func MaybeCompress(data []byte, threshold int) ([]byte, bool) {
	if threshold <= 0 || len(data) < threshold {
		return data, false
	}
	compressed := Compress(data)
	if len(compressed) >= len(data) {
		return data, false
	}
	return compressed, true
}
