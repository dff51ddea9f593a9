package transport

import (
	"bufio"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-mesh/internal/core/envelope"
)

// MaxFrame 单帧上限，即信封的最大编码长度
const MaxFrame = envelope.MaxFrameSize

// WriteFrame 向流写入一个帧：uvarint 长度前缀 + 帧体，单次 Write 完成
func WriteFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(frame)))+len(frame))
	buf = append(buf, varint.ToUvarint(uint64(len(frame)))...)
	buf = append(buf, frame...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("transport: 写入帧失败: %w", err)
	}
	return nil
}

// ReadFrame 从流读取一个帧；长度超过 maxFrame 返回 ErrFrameTooLarge
func ReadFrame(r *bufio.Reader, maxFrame int) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(maxFrame) {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
