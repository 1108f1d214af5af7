package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameHeaderSize 帧头大小：4 bytes length + 1 byte frame type
	FrameHeaderSize = 5

	// 客户端帧类型
	FrameTypeAuth    byte = 1 // 认证请求（AuthRequest）
	FrameTypeRequest byte = 2 // 普通请求（ClientRequest）

	// 服务端帧类型
	FrameTypeAuthAck  byte = 3 // 认证响应
	FrameTypeResponse byte = 4 // 请求响应（ServerResponse）
	FrameTypeEvent    byte = 5 // 服务端推送事件（ServerEvent）

	// MaxFrameSize 单帧最大长度
	MaxFrameSize = 1 << 20
)

// ErrFrameTooLarge 帧长度超限
var ErrFrameTooLarge = errors.New("frame too large")

// EncodeFrame 构建带帧头的数据
func EncodeFrame(frameType byte, body []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	frame[4] = frameType
	copy(frame[FrameHeaderSize:], body)
	return frame
}

// WriteFrame 写入一帧
func WriteFrame(w io.Writer, frameType byte, body []byte) error {
	_, err := w.Write(EncodeFrame(frameType, body))
	return err
}

// ReadFrame 读取一帧
func ReadFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(header[:4])
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return header[4], body, nil
}
