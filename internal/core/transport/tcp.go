package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
)

// ════════════════════════════════════════════════════════════════════════
// TCP 传输：uvarint 长度前缀帧
// ════════════════════════════════════════════════════════════════════════

// TCPTransport 基于 TCP 的帧传输
type TCPTransport struct {
	maxFrame int
}

var _ Transport = (*TCPTransport)(nil)

// NewTCP 创建 TCP 传输
func NewTCP() *TCPTransport {
	return &TCPTransport{maxFrame: MaxFrame}
}

// Scheme 返回 "tcp"
func (t *TCPTransport) Scheme() string { return "tcp" }

// Dial 拨号到 tcp://host:port
func (t *TCPTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	addr := trimScheme(endpoint)
	if addr == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: 拨号 %s 失败: %w", endpoint, err)
	}
	return newTCPConn(raw, t.maxFrame), nil
}

// Listen 在 tcp://host:port 上监听，port 为 0 时由系统分配
func (t *TCPTransport) Listen(endpoint string) (Listener, error) {
	addr := trimScheme(endpoint)
	if addr == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: 监听 %s 失败: %w", endpoint, err)
	}
	return &tcpListener{ln: ln, maxFrame: t.maxFrame}, nil
}

type tcpListener struct {
	ln       net.Listener
	maxFrame int
}

func (l *tcpListener) Accept() (Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newTCPConn(raw, l.maxFrame), nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Endpoint() string { return "tcp://" + l.ln.Addr().String() }

type tcpConn struct {
	raw      net.Conn
	br       *bufio.Reader
	wmu      sync.Mutex
	maxFrame int
}

var _ Conn = (*tcpConn)(nil)

func newTCPConn(raw net.Conn, maxFrame int) *tcpConn {
	if tc, ok := raw.(*net.TCPConn); ok {
		// 信封都是小消息，关闭 Nagle 降低时延
		_ = tc.SetNoDelay(true)
	}
	return &tcpConn{
		raw:      raw,
		br:       bufio.NewReaderSize(raw, 32*1024),
		maxFrame: maxFrame,
	}
}

func (c *tcpConn) Send(frame []byte) error {
	if len(frame) > c.maxFrame {
		return ErrFrameTooLarge
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.raw, frame)
}

func (c *tcpConn) Recv() ([]byte, error) {
	return ReadFrame(c.br, c.maxFrame)
}

func (c *tcpConn) Close() error { return c.raw.Close() }

func (c *tcpConn) LocalEndpoint() string { return "tcp://" + c.raw.LocalAddr().String() }

func (c *tcpConn) RemoteEndpoint() string { return "tcp://" + c.raw.RemoteAddr().String() }
