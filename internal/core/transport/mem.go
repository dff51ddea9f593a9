package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// ════════════════════════════════════════════════════════════════════════
// 进程内传输：用于测试把多个节点接成一张网
// ════════════════════════════════════════════════════════════════════════

// Network 进程内传输枢纽，同一枢纽上的节点可以互相拨号
type Network struct {
	mu        sync.Mutex
	listeners map[string]*memListener
	dialSeq   atomic.Int64
}

// NewNetwork 创建进程内枢纽
func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*memListener)}
}

// Transport 返回绑定到本枢纽的一个 mem 传输实例
func (n *Network) Transport() *MemTransport {
	return &MemTransport{net: n, maxFrame: MaxFrame}
}

// MemTransport 进程内帧传输
type MemTransport struct {
	net      *Network
	maxFrame int
}

var _ Transport = (*MemTransport)(nil)

// Scheme 返回 "mem"
func (t *MemTransport) Scheme() string { return "mem" }

// Dial 拨号到 mem://name
func (t *MemTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	name := trimScheme(endpoint)
	if name == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}

	t.net.mu.Lock()
	l := t.net.listeners[name]
	t.net.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("transport: mem 端点不存在: %s", endpoint)
	}

	local := fmt.Sprintf("mem://dial-%d", t.net.dialSeq.Add(1))
	near, far := newMemPair(local, l.Endpoint(), t.maxFrame)

	select {
	case l.connCh <- far:
		return near, nil
	case <-l.doneCh:
		return nil, fmt.Errorf("transport: mem 端点已关闭: %s", endpoint)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Listen 在 mem://name 上监听，name 在枢纽内必须唯一
func (t *MemTransport) Listen(endpoint string) (Listener, error) {
	name := trimScheme(endpoint)
	if name == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}

	l := &memListener{
		net:    t.net,
		name:   name,
		connCh: make(chan *memConn, 16),
		doneCh: make(chan struct{}),
	}

	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if _, exists := t.net.listeners[name]; exists {
		return nil, fmt.Errorf("transport: mem 端点已被监听: %s", endpoint)
	}
	t.net.listeners[name] = l
	return l, nil
}

type memListener struct {
	net  *Network
	name string

	connCh    chan *memConn
	doneCh    chan struct{}
	closeOnce sync.Once
}

func (l *memListener) Accept() (Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.doneCh:
		return nil, ErrClosed
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() {
		l.net.mu.Lock()
		delete(l.net.listeners, l.name)
		l.net.mu.Unlock()
		close(l.doneCh)
	})
	return nil
}

func (l *memListener) Endpoint() string { return "mem://" + l.name }

type memConn struct {
	local  string
	remote string

	in       chan []byte
	out      chan []byte
	maxFrame int

	doneCh    chan struct{}
	closeOnce *sync.Once
}

var _ Conn = (*memConn)(nil)

// newMemPair 创建一对互联的 mem 连接，任一端 Close 两端同时失效
func newMemPair(localEP, remoteEP string, maxFrame int) (near, far *memConn) {
	doneCh := make(chan struct{})
	once := &sync.Once{}
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)

	near = &memConn{
		local: localEP, remote: remoteEP,
		in: b2a, out: a2b, maxFrame: maxFrame,
		doneCh: doneCh, closeOnce: once,
	}
	far = &memConn{
		local: remoteEP, remote: localEP,
		in: a2b, out: b2a, maxFrame: maxFrame,
		doneCh: doneCh, closeOnce: once,
	}
	return near, far
}

func (c *memConn) Send(frame []byte) error {
	if len(frame) > c.maxFrame {
		return ErrFrameTooLarge
	}
	// 复制一份，调用方可以立即复用缓冲
	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case c.out <- buf:
		return nil
	case <-c.doneCh:
		return ErrClosed
	}
}

func (c *memConn) Recv() ([]byte, error) {
	// 先清空已送达的帧，再等待新帧或关闭
	select {
	case frame := <-c.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.doneCh:
		return nil, ErrClosed
	}
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.doneCh) })
	return nil
}

func (c *memConn) LocalEndpoint() string { return c.local }

func (c *memConn) RemoteEndpoint() string { return c.remote }
