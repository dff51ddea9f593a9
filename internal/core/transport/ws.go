package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ════════════════════════════════════════════════════════════════════════
// WebSocket 传输：二进制消息自带帧边界，无需长度前缀
// ════════════════════════════════════════════════════════════════════════

// WSTransport 基于 WebSocket 的帧传输
type WSTransport struct {
	maxFrame int
	dialer   *websocket.Dialer
	upgrader *websocket.Upgrader
}

var _ Transport = (*WSTransport)(nil)

// NewWS 创建 WebSocket 传输
func NewWS() *WSTransport {
	return &WSTransport{
		maxFrame: MaxFrame,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		upgrader: &websocket.Upgrader{
			// 节点间直连，不做浏览器同源校验
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Scheme 返回 "ws"
func (t *WSTransport) Scheme() string { return "ws" }

// Dial 拨号到 ws://host:port
func (t *WSTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	if _, ok := splitScheme(endpoint); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}

	raw, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: 拨号 %s 失败: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return newWSConn(raw, t.maxFrame), nil
}

// Listen 在 ws://host:port 上监听，port 为 0 时由系统分配
func (t *WSTransport) Listen(endpoint string) (Listener, error) {
	addr := trimScheme(endpoint)
	if addr == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: 监听 %s 失败: %w", endpoint, err)
	}

	wl := &wsListener{
		ln:       ln,
		maxFrame: t.maxFrame,
		connCh:   make(chan Conn, 16),
		doneCh:   make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", wl.serveUpgrade(t.upgrader))
	wl.srv = &http.Server{Handler: mux}

	go func() { _ = wl.srv.Serve(ln) }()
	return wl, nil
}

type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	maxFrame int

	connCh    chan Conn
	doneCh    chan struct{}
	closeOnce sync.Once
}

func (l *wsListener) serveUpgrade(up *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := newWSConn(raw, l.maxFrame)
		select {
		case l.connCh <- c:
		case <-l.doneCh:
			_ = c.Close()
		}
	}
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.doneCh:
		return nil, ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.doneCh)
		err = l.srv.Close()
	})
	return err
}

func (l *wsListener) Endpoint() string { return "ws://" + l.ln.Addr().String() }

type wsConn struct {
	raw      *websocket.Conn
	wmu      sync.Mutex
	maxFrame int
}

var _ Conn = (*wsConn)(nil)

func newWSConn(raw *websocket.Conn, maxFrame int) *wsConn {
	raw.SetReadLimit(int64(maxFrame))
	return &wsConn{raw: raw, maxFrame: maxFrame}
}

func (c *wsConn) Send(frame []byte) error {
	if len(frame) > c.maxFrame {
		return ErrFrameTooLarge
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.raw.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) Recv() ([]byte, error) {
	for {
		mt, data, err := c.raw.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.raw.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.wmu.Unlock()
	return c.raw.Close()
}

func (c *wsConn) LocalEndpoint() string { return "ws://" + c.raw.LocalAddr().String() }

func (c *wsConn) RemoteEndpoint() string { return "ws://" + c.raw.RemoteAddr().String() }
