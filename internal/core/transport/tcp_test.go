package transport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTCPListenDialExchange(t *testing.T) {
	tr := NewTCP()

	l, err := tr.Listen("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	ep := l.Endpoint()
	if !strings.HasPrefix(ep, "tcp://") || strings.HasSuffix(ep, ":0") {
		t.Fatalf("监听端点应带 scheme 且解析出实际端口, got %q", ep)
	}

	accepted := make(chan Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	dialed, err := tr.Dial(ctx, ep)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer dialed.Close()

	var server Conn
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("Accept 超时")
	}
	defer server.Close()

	// 多帧背靠背，校验帧边界
	payloads := [][]byte{
		[]byte("first"),
		bytes.Repeat([]byte{0x5A}, 4096),
		[]byte("third"),
	}
	for _, p := range payloads {
		if err := dialed.Send(p); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i, want := range payloads {
		got, err := server.Recv()
		if err != nil {
			t.Fatalf("Recv #%d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("帧 #%d 不一致: %d 字节 vs %d 字节", i, len(got), len(want))
		}
	}

	// 反向
	if err := server.Send([]byte("reply")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got, err := dialed.Recv(); err != nil || !bytes.Equal(got, []byte("reply")) {
		t.Fatalf("反向 Recv = (%q, %v)", got, err)
	}
}

func TestTCPOversizeSendRejected(t *testing.T) {
	tr := NewTCP()
	l, err := tr.Listen("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err == nil {
			defer c.Close()
			_, _ = c.Recv()
		}
	}()

	dialed, err := tr.Dial(context.Background(), l.Endpoint())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer dialed.Close()

	if err := dialed.Send(make([]byte, MaxFrame+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("超长帧应在发送端拒绝, got %v", err)
	}
}

func TestTCPRecvFailsAfterPeerClose(t *testing.T) {
	tr := NewTCP()
	l, err := tr.Listen("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	dialed, err := tr.Dial(context.Background(), l.Endpoint())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var server Conn
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("Accept 超时")
	}

	_ = dialed.Close()
	if _, err := server.Recv(); err == nil {
		t.Fatal("对端关闭后 Recv 应返回错误")
	}
	_ = server.Close()
}

func TestTCPDialRefused(t *testing.T) {
	tr := NewTCP()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// 先监听拿到一个空闲端口再关掉，保证无人监听
	l, err := tr.Listen("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ep := l.Endpoint()
	_ = l.Close()

	if _, err := tr.Dial(ctx, ep); err == nil {
		t.Fatal("拨号无人监听的端口应失败")
	}
}
