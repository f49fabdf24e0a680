package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/die-net/sockstun/internal/testutil"
)

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	s := <-accepted
	if s == nil {
		t.Fatal("accept failed")
	}
	return c, s
}

func TestCopyBidirectionalHalfClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, clientPeer := tcpPair(t)
	targetPeer, target := tcpPair(t)
	defer client.Close()
	defer targetPeer.Close()

	statsc := make(chan CopyStats, 1)
	go func() {
		stats, _ := CopyBidirectional(ctx, clientPeer, target)
		statsc <- stats
	}()

	testutil.AssertEcho(t, client, targetPeer, []byte("request"))

	// The client finishes sending; the target still answers.
	_ = client.(*net.TCPConn).CloseWrite()
	if _, err := io.ReadAll(targetPeer); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, targetPeer, client, []byte("response!"))
	_ = targetPeer.(*net.TCPConn).CloseWrite()

	stats := <-statsc
	if stats.Up != int64(len("request")) || stats.Down != int64(len("response!")) {
		t.Fatalf("stats %+v", stats)
	}
}

func TestCopyBidirectionalCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client, clientPeer := tcpPair(t)
	targetPeer, target := tcpPair(t)
	defer client.Close()
	defer targetPeer.Close()

	done := make(chan struct{})
	go func() {
		_, _ = CopyBidirectional(ctx, clientPeer, target)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("copy did not stop after cancel")
	}
}
