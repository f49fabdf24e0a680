package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// StartServer listens on loopback and runs handler for every accepted
// connection, closing it when handler returns. The returned func closes the
// listener and waits for all handlers.
func StartServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Go(func() {
				defer c.Close()
				handler(c)
			})
		}
	})

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })

	var once sync.Once
	wait := func() {
		once.Do(func() {
			stop()
			_ = ln.Close()
			wg.Wait()
		})
	}

	return ln, wait
}

// StartSingleAcceptServer is like StartServer but accepts one connection.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	})

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}

	return ln, wait
}
