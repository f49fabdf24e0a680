package proxy

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CopyStats counts the bytes moved by CopyBidirectional.
type CopyStats struct {
	// Up is client to target, Down is target to client.
	Up, Down int64
}

// CopyBidirectional relays between client and target until both directions
// finish or ctx is done, then closes both. When one side reaches EOF the
// other side's write half is closed if it supports it, so half-closed
// protocols keep working through the tunnel.
func CopyBidirectional(ctx context.Context, client, target net.Conn) (CopyStats, error) {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = target.Close()
		})
	}
	defer closeBoth()

	var stats CopyStats
	done := make(chan struct{})

	g.Go(func() error {
		n, err := copyHalf(target, client)
		stats.Up = n
		return err
	})

	g.Go(func() error {
		n, err := copyHalf(client, target)
		stats.Down = n
		return err
	})

	// If the context is canceled, close both sides to unblock the copies.
	go func() {
		select {
		case <-gctx.Done():
			closeBoth()
		case <-done:
		}
	}()

	err := g.Wait()
	close(done)
	return stats, err
}

func copyHalf(dst, src net.Conn) (int64, error) {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	n, err := io.CopyBuffer(dst, src, buf)
	if err != nil {
		return n, err
	}
	if cw, ok := dst.(interface{ CloseWrite() error }); !ok || cw.CloseWrite() != nil {
		// Without a half-close the peer would never see EOF.
		_ = dst.Close()
	}
	return n, nil
}
