package dialer

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/die-net/sockstun/internal/socks"
)

// Established is the outcome of a successful connection attempt.
type Established struct {
	// Conn is the connection handed to the application: the tunnel itself,
	// or whatever the attempt's Handoff returned for it.
	Conn net.Conn

	// BoundAddr is the address the proxy reported for the relayed
	// connection.
	BoundAddr socks.Addr

	// Timeline holds the attempt's milestones.
	Timeline *socks.Timeline
}

// Handoff receives the tunnel once the proxy has confirmed it and returns the
// connection the application will use. If it fails, the tunnel is closed and
// the attempt fails with its error.
type Handoff func(ctx context.Context, conn net.Conn) (net.Conn, error)

// Attempt is a single connection attempt. It completes exactly once, either
// established or failed; a connection that loses a race with Cancel is closed
// rather than delivered.
type Attempt struct {
	label  string
	ctx    context.Context
	cancel context.CancelCauseFunc

	once sync.Once
	done chan struct{}
	est  Established
	err  error
}

func newAttempt(parent context.Context, label string) *Attempt {
	ctx, cancel := context.WithCancelCause(parent)
	return &Attempt{label: label, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// start runs fn in its own goroutine and completes the attempt with its
// result. Canceling parent fails the attempt right away, without waiting for
// fn to notice.
func (a *Attempt) start(parent context.Context, fn func(ctx context.Context) (Established, error)) {
	stop := context.AfterFunc(parent, func() {
		a.fail(fmt.Errorf("%w: %w", socks.ErrCanceled, context.Cause(parent)))
	})
	go func() {
		defer stop()
		a.run(fn)
	}()
}

// run completes the attempt with the result of fn.
func (a *Attempt) run(fn func(ctx context.Context) (Established, error)) {
	est, err := fn(a.ctx)
	if err != nil {
		a.complete(Established{}, fmt.Errorf("%s: %w", a.label, err))
		return
	}
	if !a.complete(est, nil) {
		_ = est.Conn.Close()
	}
}

// complete records the outcome if none has been recorded yet and reports
// whether it did.
func (a *Attempt) complete(est Established, err error) bool {
	won := false
	a.once.Do(func() {
		won = true
		a.est, a.err = est, err
		close(a.done)
	})
	if won {
		// Release anything still blocked on the attempt's context. A
		// delivered connection no longer depends on it.
		a.cancel(socks.ErrCanceled)
	}
	return won
}

func (a *Attempt) fail(err error) {
	a.complete(Established{}, fmt.Errorf("%s: %w", a.label, err))
}

// Cancel fails the attempt with ErrCanceled if it has not completed yet. The
// connection to the proxy, if any, is closed.
func (a *Attempt) Cancel() {
	a.fail(socks.ErrCanceled)
}

// Done is closed once the attempt has completed.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Result waits for the attempt to complete and returns its outcome.
func (a *Attempt) Result() (Established, error) {
	<-a.done
	return a.est, a.err
}
