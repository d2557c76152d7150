package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Context returns a context cancelled on the first shutdown signal. The
// second signal is left to the default handler so a stuck teardown can
// still be interrupted.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(parent, signals()...)
	go func() {
		<-ctx.Done()
		signal.Reset(signals()...)
	}()
	return ctx, cancel
}

// Notify relays shutdown signals to ch.
func Notify(ch chan os.Signal) {
	signal.Notify(ch, signals()...)
}
