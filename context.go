package whey

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/xerrors"
)

// InterruptibleContext returns a context which is canceled when the program is
// interrupted (i.e. receiving SIGINT or SIGTERM). context.Cause reports the
// signal.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancelCause(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s, ok := <-sig
		if !ok {
			return
		}
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		canc(xerrors.Errorf("received %v", s))
	}()
	return ctx, sync.OnceFunc(func() {
		signal.Stop(sig)
		close(sig)
		canc(context.Canceled)
	})
}
