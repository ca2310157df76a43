package whey

import (
	"errors"
	"sync"
	"sync/atomic"
)

var atExit struct {
	sync.Mutex
	fns    []func() error
	closed atomic.Bool
}

// RegisterAtExit schedules fn to run in RunAtExit, e.g. stopping the local
// artifact server or removing a temporary build environment.
func RegisterAtExit(fn func() error) {
	if atExit.closed.Load() {
		panic("BUG: RegisterAtExit must not be called from an atExit func")
	}
	atExit.Lock()
	defer atExit.Unlock()
	atExit.fns = append(atExit.fns, fn)
}

// RunAtExit runs the registered functions in reverse registration order. All
// functions run even if some fail; their errors are joined.
func RunAtExit() error {
	atExit.closed.Store(true)
	atExit.Lock()
	fns := atExit.fns
	atExit.fns = nil
	atExit.Unlock()
	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
