package krun

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
)

// InterruptFlags records operator interrupts delivered at arbitrary points,
// to be consumed synchronously by the control loop.  Raise is the only
// writer and the governor is the only reader; each flag is a single word, so
// the pair needs no further synchronisation.
type InterruptFlags struct {
	killed    atomic.Bool // interrupt pending, not yet acted upon
	hotKilled atomic.Bool // interrupt pending, not yet announced while suspended
}

// NewInterruptFlags returns a cleared flag pair.
func NewInterruptFlags() *InterruptFlags {
	return &InterruptFlags{}
}

// Raise marks an interrupt as pending.  It performs two plain flag stores and
// nothing else, keeping the signal delivery path free of I/O and allocation.
func (f *InterruptFlags) Raise() {
	f.killed.Store(true)
	f.hotKilled.Store(true)
}

// TakeKilled reports whether an interrupt is pending, clearing the flag.
func (f *InterruptFlags) TakeKilled() bool {
	return f.killed.Swap(false)
}

// TakeHotKilled reports whether an interrupt arrived while the child was
// suspended, clearing only that flag.  The general pending flag stays up so
// that the kill still happens once the child is resumed.
func (f *InterruptFlags) TakeHotKilled() bool {
	return f.hotKilled.Swap(false)
}

// Notify raises the flags on every operator interrupt until ctx is
// cancelled.
func (f *InterruptFlags) Notify(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				f.Raise()
			}
		}
	}()
}
