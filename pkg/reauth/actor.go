package reauth

import (
	"context"
	"sync"
	"sync/atomic"
)

// actor runs commands for one session on a single goroutine.
type actor struct {
	cmds chan func()
	quit chan struct{}
	done chan struct{}

	started   atomic.Bool
	stopOnce  sync.Once
	tickQueue atomic.Bool
}

func newActor() *actor {
	return &actor{
		cmds: make(chan func(), 8),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (a *actor) start() bool {
	if !a.started.CompareAndSwap(false, true) {
		return false
	}
	go a.run()
	return true
}

func (a *actor) run() {
	defer close(a.done)
	for {
		select {
		case f := <-a.cmds:
			f()
		case <-a.quit:
			// Commands already queued still run so their callers get an answer.
			for {
				select {
				case f := <-a.cmds:
					f()
				default:
					return
				}
			}
		}
	}
}

// call runs f on the actor goroutine and waits for its result.
func (a *actor) call(ctx context.Context, f func() error) error {
	if !a.started.Load() {
		return ErrNotStarted
	}
	result := make(chan error, 1)
	select {
	case a.cmds <- func() { result <- f() }:
	case <-a.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-a.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick posts f unless a tick is already queued. It never blocks.
func (a *actor) tick(f func()) {
	if !a.started.Load() || !a.tickQueue.CompareAndSwap(false, true) {
		return
	}
	cmd := func() {
		a.tickQueue.Store(false)
		f()
	}
	select {
	case a.cmds <- cmd:
	case <-a.quit:
		a.tickQueue.Store(false)
	default:
		// Queue full; run the post asynchronously so Fire never blocks.
		go func() {
			select {
			case a.cmds <- cmd:
			case <-a.quit:
				a.tickQueue.Store(false)
			}
		}()
	}
}

// shutdown asks the goroutine to exit after the queued commands. Safe to
// call from a command.
func (a *actor) shutdown() {
	a.stopOnce.Do(func() { close(a.quit) })
}

// stop shuts down and waits for the goroutine. Must not be called from a command.
func (a *actor) stop() {
	a.shutdown()
	if a.started.Load() {
		<-a.done
	}
}
