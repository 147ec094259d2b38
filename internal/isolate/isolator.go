// Package isolate runs units of work on a dedicated execution context, away
// from the goroutine that handles channel traffic.
//
// An Isolator owns one goroutine locked to its own OS thread. Units are
// admitted strictly one at a time and run in submission order. Whatever a unit
// does to its thread (thread-locked state, panics, runtime.Goexit) is contained
// there: the submitting goroutine only ever sees the outcome as an error.
//
// Two modes are supported:
//   - ModeReuse keeps one long-lived thread for every unit.
//   - ModeFresh starts a new locked thread per unit and retires it afterwards,
//     so no thread state can carry over from one unit to the next.
package isolate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/testworker/internal/log"
)

// Mode selects how the dedicated thread is managed across units.
type Mode string

const (
	ModeReuse Mode = "reuse"
	ModeFresh Mode = "fresh"
)

// ParseMode validates a mode name. The empty string selects ModeReuse.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeReuse:
		return ModeReuse, nil
	case ModeFresh:
		return ModeFresh, nil
	default:
		return "", fmt.Errorf("unknown isolation mode %q (want %q or %q)", s, ModeReuse, ModeFresh)
	}
}

var (
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("isolator closed")

	// ErrInterrupted is returned when the caller's context ends before the
	// unit's outcome is available. The unit itself keeps running.
	ErrInterrupted = errors.New("interrupted while waiting for unit of work")

	// ErrThreadExited is the outcome of a unit that terminated its goroutine
	// with runtime.Goexit.
	ErrThreadExited = errors.New("unit of work exited its execution thread")
)

// Func is a unit of work body.
type Func func(ctx context.Context) error

// Isolator is a single-thread task queue. The zero value is not usable; use New.
type Isolator struct {
	name   string
	mode   Mode
	logger *slog.Logger

	// admit holds one token per admitted unit; capacity 1 keeps units serial.
	// The token is released by the executing thread, not the caller, so an
	// interrupted caller cannot let a second unit overlap the first.
	admit chan struct{}
	tasks chan *task

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	threads atomic.Int64
	running atomic.Int32
}

type task struct {
	ctx  context.Context
	fn   Func
	done chan error
}

// New creates an isolator and, in ModeReuse, starts its thread.
func New(name string, mode Mode) *Isolator {
	if mode == "" {
		mode = ModeReuse
	}
	i := &Isolator{
		name:   name,
		mode:   mode,
		logger: log.WithComponent("isolate").With("executor", name),
		admit:  make(chan struct{}, 1),
		tasks:  make(chan *task),
		done:   make(chan struct{}),
	}
	if mode == ModeReuse {
		go i.loop()
	}
	return i
}

// Name returns the executor name.
func (i *Isolator) Name() string { return i.name }

// Mode returns the isolation mode.
func (i *Isolator) Mode() Mode { return i.mode }

// Threads reports how many dedicated threads have been started so far.
func (i *Isolator) Threads() int64 { return i.threads.Load() }

// Run submits fn and blocks until it completes on the isolator thread.
//
// A panic or runtime.Goexit inside fn is captured and returned as the
// outcome; it never reaches the caller's goroutine. If ctx ends first, Run
// returns an error wrapping ErrInterrupted and ctx.Err(); fn still runs to
// completion and the next Run waits for it.
func (i *Isolator) Run(ctx context.Context, fn Func) error {
	if i.closed.Load() {
		return ErrClosed
	}

	select {
	case i.admit <- struct{}{}:
	case <-i.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}

	// Values such as trace spans carry into the unit; cancellation does not.
	t := &task{ctx: context.WithoutCancel(ctx), fn: fn, done: make(chan error, 1)}

	if i.mode == ModeFresh {
		go i.runFresh(t)
	} else {
		select {
		case i.tasks <- t:
		case <-i.done:
			<-i.admit
			return ErrClosed
		}
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

// Close stops the reuse thread once it is idle. Units already admitted still
// complete. Close is idempotent.
func (i *Isolator) Close() {
	i.closeOnce.Do(func() {
		i.closed.Store(true)
		close(i.done)
	})
}

func (i *Isolator) loop() {
	runtime.LockOSThread()
	i.threads.Add(1)
	i.logger.Debug("executor thread started")

	clean := false
	defer func() {
		if clean {
			runtime.UnlockOSThread()
			return
		}
		// A unit called runtime.Goexit. The thread stays locked so the
		// runtime retires it with whatever state the unit left behind.
		i.logger.Warn("executor thread terminated by unit of work, replacing it")
		if !i.closed.Load() {
			go i.loop()
		}
	}()

	for {
		select {
		case t := <-i.tasks:
			i.execute(t)
		case <-i.done:
			clean = true
			return
		}
	}
}

// runFresh executes t on a new locked thread and returns without unlocking,
// which retires the thread.
func (i *Isolator) runFresh(t *task) {
	runtime.LockOSThread()
	i.threads.Add(1)
	i.execute(t)
}

func (i *Isolator) execute(t *task) {
	if n := i.running.Add(1); n != 1 {
		// Admission makes this unreachable.
		panic(fmt.Sprintf("isolate: %d units running concurrently", n))
	}

	var err error
	finished := false
	defer func() {
		if !finished {
			if r := recover(); r != nil {
				err = newPanicError(r)
			} else {
				err = ErrThreadExited
			}
		}
		i.running.Add(-1)
		t.done <- err
		<-i.admit
	}()

	err = t.fn(t.ctx)
	finished = true
}
