package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ErrExecutorClosed is returned when attempting to use a closed executor.
var ErrExecutorClosed = errors.New("lua executor is closed")

// job is one Lua operation queued on an executor.
type job struct {
	ctx    context.Context
	fn     func(L *lua.LState) error
	result chan error
}

// executor runs every operation on a plugin's LState from one goroutine.
// An LState is not goroutine-safe, so nothing else may touch it.
type executor struct {
	L     *lua.LState
	queue chan *job

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

func newExecutor(L *lua.LState, queueSize int) *executor {
	if queueSize <= 0 {
		queueSize = 64
	}
	e := &executor{
		L:       L,
		queue:   make(chan *job, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.drain()
			return
		case j := <-e.queue:
			j.result <- e.execute(j)
		}
	}
}

// execute runs one job with the job's context installed on the state, so a
// cancelled or timed-out caller stops the running script.
func (e *executor) execute(j *job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	e.L.SetContext(j.ctx)
	defer e.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return j.fn(e.L)
}

func (e *executor) drain() {
	for {
		select {
		case j := <-e.queue:
			j.result <- ErrExecutorClosed
		default:
			return
		}
	}
}

// Execute queues fn and waits for it, or for ctx.
func (e *executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	j := &job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- j:
	}

	select {
	case <-ctx.Done():
		// The job still runs, and stops at its next instruction.
		return ctx.Err()
	case err := <-j.result:
		return err
	case <-e.stopped:
		return ErrExecutorClosed
	}
}

// Close stops the executor after the running job and closes the state.
func (e *executor) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		<-e.stopped
		e.L.Close()
	})
}
