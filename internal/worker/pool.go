// Package worker provides a bounded pool that runs build tasks by priority.
//
// Tasks belong to a group (a file uri) and carry a rank (its version).
// Submitting a task demotes every queued task of the same group with a lower
// rank, so builds for the newest version of a file run first. Demoted tasks
// still run; they are never dropped.
package worker

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("worker")

var (
	// ErrClosed is returned for tasks submitted to or queued in a closed pool.
	ErrClosed = errors.New("worker pool closed")
)

// Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskQueue
	seq     uint64
	running int
	closed  bool
	wg      sync.WaitGroup
}

type task struct {
	ctx     context.Context
	group   string
	rank    int
	seq     uint64
	demoted bool
	fn      func(context.Context)
	done    chan error
	index   int
}

// New starts a pool with n workers. n <= 0 uses GOMAXPROCS.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.work()
	}
	return p
}

// Do queues fn and blocks until it has run. If ctx ends while the task is
// still queued the task is skipped and ctx's error returned; once started, fn
// runs to completion with ctx.
func (p *Pool) Do(ctx context.Context, group string, rank int, fn func(context.Context)) error {
	t := &task{
		ctx:   ctx,
		group: group,
		rank:  rank,
		fn:    fn,
		done:  make(chan error, 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.seq++
	t.seq = p.seq
	for _, queued := range p.queue {
		if queued.group == group && queued.rank < rank && !queued.demoted {
			queued.demoted = true
			heap.Fix(&p.queue, queued.index)
		}
	}
	heap.Push(&p.queue, t)
	p.cond.Signal()
	p.mu.Unlock()

	return <-t.done
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Close stops the workers after running tasks finish. Queued tasks fail
// with ErrClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, t := range pending {
		t.done <- ErrClosed
	}
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		t := heap.Pop(&p.queue).(*task)
		if err := t.ctx.Err(); err != nil {
			p.mu.Unlock()
			t.done <- err
			continue
		}
		p.running++
		p.mu.Unlock()

		p.run(t)

		p.mu.Lock()
		p.running--
		p.mu.Unlock()
	}
}

func (p *Pool) run(t *task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("task for %s@%d panicked: %v", t.group, t.rank, r)
		}
		t.done <- nil
	}()
	t.fn(t.ctx)
}

// taskQueue orders tasks: current before demoted, then submission order.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].demoted != q[j].demoted {
		return !q[i].demoted
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
