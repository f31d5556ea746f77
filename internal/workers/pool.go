// Package workers runs units of work on a fixed number of goroutines.
package workers

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/sirupsen/logrus"
)

// ErrInvalidSize is returned when a pool is requested with fewer than one worker.
var ErrInvalidSize = errors.New("worker pool needs at least one worker")

// Pool runs submitted units on at most Size() goroutines at a time. Units that
// arrive while every worker is busy wait in an unbounded queue, so Execute never
// blocks the caller.
type Pool struct {
	size   int
	pool   pond.Pool
	logger *logrus.Logger

	joinOnce sync.Once

	// Called with the recovered value whenever a unit panics.
	OnPanic func(v interface{})
}

// New creates a pool of n workers.
func New(n int, logger *logrus.Logger) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, n)
	}
	return &Pool{
		size:   n,
		pool:   pond.NewPool(n),
		logger: logger,
	}, nil
}

// Execute queues unit to run on the next free worker. A panic inside unit is
// recovered and logged; it never takes down the worker or any other unit.
// Units submitted after Join are dropped.
func (p *Pool) Execute(unit func()) {
	if p.pool.Stopped() {
		p.logger.Warn("worker pool is stopped, dropping unit of work")
		return
	}
	p.pool.Submit(func() {
		defer p.recoverUnit()
		unit()
	})
}

func (p *Pool) recoverUnit() {
	if err := recover(); err != nil {
		p.logger.Errorf("recovered from panic in worker: error=%v, trace: %s", err, debug.Stack())
		if p.OnPanic != nil {
			p.OnPanic(err)
		}
	}
}

// Join blocks until every queued and in-flight unit has finished. The pool does
// not accept work afterwards. Calling Join more than once is safe.
func (p *Pool) Join() {
	p.joinOnce.Do(p.pool.StopAndWait)
}

// Size returns the maximum number of units that run concurrently.
func (p *Pool) Size() int { return p.size }

// Running returns the number of units currently executing.
func (p *Pool) Running() int64 { return p.pool.RunningWorkers() }

// Waiting returns the number of units queued for a free worker.
func (p *Pool) Waiting() uint64 { return p.pool.WaitingTasks() }

