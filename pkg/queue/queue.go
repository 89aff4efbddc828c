// Package queue serializes every transaction on the shared link behind one
// dispatcher goroutine, in strict priority order.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"shelter-engine/pkg/config"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/metrics"
	"shelter-engine/pkg/transport"
)

// ErrStopped is returned for submissions after the dispatcher has stopped
var ErrStopped = errors.New("command queue stopped")

// Priority is a dispatch class. Lower values dispatch first.
type Priority int

const (
	// High is used for operator writes
	High Priority = iota
	// Normal is used for ad-hoc and operator reads
	Normal
	// Low is used for background polling
	Low

	numPriorities = 3
)

// String returns the string representation of the priority
func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// LinkObserver is told about every dispatched transaction's link outcome
type LinkObserver interface {
	RecordSuccess()
	RecordFailure(err error)
}

const (
	jobQueued int32 = iota
	jobDispatched
	jobAbandoned
)

type result struct {
	resp *transport.Response
	err  error
}

type job struct {
	req      transport.Request
	priority Priority
	state    atomic.Int32
	done     chan result
}

// Queue owns the transport; nothing else may call it directly
type Queue struct {
	transport transport.Transport
	settings  config.QueueSettings
	log       logger.ILogger
	metrics   metrics.MetricsCollector
	observer  LinkObserver

	mu      sync.Mutex
	pending [numPriorities][]*job
	depth   int
	started bool
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// Option configures a Queue
type Option func(*Queue)

// WithMetrics reports dispatch metrics to m
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLinkObserver reports link outcomes to o
func WithLinkObserver(o LinkObserver) Option {
	return func(q *Queue) { q.observer = o }
}

// New creates a queue in front of t; call Start to begin dispatching
func New(t transport.Transport, settings config.QueueSettings, log logger.ILogger, opts ...Option) *Queue {
	if settings.TransactionTimeout <= 0 {
		settings.TransactionTimeout = 2 * time.Second
	}
	q := &Queue{
		transport: t,
		settings:  settings,
		log:       log,
		metrics:   metrics.NewNullMetrics(),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the dispatcher. It stops when ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.dispatch(ctx)
}

// Stop halts the dispatcher and fails every pending submission with
// ErrStopped. A transaction already on the link completes first.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	close(q.quit)
	if started {
		<-q.done
	} else {
		q.failPending()
	}
}

// Submit enqueues req and blocks until it has been executed.
// If ctx ends while req is still queued it is withdrawn and ctx.Err() is
// returned; once dispatched, the transaction runs to completion under the
// queue's own transaction timeout.
func (q *Queue) Submit(ctx context.Context, p Priority, req transport.Request) (*transport.Response, error) {
	if p < High || p > Low {
		p = Low
	}
	j := &job{req: req, priority: p, done: make(chan result, 1)}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrStopped
	}
	q.pending[p] = append(q.pending[p], j)
	q.depth++
	depth := q.depth
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case r := <-j.done:
		return r.resp, r.err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobQueued, jobAbandoned) {
			q.withdraw(j)
			return nil, ctx.Err()
		}
		r := <-j.done
		return r.resp, r.err
	}
}

// Depth returns the number of queued, not yet dispatched transactions
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// withdraw removes an abandoned job that the dispatcher has not popped yet
func (q *Queue) withdraw(j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := q.pending[j.priority]
	for i, queued := range jobs {
		if queued != j {
			continue
		}
		copy(jobs[i:], jobs[i+1:])
		jobs[len(jobs)-1] = nil
		q.pending[j.priority] = jobs[:len(jobs)-1]
		q.depth--
		q.metrics.SetQueueDepth(q.depth)
		return
	}
}

// next pops the oldest job of the highest non-empty priority
func (q *Queue) next() *job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := range q.pending {
		if len(q.pending[p]) == 0 {
			continue
		}
		j := q.pending[p][0]
		q.pending[p][0] = nil
		q.pending[p] = q.pending[p][1:]
		q.depth--
		q.metrics.SetQueueDepth(q.depth)
		return j
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context) {
	defer close(q.done)
	defer q.failPending()

	for {
		select {
		case <-q.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		j := q.next()
		if j == nil {
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			case <-ctx.Done():
				return
			}
		}

		if !j.state.CompareAndSwap(jobQueued, jobDispatched) {
			continue
		}
		q.execute(ctx, j)

		if q.settings.InterFrameDelay > 0 {
			select {
			case <-time.After(q.settings.InterFrameDelay):
			case <-q.quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (q *Queue) execute(ctx context.Context, j *job) {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.settings.TransactionTimeout)
	defer cancel()

	start := time.Now()
	resp, err := q.transport.Execute(txCtx, j.req)
	elapsed := time.Since(start)

	q.metrics.ObserveTransaction(j.priority.String(), elapsed, err)
	if q.observer != nil {
		if err != nil && transport.IsLinkFailure(err) {
			q.observer.RecordFailure(err)
		} else {
			q.observer.RecordSuccess()
		}
	}
	if err != nil {
		q.log.LogDebug("%s transaction %s failed after %v: %v", j.priority, j.req.Descriptor, elapsed, err)
	}

	j.done <- result{resp: resp, err: err}
}

func (q *Queue) failPending() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	for p := range q.pending {
		for _, j := range q.pending[p] {
			if j.state.CompareAndSwap(jobQueued, jobDispatched) {
				j.done <- result{err: ErrStopped}
			}
		}
		q.pending[p] = nil
	}
	q.depth = 0
	q.metrics.SetQueueDepth(0)
}
