package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"slide_analyzer/internal/observability"

	"github.com/sirupsen/logrus"
)

var (
	ErrSaturated = errors.New("worker pool and queue are full")
	ErrClosed    = errors.New("worker pool is shut down")
)

// Job is one unit of work. ctx is cancelled when a shutdown grace period
// runs out, so jobs still queued or running at that point see ctx.Err().
type Job func(ctx context.Context)

type Executor interface {
	Submit(job Job) error
}

type Options struct {
	CoreSize      int
	MaxSize       int
	QueueCapacity int
	KeepAlive     time.Duration
	Metrics       *observability.Metrics
}

// Pool runs jobs on a bounded set of goroutines. CoreSize workers stay
// alive; under load up to MaxSize run, the extras exiting after KeepAlive
// without work. Submission never blocks.
type Pool struct {
	core      int
	max       int
	keepAlive time.Duration
	metrics   *observability.Metrics

	mu      sync.Mutex
	queue   chan Job
	workers int
	closed  bool

	busy atomic.Int32
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Pool {
	if opts.CoreSize < 1 {
		opts.CoreSize = 1
	}
	if opts.MaxSize < opts.CoreSize {
		opts.MaxSize = opts.CoreSize
	}
	if opts.QueueCapacity < 0 {
		opts.QueueCapacity = 0
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		core:      opts.CoreSize,
		max:       opts.MaxSize,
		keepAlive: opts.KeepAlive,
		metrics:   opts.Metrics,
		queue:     make(chan Job, opts.QueueCapacity),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit hands job to the pool: a new core worker if below CoreSize, else
// the queue, else a new overflow worker if below MaxSize. Otherwise it
// returns ErrSaturated and job is not run.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	if p.workers < p.core {
		p.startLocked(job, false)
		return nil
	}

	select {
	case p.queue <- job:
		p.observeQueue()
		return nil
	default:
	}

	if p.workers < p.max {
		p.startLocked(job, true)
		return nil
	}

	if p.metrics != nil {
		p.metrics.PoolRejectedTotal.Inc()
	}
	return ErrSaturated
}

func (p *Pool) startLocked(first Job, overflow bool) {
	p.workers++
	if p.metrics != nil {
		p.metrics.PoolWorkers.Set(float64(p.workers))
	}
	p.wg.Add(1)
	go p.work(first, overflow)
}

func (p *Pool) work(first Job, overflow bool) {
	defer p.wg.Done()

	p.run(first)

	if !overflow {
		for job := range p.queue {
			p.observeQueue()
			p.run(job)
		}
		p.exit()
		return
	}

	idle := time.NewTimer(p.keepAlive)
	defer idle.Stop()
	for {
		select {
		case job, ok := <-p.queue:
			if !ok {
				p.exit()
				return
			}
			p.observeQueue()
			p.run(job)
			idle.Reset(p.keepAlive)
		case <-idle.C:
			if p.retireIdle() {
				return
			}
			idle.Reset(p.keepAlive)
		}
	}
}

// retireIdle removes an overflow worker unless work is waiting.
func (p *Pool) retireIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 || p.workers <= p.core {
		return false
	}
	p.workers--
	if p.metrics != nil {
		p.metrics.PoolWorkers.Set(float64(p.workers))
	}
	return true
}

func (p *Pool) exit() {
	p.mu.Lock()
	p.workers--
	n := p.workers
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.PoolWorkers.Set(float64(n))
	}
}

func (p *Pool) run(job Job) {
	n := p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.PoolBusyWorkers.Set(float64(n))
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("Recovered panic in pool job")
		}
		n := p.busy.Add(-1)
		if p.metrics != nil {
			p.metrics.PoolBusyWorkers.Set(float64(n))
		}
	}()
	job(p.ctx)
}

func (p *Pool) observeQueue() {
	if p.metrics != nil {
		p.metrics.PoolQueueDepth.Set(float64(len(p.queue)))
	}
}

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Shutdown stops intake and waits for queued and running jobs. If ctx
// expires first, the job context is cancelled and Shutdown waits for the
// remaining jobs to observe it before returning ctx.Err().
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		logrus.Info("Worker pool drained")
		return nil
	case <-ctx.Done():
		logrus.WithField("queued", len(p.queue)).Warn("Shutdown grace period expired, interrupting remaining jobs")
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Inline runs each job on the caller's goroutine. Tests use it to make
// dispatch deterministic.
type Inline struct {
	Ctx context.Context
}

func (i Inline) Submit(job Job) error {
	ctx := i.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	job(ctx)
	return nil
}
