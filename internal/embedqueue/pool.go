// Package embedqueue embeds leads in the background after they are written.
package embedqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxRetries = 3

type Job struct {
	LeadID string
	// UserID picks whose saved provider key is used; empty means the server key.
	UserID     string
	Attempt    int
	EnqueuedAt time.Time
}

// ProcessFunc embeds one lead. Returning an error schedules a retry.
type ProcessFunc func(ctx context.Context, job Job) error

type Observer func(outcome string)

type Pool struct {
	jobs       chan Job
	quit       chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
	stopped    bool
	numWorkers int
	timeout    time.Duration
	process    ProcessFunc
	observe    Observer
	logger     *zap.Logger
}

type Options struct {
	Workers       int
	QueueCapacity int
	// JobTimeout bounds a single embedding call.
	JobTimeout time.Duration
	Observer   Observer
	Logger     *zap.Logger
}

func New(process ProcessFunc, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 100
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = func(string) {}
	}
	return &Pool{
		jobs:       make(chan Job, opts.QueueCapacity),
		quit:       make(chan struct{}),
		numWorkers: opts.Workers,
		timeout:    opts.JobTimeout,
		process:    process,
		observe:    opts.Observer,
		logger:     opts.Logger.Named("embedqueue"),
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.logger.Debug("worker started", zap.Int("worker_id", workerID))
			for {
				select {
				case <-p.quit:
					return
				case job := <-p.jobs:
					p.run(workerID, job)
				}
			}
		}(i + 1)
	}
}

func (p *Pool) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.process(ctx, job)
	if err == nil {
		p.observe("success")
		return
	}

	job.Attempt++
	if job.Attempt >= maxRetries {
		p.observe("failed")
		p.logger.Error("embedding job gave up",
			zap.Int("worker_id", workerID),
			zap.String("lead_id", job.LeadID),
			zap.Int("attempts", job.Attempt),
			zap.Error(err))
		return
	}
	p.observe("retry")
	p.logger.Warn("embedding job failed, retrying",
		zap.String("lead_id", job.LeadID),
		zap.Int("attempt", job.Attempt),
		zap.Error(err))
	if !p.Enqueue(job) {
		p.observe("dropped")
	}
}

// Enqueue never blocks; it reports false when the queue is full or stopped.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop signals workers to exit and waits until they do or ctx ends.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		p.logger.Warn("timeout waiting for embed workers to stop")
	case <-done:
		p.logger.Info("embed workers stopped")
	}
}

func (p *Pool) Pending() int {
	return len(p.jobs)
}
