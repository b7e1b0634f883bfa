package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Processor handles one dequeued work-item ID. Implementations own their
// error handling; anything that escapes (including a panic) is logged and
// isolated to that one item.
type Processor func(ctx context.Context, id int64)

// Pool runs a fixed set of workers that block-poll a queue and invoke the
// processor. The poll timeout bounds shutdown latency without busy-waiting.
type Pool struct {
	name        string
	queue       Queue
	workers     int
	pollTimeout time.Duration
	process     Processor
	log         zerolog.Logger

	stop       chan struct{}
	workCtx    context.Context
	workCancel context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	mu         sync.Mutex
}

// NewPool creates a worker pool. workers defaults to 4 when non-positive.
func NewPool(name string, q Queue, workers int, process Processor, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	workCtx, workCancel := context.WithCancel(context.Background())
	return &Pool{
		name:        name,
		queue:       q,
		workers:     workers,
		pollTimeout: time.Second,
		process:     process,
		log:         log.With().Str("component", "worker_pool").Str("pool", name).Logger(),
		stop:        make(chan struct{}),
		workCtx:     workCtx,
		workCancel:  workCancel,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.log.Warn().Msg("pool already started, ignoring")
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")
}

// worker poll-loops until the start context is canceled or Stop is called.
// The loop context only gates picking up NEW work; in-flight items run under
// the pool's own work context so a shutdown signal does not abort them
// mid-item. That context is canceled only once the stop grace expires.
func (p *Pool) worker(ctx context.Context, idx int) {
	defer p.wg.Done()
	for {
		// Fast-exit check so a closed stop channel wins over queued work.
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		id, ok := p.queue.Poll(p.pollTimeout)
		if !ok {
			continue
		}
		p.runOne(id, idx)
	}
}

// runOne invokes the processor with panic isolation: one bad item must not
// take down the worker loop.
func (p *Pool) runOne(id int64, idx int) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int64("item_id", id).Int("worker", idx).
				Interface("panic", r).Msg("processor panicked")
		}
	}()
	p.process(p.workCtx, id)
}

// Stop signals the workers to finish and waits up to grace for in-flight
// items, then force-cancels whatever is still running and returns. Workers
// never pick up new items after Stop is called.
func (p *Pool) Stop(grace time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("worker pool stopped")
	case <-time.After(grace):
		p.log.Warn().Dur("grace", grace).Msg("worker pool did not drain within grace period")
	}
	p.workCancel()
}
