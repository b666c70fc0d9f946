// Package worker provides the bounded pool that executes all store writes and
// remote-call orchestration off the caller's goroutine. Jobs sharing a key are
// routed to the same worker, which gives single-writer-per-key ordering; no
// ordering holds between keys.
package worker

import (
	"errors"
	"hash/fnv"
	"sync"
)

const DefaultWorkers = 4

var ErrStopped = errors.New("worker pool stopped")

type Pool struct {
	queues []chan func()
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool starts n workers (DefaultWorkers when n <= 0).
func NewPool(n int) *Pool {
	if n <= 0 {
		n = DefaultWorkers
	}
	p := &Pool{queues: make([]chan func(), n)}
	for i := range p.queues {
		q := make(chan func(), 64)
		p.queues[i] = q
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range q {
				job()
			}
		}()
	}
	return p
}

// Submit queues a job. Jobs submitted with equal keys run in submission order
// on a single worker. Blocks when the target queue is full.
//
// The read lock is held across the send: Stop's write lock cannot close the
// queue while a send is in flight.
func (p *Pool) Submit(key string, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	p.queues[p.shard(key)] <- job
	return nil
}

// Run executes a job on the pool and waits for it. Used for operations whose
// result the caller needs synchronously while still holding the per-key
// ordering guarantee.
func (p *Pool) Run(key string, job func() error) error {
	done := make(chan error, 1)
	if err := p.Submit(key, func() { done <- job() }); err != nil {
		return err
	}
	return <-done
}

// Stop rejects new jobs and waits for every queued job to finish. Queued work
// is drained, not interrupted, so no row is left half written.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}

func (p *Pool) shard(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}
