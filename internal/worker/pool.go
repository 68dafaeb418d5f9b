// Package worker runs pose estimation and frame processing on a fixed set of
// workers, each owning its own estimator.
//
// Jobs are routed by key. All jobs with the same key run on the same worker in
// submission order; jobs with different keys usually run on different workers
// and do not wait on one another.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"

	"github.com/ayusman/formcheck/internal/pose"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("worker pool closed")

// Defaults for Config.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 8
)

// Job is a unit of work. It receives the estimator owned by the worker running it.
type Job func(est pose.Estimator)

// Config holds pool options.
type Config struct {
	// Workers is the number of workers and estimators.
	Workers int
	// QueueSize is the number of pending jobs each worker buffers.
	QueueSize int
}

// EstimatorFactory creates the estimator for one worker.
type EstimatorFactory func(worker int) (pose.Estimator, error)

// Pool is a sharded worker pool.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	shards []*shard
	wg     sync.WaitGroup
}

type shard struct {
	jobs chan Job
	est  pose.Estimator
}

// New starts a pool. If any estimator cannot be created, the ones already created
// are closed and the error is returned.
func New(config Config, factory EstimatorFactory) (*Pool, error) {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	p := &Pool{shards: make([]*shard, 0, config.Workers)}
	for i := 0; i < config.Workers; i++ {
		est, err := factory(i)
		if err != nil {
			for _, s := range p.shards {
				s.est.Close()
			}
			return nil, fmt.Errorf("create estimator %d: %w", i, err)
		}
		p.shards = append(p.shards, &shard{
			jobs: make(chan Job, config.QueueSize),
			est:  est,
		})
	}

	for _, s := range p.shards {
		p.wg.Add(1)
		go p.run(s)
	}

	return p, nil
}

func (p *Pool) run(s *shard) {
	defer p.wg.Done()
	for job := range s.jobs {
		job(s.est)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.shards)
}

// Submit queues job on the worker for key. It blocks while that worker's queue is
// full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, key string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	s := p.shards[p.shardFor(key)]
	select {
	case s.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the worker for key and waits for it to finish. If ctx is done
// before fn starts running, Do returns ctx.Err() and fn may still run later.
func (p *Pool) Do(ctx context.Context, key string, fn func(est pose.Estimator) error) error {
	done := make(chan error, 1)
	err := p.Submit(ctx, key, func(est pose.Estimator) {
		done <- fn(est)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, waits for queued jobs to finish and closes every
// estimator.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, s := range p.shards {
		close(s.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()

	var errs []error
	for i, s := range p.shards {
		if err := s.est.Close(); err != nil {
			log.Printf("Error closing estimator %d: %v", i, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}
