package embedding

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mementolabs/memento/internal/storage"
)

// Job is one pending embedding computation for a stored memory.
type Job struct {
	MemoryID string
	Content  string
	Queued   time.Time
	Attempt  int
}

// QueueConfig tunes the async embedding pipeline.
type QueueConfig struct {
	// Size is the queue capacity (default 1000). When full, the oldest
	// pending job is dropped to admit the new one.
	Size int

	// Workers is the number of concurrent embed workers (default 2).
	Workers int

	// MaxRetries bounds re-attempts for a failing job (default 2).
	MaxRetries int
}

// Queue computes embeddings asynchronously so memory writes acknowledge
// without waiting on a provider round trip. Jobs for memories deleted before
// their turn fail with not-found and are discarded.
type Queue struct {
	cfg      QueueConfig
	embedder Embedder
	store    storage.EmbeddingStore
	logger   *log.Logger

	mu      sync.Mutex
	pending []*Job
	wake    chan struct{}

	// quit asks workers to drain the backlog and exit; ctx cancellation
	// aborts in-flight provider calls when the drain deadline expires.
	quit     chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropped uint64
}

// NewQueue builds the pipeline; Start must be called before Enqueue has any
// effect beyond buffering.
func NewQueue(embedder Embedder, store storage.EmbeddingStore, logger *log.Logger, cfg QueueConfig) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Enqueue adds a job, dropping the oldest pending job when the queue is at
// capacity. It never blocks the caller.
func (q *Queue) Enqueue(memoryID, content string) {
	select {
	case <-q.quit:
		return
	default:
	}
	if q.ctx.Err() != nil {
		return
	}

	job := &Job{MemoryID: memoryID, Content: content, Queued: time.Now()}

	q.mu.Lock()
	if len(q.pending) >= q.cfg.Size {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		q.dropped++
		if q.logger != nil {
			q.logger.Printf("WARNING: embedding queue full (size=%d), dropping oldest job for memory %s",
				q.cfg.Size, dropped.MemoryID)
		}
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Stop shuts the pool down after draining pending work. Workers keep
// processing the backlog until it is empty; Stop blocks until they exit or
// ctx expires, at which point the remaining jobs are cancelled and abandoned.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.quit) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped reports how many jobs were discarded due to a full queue.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) take() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		job := q.take()
		if job == nil {
			// The backlog is empty; a quit signal now means the drain
			// is complete.
			select {
			case <-q.ctx.Done():
				return
			case <-q.quit:
				return
			case <-q.wake:
				continue
			}
		}
		q.process(job)
	}
}

func (q *Queue) process(job *Job) {
	res, err := q.embedder.EmbedText(q.ctx, job.Content)
	if err != nil {
		q.retryOrDrop(job, err)
		return
	}

	if err := q.store.UpsertEmbedding(q.ctx, job.MemoryID, res.Vector, res.Provider); err != nil {
		// The memory may have been hard-deleted while the job waited.
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		q.retryOrDrop(job, err)
		return
	}
}

func (q *Queue) retryOrDrop(job *Job, cause error) {
	if q.ctx.Err() != nil {
		return
	}
	if job.Attempt >= q.cfg.MaxRetries {
		if q.logger != nil {
			q.logger.Printf("embedding: giving up on memory %s after %d attempts: %v",
				job.MemoryID, job.Attempt+1, cause)
		}
		return
	}
	job.Attempt++

	q.mu.Lock()
	if len(q.pending) < q.cfg.Size {
		q.pending = append(q.pending, job)
	}
	q.mu.Unlock()
}
