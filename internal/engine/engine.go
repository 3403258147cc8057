// Package engine composes storage, embedding, retrieval, forgetting, and
// injection into the memory service's operation surface. One Engine owns the
// background workers; Start and Stop bracket its lifetime.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mementolabs/memento/internal/embedding"
	"github.com/mementolabs/memento/internal/forgetting"
	"github.com/mementolabs/memento/internal/inject"
	"github.com/mementolabs/memento/internal/ranking"
	"github.com/mementolabs/memento/internal/retrieval"
	"github.com/mementolabs/memento/internal/scheduler"
	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

// ErrNotRunning is returned for operations on a stopped engine.
var ErrNotRunning = errors.New("engine not running")

// Options configures a new engine.
type Options struct {
	// Weights is the ranking blend (zero value: defaults).
	Weights ranking.Weights

	// SearchTimeout bounds one search (default 5s).
	SearchTimeout time.Duration

	// Forgetting tunes the decay controller (zero value: defaults).
	Forgetting forgetting.Config

	// Queue tunes the async embedding pipeline.
	Queue embedding.QueueConfig

	// Intervals tunes the maintenance scheduler.
	Intervals scheduler.Intervals

	// CacheSweep runs on the cache interval, e.g. to trim the embedding
	// cache. Optional.
	CacheSweep func(ctx context.Context)

	Logger *log.Logger
}

// Engine is the composed memory service.
type Engine struct {
	gw       storage.Gateway
	embedder embedding.Embedder
	searcher *retrieval.Searcher
	injector *inject.Injector
	queue    *embedding.Queue
	forget   *forgetting.Controller
	sched    *scheduler.Scheduler
	logger   *log.Logger
	retry    storage.RetryPolicy

	mu            sync.RWMutex
	weights       ranking.Weights
	searchTimeout time.Duration

	running bool
	runMu   sync.Mutex
}

// New wires an engine over a storage gateway. embedder may be nil; the
// service then operates lexical-only.
func New(gw storage.Gateway, embedder embedding.Embedder, opts Options) *Engine {
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	if opts.Weights == (ranking.Weights{}) {
		opts.Weights = ranking.DefaultWeights()
	}

	e := &Engine{
		gw:            gw,
		embedder:      embedder,
		logger:        opts.Logger,
		retry:         storage.DefaultRetryPolicy(),
		weights:       opts.Weights.Normalize(),
		searchTimeout: opts.SearchTimeout,
	}

	e.searcher = retrieval.NewSearcher(gw, embedder, opts.Logger)
	e.injector = inject.NewInjector(e.searcher)
	e.forget = forgetting.NewController(gw, opts.Forgetting, opts.Logger)
	if embedder != nil {
		e.queue = embedding.NewQueue(embedder, gw, opts.Logger, opts.Queue)
	}
	e.sched = scheduler.New(opts.Intervals, scheduler.Jobs{
		ForgetSweep:    e.forget.Sweep,
		CollectMetrics: e.collectMetrics,
		CacheSweep:     opts.CacheSweep,
		Checkpoint:     e.gw.Checkpoint,
	}, opts.Logger)

	return e
}

// Start launches the embedding workers and the maintenance scheduler.
func (e *Engine) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return scheduler.ErrAlreadyRunning
	}
	if e.queue != nil {
		e.queue.Start()
	}
	if err := e.sched.Start(); err != nil {
		return err
	}
	e.running = true
	return nil
}

// Stop drains the embedding queue, halts the scheduler, and closes the
// gateway. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false

	e.sched.Stop()
	if e.queue != nil {
		if err := e.queue.Stop(ctx); err != nil && e.logger != nil {
			e.logger.Printf("engine: embedding queue drain: %v", err)
		}
	}
	return e.gw.Close()
}

// SetRankingWeights swaps the score blend; subsequent searches use it.
func (e *Engine) SetRankingWeights(w ranking.Weights) {
	e.mu.Lock()
	e.weights = w.Normalize()
	e.mu.Unlock()
}

// SetForgettingConfig swaps decay tunables for the next sweep.
func (e *Engine) SetForgettingConfig(cfg forgetting.Config) {
	e.forget.SetConfig(cfg)
}

// StoreRequest carries one new memory.
type StoreRequest struct {
	Content      string
	Type         types.MemoryType
	Tags         []string
	Importance   float64
	Source       string
	PrivacyScope types.PrivacyScope
	Project      string
	User         string
	Agent        string

	// DerivedFrom links the new memory to its origin.
	DerivedFrom string
}

// StoreResult acknowledges a committed memory.
type StoreResult struct {
	MemoryID        string
	EmbeddingQueued bool
}

// Store validates, commits, and queues the embedding. The write is durable
// once Store returns; the vector lands asynchronously.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	m := &types.Memory{
		ID:           "mem-" + uuid.NewString(),
		Type:         req.Type,
		Content:      content,
		Importance:   req.Importance,
		PrivacyScope: req.PrivacyScope,
		CreatedAt:    time.Now().UTC(),
		Tags:         req.Tags,
		Source:       req.Source,
		Project:      req.Project,
		User:         req.User,
		Agent:        req.Agent,
	}
	if m.Type == "" {
		m.Type = types.TypeSemantic
	}
	if m.PrivacyScope == "" {
		m.PrivacyScope = types.ScopePrivate
	}
	if m.Importance == 0 {
		m.Importance = types.DefaultImportance
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	err := storage.WithRetry(ctx, e.retry, func() error {
		return e.gw.InsertMemory(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	if req.DerivedFrom != "" {
		link := &types.Link{
			SourceID:  m.ID,
			TargetID:  req.DerivedFrom,
			Relation:  types.RelationDerivedFrom,
			CreatedAt: m.CreatedAt,
		}
		if err := e.gw.InsertLink(ctx, link); err != nil && e.logger != nil {
			e.logger.Printf("engine: derived_from link for %s: %v", m.ID, err)
		}
	}

	queued := false
	if e.queue != nil {
		e.queue.Enqueue(m.ID, m.Content)
		queued = true
	}
	return &StoreResult{MemoryID: m.ID, EmbeddingQueued: queued}, nil
}

// Search runs hybrid retrieval and bumps view counters on the returned
// memories. View bumps do not refresh last_accessed; only explicit cite or
// use feedback does.
func (e *Engine) Search(ctx context.Context, query string, filter types.Filter, limit int) (*retrieval.Result, error) {
	e.mu.RLock()
	weights := e.weights
	timeout := e.searchTimeout
	e.mu.RUnlock()

	res, err := e.searcher.Search(ctx, query, filter, retrieval.Options{
		Limit:   limit,
		Weights: weights,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	for i := range res.Items {
		id := res.Items[i].Memory.ID
		if err := e.gw.UpdateFlags(ctx, id, storage.FlagUpdate{AddViews: 1}); err != nil && e.logger != nil {
			e.logger.Printf("engine: view count for %s: %v", id, err)
		}
	}
	return res, nil
}

// PinResult reports a pin or unpin.
type PinResult struct {
	ID            string
	Pinned        bool
	AlreadyPinned bool
}

// Pin marks a memory exempt from forgetting.
func (e *Engine) Pin(ctx context.Context, id string) (*PinResult, error) {
	m, err := e.gw.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Pinned {
		return &PinResult{ID: id, Pinned: true, AlreadyPinned: true}, nil
	}

	pinned := true
	err = storage.WithRetry(ctx, e.retry, func() error {
		return e.gw.UpdateFlags(ctx, id, storage.FlagUpdate{Pinned: &pinned})
	})
	if err != nil {
		return nil, err
	}
	return &PinResult{ID: id, Pinned: true}, nil
}

// Unpin clears the exemption.
func (e *Engine) Unpin(ctx context.Context, id string) (*PinResult, error) {
	if _, err := e.gw.GetMemory(ctx, id); err != nil {
		return nil, err
	}

	pinned := false
	err := storage.WithRetry(ctx, e.retry, func() error {
		return e.gw.UpdateFlags(ctx, id, storage.FlagUpdate{Pinned: &pinned})
	})
	if err != nil {
		return nil, err
	}
	return &PinResult{ID: id, Pinned: false}, nil
}

// ForgetResult reports a deletion.
type ForgetResult struct {
	ID   string
	Mode string // "soft" or "hard"
}

// Forget removes a memory. Soft mode demotes the row in place; hard mode
// deletes it with its embedding, links, and feedback.
func (e *Engine) Forget(ctx context.Context, id string, hard bool) (*ForgetResult, error) {
	if hard {
		err := storage.WithRetry(ctx, e.retry, func() error {
			return e.gw.HardDelete(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		return &ForgetResult{ID: id, Mode: "hard"}, nil
	}

	var n int
	err := storage.WithRetry(ctx, e.retry, func() error {
		var err error
		n, err = e.gw.SoftDelete(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	return &ForgetResult{ID: id, Mode: "soft"}, nil
}

// Inject formats relevant memories into a budgeted context block.
func (e *Engine) Inject(ctx context.Context, query string, opts inject.Options) (string, inject.Stats, error) {
	return e.injector.Inject(ctx, query, opts)
}

// RecordFeedback appends a feedback event. Cite and use events also bump
// the cite counter and refresh last_accessed.
func (e *Engine) RecordFeedback(ctx context.Context, id string, event types.FeedbackEvent, score float64) error {
	if !event.Valid() {
		return fmt.Errorf("%w: invalid feedback event %q", storage.ErrInvalidInput, event)
	}
	if _, err := e.gw.GetMemory(ctx, id); err != nil {
		return err
	}

	err := e.gw.AppendFeedback(ctx, &types.Feedback{
		MemoryID:  id,
		EventType: event,
		Score:     score,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if event == types.EventCited || event == types.EventUsed {
		upd := storage.FlagUpdate{AddCites: 1, TouchLastAccessed: true}
		if err := e.gw.UpdateFlags(ctx, id, upd); err != nil {
			return err
		}
	}
	return nil
}

// Links returns every edge touching a memory.
func (e *Engine) Links(ctx context.Context, id string) ([]types.Link, error) {
	return e.gw.LinksFor(ctx, id)
}

// CreateLink records a typed edge between two memories.
func (e *Engine) CreateLink(ctx context.Context, sourceID, targetID string, relation types.LinkRelation) error {
	if _, err := e.gw.GetMemory(ctx, sourceID); err != nil {
		return err
	}
	if _, err := e.gw.GetMemory(ctx, targetID); err != nil {
		return err
	}
	return e.gw.InsertLink(ctx, &types.Link{
		SourceID:  sourceID,
		TargetID:  targetID,
		Relation:  relation,
		CreatedAt: time.Now().UTC(),
	})
}

// RunForgetSweep triggers one maintenance pass outside the schedule.
func (e *Engine) RunForgetSweep(ctx context.Context) (forgetting.Report, error) {
	return e.forget.Sweep(ctx)
}

// QueueStats reports embedding pipeline backlog.
func (e *Engine) QueueStats() (pending int, dropped uint64) {
	if e.queue == nil {
		return 0, 0
	}
	return e.queue.Len(), e.queue.Dropped()
}

func (e *Engine) collectMetrics(_ context.Context) {
	if e.logger == nil {
		return
	}
	pending, dropped := e.QueueStats()
	if pending > 0 || dropped > 0 {
		e.logger.Printf("engine: embedding queue pending=%d dropped=%d", pending, dropped)
	}
}
