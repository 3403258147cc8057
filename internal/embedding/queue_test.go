package embedding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mementolabs/memento/internal/storage"
)

type fakeEmbeddingStore struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	models   map[string]string
	failWith error
}

func newFakeEmbeddingStore() *fakeEmbeddingStore {
	return &fakeEmbeddingStore{
		vectors: make(map[string][]float32),
		models:  make(map[string]string),
	}
}

func (f *fakeEmbeddingStore) UpsertEmbedding(_ context.Context, memoryID string, vec []float32, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.vectors[memoryID] = vec
	f.models[memoryID] = model
	return nil
}

func (f *fakeEmbeddingStore) GetEmbedding(_ context.Context, memoryID string) ([]float32, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vec, ok := f.vectors[memoryID]
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	return vec, f.models[memoryID], nil
}

func (f *fakeEmbeddingStore) DeleteEmbedding(_ context.Context, memoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vectors, memoryID)
	return nil
}

func (f *fakeEmbeddingStore) stored(memoryID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vectors[memoryID]
	return ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestQueueProcessesJobs(t *testing.T) {
	store := newFakeEmbeddingStore()
	q := NewQueue(&countingEmbedder{}, store, nil, QueueConfig{Workers: 1})
	q.Start()
	defer func() { _ = q.Stop(context.Background()) }()

	q.Enqueue("mem-1", "some content to embed")
	waitFor(t, func() bool { return store.stored("mem-1") })

	_, model, err := store.GetEmbedding(context.Background(), "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "fake", model)
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	store := newFakeEmbeddingStore()
	// Not started: jobs accumulate so the overflow policy is observable.
	q := NewQueue(&countingEmbedder{}, store, nil, QueueConfig{Size: 2})

	q.Enqueue("mem-1", "first")
	q.Enqueue("mem-2", "second")
	q.Enqueue("mem-3", "third")

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())

	// The oldest job was the one discarded.
	job := q.take()
	require.NotNil(t, job)
	assert.Equal(t, "mem-2", job.MemoryID)
}

func TestQueueDiscardsJobsForDeletedMemories(t *testing.T) {
	store := newFakeEmbeddingStore()
	store.failWith = storage.ErrNotFound
	q := NewQueue(&countingEmbedder{}, store, nil, QueueConfig{Workers: 1})
	q.Start()
	defer func() { _ = q.Stop(context.Background()) }()

	q.Enqueue("mem-gone", "content for a deleted memory")
	waitFor(t, func() bool { return q.Len() == 0 })
	assert.False(t, store.stored("mem-gone"))
}

func TestQueueStopDrainsBacklog(t *testing.T) {
	store := newFakeEmbeddingStore()
	q := NewQueue(&countingEmbedder{}, store, nil, QueueConfig{Workers: 1})

	// Buffer jobs before any worker runs so Stop races a full backlog.
	for _, id := range []string{"mem-1", "mem-2", "mem-3"} {
		q.Enqueue(id, "content for "+id)
	}
	q.Start()

	require.NoError(t, q.Stop(context.Background()))

	for _, id := range []string{"mem-1", "mem-2", "mem-3"} {
		assert.True(t, store.stored(id), id)
	}
	assert.Zero(t, q.Len())
}

func TestQueueStopIsIdempotentAndBounded(t *testing.T) {
	q := NewQueue(&countingEmbedder{}, newFakeEmbeddingStore(), nil, QueueConfig{Workers: 2})
	q.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
	require.NoError(t, q.Stop(ctx))

	// Enqueue after stop is a no-op.
	q.Enqueue("mem-late", "too late")
	assert.Zero(t, q.Len())
}
