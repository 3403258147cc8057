// Package retrieval runs hybrid search: a lexical full-text leg and a
// vector similarity leg fan out in parallel, their candidate sets union by
// memory id, and the ranking core orders the merged set. The vector leg is
// best-effort; when it cannot answer in time the search degrades to
// lexical-only rather than failing.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/mementolabs/memento/internal/embedding"
	"github.com/mementolabs/memento/internal/ranking"
	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

// Options tunes a single search.
type Options struct {
	// Limit is the maximum number of results (default 10).
	Limit int

	// Weights override the ranking blend; zero value means defaults.
	Weights ranking.Weights

	// Timeout bounds the whole search (default 5s).
	Timeout time.Duration

	// VectorTimeout is the sub-deadline of the vector leg (default 2s).
	VectorTimeout time.Duration
}

func (o Options) normalize() Options {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.VectorTimeout <= 0 || o.VectorTimeout > o.Timeout {
		o.VectorTimeout = 2 * time.Second
	}
	if o.Weights == (ranking.Weights{}) {
		o.Weights = ranking.DefaultWeights()
	}
	return o
}

// Item is one ranked search result.
type Item struct {
	Memory       types.Memory
	Score        float64
	Features     ranking.Features
	RecallReason string
}

// Result is a completed search.
type Result struct {
	Items []Item

	// TotalCandidates is the size of the merged candidate set before the
	// limit was applied.
	TotalCandidates int

	// Degraded is set when the vector leg failed or timed out and only
	// lexical evidence ranked the results.
	Degraded bool

	// Fingerprint identifies the (query, filter, limit) triple so callers
	// can retry deterministically.
	Fingerprint string

	Elapsed time.Duration
}

// Searcher orchestrates hybrid retrieval over a storage gateway.
type Searcher struct {
	store    storage.MemoryStore
	search   storage.SearchProvider
	vectors  storage.EmbeddingStore
	embedder embedding.Embedder
	logger   *log.Logger
}

// NewSearcher wires the retrieval orchestrator. embedder may be nil, which
// permanently degrades searches to lexical-only.
func NewSearcher(gw storage.Gateway, embedder embedding.Embedder, logger *log.Logger) *Searcher {
	return &Searcher{
		store:    gw,
		search:   gw,
		vectors:  gw,
		embedder: embedder,
		logger:   logger,
	}
}

type legHits struct {
	hits []storage.SearchHit
	err  error
}

// Search runs the hybrid pipeline and returns up to opts.Limit ranked items.
func (s *Searcher) Search(ctx context.Context, query string, filter types.Filter, opts Options) (*Result, error) {
	opts = opts.normalize()
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	normalized := strings.TrimSpace(query)
	queryTokens := ranking.QueryTokens(normalized)
	fanout := 2 * opts.Limit

	lexicalCh := make(chan legHits, 1)
	vectorCh := make(chan legHits, 1)

	go func() {
		hits, err := s.search.LexicalSearch(ctx, normalized, filter, fanout)
		lexicalCh <- legHits{hits: hits, err: err}
	}()

	go func() {
		hits, err := s.vectorLeg(ctx, normalized, filter, fanout, opts.VectorTimeout)
		vectorCh <- legHits{hits: hits, err: err}
	}()

	lexical := <-lexicalCh
	vector := <-vectorCh

	if lexical.err != nil {
		return nil, fmt.Errorf("lexical search: %w", lexical.err)
	}

	degraded := false
	if vector.err != nil {
		// ErrUnavailable means the vector leg was not applicable (no
		// embedder, empty query, or no stored vectors); that is normal
		// lexical operation, not degradation.
		if !errors.Is(vector.err, storage.ErrUnavailable) {
			degraded = true
			if s.logger != nil {
				s.logger.Printf("retrieval: vector leg degraded: %v", vector.err)
			}
		}
		vector.hits = nil
	}

	// Union by id, keeping the best score seen per leg.
	lexScores := make(map[string]float64, len(lexical.hits))
	for _, h := range lexical.hits {
		if h.Score > lexScores[h.MemoryID] {
			lexScores[h.MemoryID] = h.Score
		}
	}
	vecScores := make(map[string]float64, len(vector.hits))
	for _, h := range vector.hits {
		if h.Score > vecScores[h.MemoryID] {
			vecScores[h.MemoryID] = h.Score
		}
	}

	ids := make([]string, 0, len(lexScores)+len(vecScores))
	seen := make(map[string]struct{}, len(lexScores)+len(vecScores))
	for id := range lexScores {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for id := range vecScores {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	result := &Result{
		Degraded:    degraded,
		Fingerprint: filter.Fingerprint(strings.ToLower(normalized), opts.Limit),
	}
	if len(ids) == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	rows, err := s.store.ScanCandidates(ctx, types.Filter{IDs: ids}, storage.OrderCreatedDesc)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	candidates := make([]*ranking.Candidate, 0, len(rows))
	for i := range rows {
		m := rows[i]
		c := &ranking.Candidate{
			Memory:  m,
			Cosine:  vecScores[m.ID],
			Lexical: lexScores[m.ID],
		}
		// Stored vectors feed the duplication check; best effort only.
		if vec, _, err := s.vectors.GetEmbedding(ctx, m.ID); err == nil {
			c.Vector = vec
		}
		candidates = append(candidates, c)
	}

	selected := ranking.Select(candidates, queryTokens, opts.Weights, opts.Limit, time.Now())

	result.TotalCandidates = len(candidates)
	result.Items = make([]Item, 0, len(selected))
	for _, sel := range selected {
		result.Items = append(result.Items, Item{
			Memory:       sel.Candidate.Memory,
			Score:        sel.Score,
			Features:     sel.Features,
			RecallReason: recallReason(sel, degraded),
		})
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

// vectorLeg embeds the query and runs similarity search under its own
// deadline. Any failure is reported upward as a degraded (not fatal) leg.
func (s *Searcher) vectorLeg(ctx context.Context, query string, filter types.Filter, k int, timeout time.Duration) ([]storage.SearchHit, error) {
	if s.embedder == nil {
		return nil, storage.ErrUnavailable
	}
	if query == "" {
		return nil, storage.ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	return s.search.VectorSearch(ctx, res.Vector, filter, k)
}

func recallReason(sel ranking.Selection, degraded bool) string {
	c := sel.Candidate
	switch {
	case c.Cosine > 0 && c.Lexical > 0:
		return "semantic+lexical match"
	case c.Cosine > 0:
		return "semantic match"
	case c.Lexical > 0:
		return "lexical match"
	case degraded:
		return "filter match (degraded)"
	default:
		return "filter match"
	}
}
