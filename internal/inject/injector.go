// Package inject formats retrieved memories into a compact system-context
// block that fits a caller-supplied token budget. Long memories are
// compressed to their first sentence, a few salient middle keywords, and
// their last sentence.
package inject

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mementolabs/memento/internal/ranking"
	"github.com/mementolabs/memento/internal/retrieval"
	"github.com/mementolabs/memento/pkg/types"
)

// EmptyMarker is returned when no memory qualifies for injection.
const EmptyMarker = "no related memories"

const (
	blockHeader = "=== memory context ==="
	blockFooter = "=== end memory context ==="

	// middleKeywordCount is how many salient tokens from the middle of a
	// long memory survive compression.
	middleKeywordCount = 6
)

// Options tunes one injection request.
type Options struct {
	// TokenBudget caps the estimated size of the whole block (default 1000).
	TokenBudget int

	// MaxMemories caps how many memories are packed (default 5).
	MaxMemories int

	// Filter narrows the candidate set.
	Filter types.Filter
}

func (o Options) normalize() Options {
	if o.TokenBudget <= 0 {
		o.TokenBudget = 1000
	}
	if o.MaxMemories <= 0 {
		o.MaxMemories = 5
	}
	return o
}

// Stats reports what an injection actually used.
type Stats struct {
	MemoriesUsed  int
	TokenEstimate int
	Degraded      bool
}

// Injector packs search results under a token budget.
type Injector struct {
	searcher *retrieval.Searcher
}

// NewInjector builds an injector over the hybrid searcher.
func NewInjector(searcher *retrieval.Searcher) *Injector {
	return &Injector{searcher: searcher}
}

// Inject retrieves up to 2·MaxMemories candidates, orders them by combined
// relevance and importance, and packs summaries until either the memory cap
// or the token budget is reached.
func (inj *Injector) Inject(ctx context.Context, query string, opts Options) (string, Stats, error) {
	opts = opts.normalize()

	res, err := inj.searcher.Search(ctx, query, opts.Filter, retrieval.Options{
		Limit: 2 * opts.MaxMemories,
	})
	if err != nil {
		return "", Stats{}, err
	}

	items := res.Items
	sort.SliceStable(items, func(i, j int) bool {
		si := items[i].Features.Relevance + items[i].Features.Importance
		sj := items[j].Features.Relevance + items[j].Features.Importance
		if si != sj {
			return si > sj
		}
		return items[i].Memory.ID < items[j].Memory.ID
	})

	perMemoryBudget := opts.TokenBudget / opts.MaxMemories
	if perMemoryBudget < 1 {
		perMemoryBudget = 1
	}

	var sections []string
	used := 0
	frame := EstimateTokens(blockHeader) + EstimateTokens(blockFooter) + 2
	estimate := frame

	for i := range items {
		if used >= opts.MaxMemories {
			break
		}
		m := &items[i].Memory

		summary := Summarize(m.Content, perMemoryBudget)
		section := fmt.Sprintf("[%s] %s\n%s", m.Type, importanceStars(ranking.Importance(m)), summary)
		cost := EstimateTokens(section) + 1

		if estimate+cost > opts.TokenBudget {
			// Packing stops at the first overflow; lower-ranked memories
			// never leapfrog a higher-ranked one that did not fit.
			break
		}
		sections = append(sections, section)
		estimate += cost
		used++
	}

	if used == 0 {
		return EmptyMarker, Stats{TokenEstimate: EstimateTokens(EmptyMarker), Degraded: res.Degraded}, nil
	}

	block := blockHeader + "\n" + strings.Join(sections, "\n") + "\n" + blockFooter
	return block, Stats{
		MemoriesUsed:  used,
		TokenEstimate: EstimateTokens(block),
		Degraded:      res.Degraded,
	}, nil
}

// EstimateTokens approximates token count as ceil(chars/4). Callers needing
// exact counts must re-tokenize with their model's tokenizer.
func EstimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4))
}

// Summarize compresses content into roughly budgetTokens. Content that
// already fits is returned unchanged; otherwise the first sentence, salient
// middle keywords, and the last sentence are joined and hard-truncated.
func Summarize(content string, budgetTokens int) string {
	content = strings.TrimSpace(content)
	if budgetTokens < 1 {
		budgetTokens = 1
	}
	budgetChars := budgetTokens * 4
	if len(content) <= budgetChars {
		return content
	}

	sentences := splitSentences(content)
	if len(sentences) <= 1 {
		return truncateRunes(content, budgetChars)
	}

	first := sentences[0]
	last := sentences[len(sentences)-1]
	middle := strings.Join(sentences[1:len(sentences)-1], " ")

	parts := []string{first}
	if kw := middleKeywords(middle, middleKeywordCount); kw != "" {
		parts = append(parts, "… "+kw+" …")
	}
	if last != first {
		parts = append(parts, last)
	}

	return truncateRunes(strings.Join(parts, " "), budgetChars)
}

// splitSentences breaks on sentence punctuation and newlines, keeping the
// terminator attached.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// middleKeywords returns the most frequent informative tokens, in first-seen
// order for determinism.
func middleKeywords(text string, n int) string {
	tokens := ranking.QueryTokens(text)
	type kw struct {
		token string
		count int
		seen  int
	}
	counts := make(map[string]*kw)
	order := 0
	for _, tok := range tokens {
		if len(tok) < 4 {
			continue
		}
		if k, ok := counts[tok]; ok {
			k.count++
		} else {
			counts[tok] = &kw{token: tok, count: 1, seen: order}
			order++
		}
	}

	all := make([]*kw, 0, len(counts))
	for _, k := range counts {
		all = append(all, k)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].seen < all[j].seen
	})

	if len(all) > n {
		all = all[:n]
	}
	words := make([]string, len(all))
	for i, k := range all {
		words[i] = k.token
	}
	return strings.Join(words, " ")
}

func importanceStars(importance float64) string {
	filled := int(math.Round(importance * 5))
	if filled < 0 {
		filled = 0
	}
	if filled > 5 {
		filled = 5
	}
	return strings.Repeat("★", filled) + strings.Repeat("☆", 5-filled)
}

func truncateRunes(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
