package ranking

import (
	"math"
	"sort"
	"time"
)

// Selection is one chosen result with its final score and features.
type Selection struct {
	Candidate *Candidate
	Features  Features
	Score     float64
}

// Select picks up to k candidates greedily. On every pick the duplication
// penalty of the remaining candidates is recomputed against the selected
// set, so two near-identical memories cannot both make a short result list.
// Ordering ties break by importance, then newest creation, then id.
func Select(candidates []*Candidate, queryTokens []string, w Weights, k int, now time.Time) []Selection {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	type scored struct {
		cand *Candidate
		feat Features
	}
	w = w.Normalize()
	remaining := make([]*scored, 0, len(candidates))
	for _, c := range candidates {
		remaining = append(remaining, &scored{cand: c, feat: Compute(c, queryTokens, w, now)})
	}

	var selected []Selection
	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		var bestFeat Features
		bestScore := math.Inf(-1)

		for i, s := range remaining {
			feat := s.feat
			feat.Duplication = maxSimilarity(s.cand, selected)
			score := feat.Score(w)

			if bestIdx == -1 || score > bestScore ||
				(score == bestScore && tieBreakLess(remaining[bestIdx].cand, s.cand)) {
				bestIdx = i
				bestFeat = feat
				bestScore = score
			}
		}

		pick := remaining[bestIdx]
		selected = append(selected, Selection{
			Candidate: pick.cand,
			Features:  bestFeat,
			Score:     bestScore,
		})
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// tieBreakLess reports whether challenger should replace current on an
// exact score tie: higher importance wins, then newer creation, then
// smaller id.
func tieBreakLess(current, challenger *Candidate) bool {
	ci, hi := Importance(&current.Memory), Importance(&challenger.Memory)
	if ci != hi {
		return ci < hi
	}
	if !current.Memory.CreatedAt.Equal(challenger.Memory.CreatedAt) {
		return current.Memory.CreatedAt.Before(challenger.Memory.CreatedAt)
	}
	return current.Memory.ID > challenger.Memory.ID
}

// maxSimilarity returns the strongest similarity between c and any selected
// candidate. Embeddings are compared by cosine when both sides have vectors
// of equal dimension; otherwise content token overlap stands in.
func maxSimilarity(c *Candidate, selected []Selection) float64 {
	best := 0.0
	for i := range selected {
		sim := pairSimilarity(c, selected[i].Candidate)
		if sim > best {
			best = sim
		}
	}
	return best
}

// Similarity reports how alike two candidates are in [0,1]. Exposed for the
// forgetting controller's duplicate detection.
func Similarity(a, b *Candidate) float64 { return pairSimilarity(a, b) }

func pairSimilarity(a, b *Candidate) float64 {
	if len(a.Vector) > 0 && len(a.Vector) == len(b.Vector) {
		return clamp01(cosine32(a.Vector, b.Vector))
	}
	return jaccard(tokenizeText(a.Memory.Content), tokenizeText(b.Memory.Content))
}

func cosine32(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SortCandidates orders candidates deterministically by a precomputed score
// map, with the standard tie-breaks. Used by callers that rank without the
// duplication-aware selection loop.
func SortCandidates(candidates []*Candidate, score func(*Candidate) float64) {
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si != sj {
			return si > sj
		}
		return tieBreakLess(candidates[j], candidates[i])
	})
}
