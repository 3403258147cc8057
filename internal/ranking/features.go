// Package ranking scores retrieval candidates. The final score blends four
// feature families (relevance, recency, importance, usage) and subtracts a
// duplication penalty computed against already-selected results, so the top
// of a result list stays diverse.
package ranking

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/mementolabs/memento/pkg/types"
)

// Weights are the blend coefficients of the composite score. VectorMix and
// TextMix rescale the semantic and lexical shares inside relevance itself;
// the relevance value is renormalized so it stays in [0,1].
type Weights struct {
	Relevance   float64 `yaml:"relevance"`
	Recency     float64 `yaml:"recency"`
	Importance  float64 `yaml:"importance"`
	Usage       float64 `yaml:"usage"`
	Duplication float64 `yaml:"duplication"`

	VectorMix float64 `yaml:"vector_mix"`
	TextMix   float64 `yaml:"text_mix"`
}

// DefaultWeights returns the tuned production blend.
func DefaultWeights() Weights {
	return Weights{
		Relevance:   0.50,
		Recency:     0.20,
		Importance:  0.20,
		Usage:       0.10,
		Duplication: 0.15,
		VectorMix:   relCosineWeight,
		TextMix:     relLexicalWeight,
	}
}

// Normalize fills zero mix weights with defaults.
func (w Weights) Normalize() Weights {
	if w.VectorMix <= 0 {
		w.VectorMix = relCosineWeight
	}
	if w.TextMix <= 0 {
		w.TextMix = relLexicalWeight
	}
	return w
}

// Relevance sub-weights. Cosine dominates; the lexical score, tag overlap,
// and a title hit refine it.
const (
	relCosineWeight  = 0.60
	relLexicalWeight = 0.30
	relTagWeight     = 0.05
	relTitleWeight   = 0.05

	// lexicalSaturation maps an unbounded BM25-style score into [0,1)
	// via score/(score+k).
	lexicalSaturation = 2.0
)

// RecencyHalfLifeDays is the per-type half-life of the recency decay.
// Working memory goes stale in days; semantic knowledge persists for months.
var RecencyHalfLifeDays = map[types.MemoryType]float64{
	types.TypeWorking:    2,
	types.TypeEpisodic:   30,
	types.TypeSemantic:   180,
	types.TypeProcedural: 90,
}

// importanceTypeBoost nudges base importance by memory type.
var importanceTypeBoost = map[types.MemoryType]float64{
	types.TypeSemantic:   0.10,
	types.TypeProcedural: 0.05,
	types.TypeEpisodic:   0,
	types.TypeWorking:    -0.05,
}

const importancePinnedBoost = 0.20

// Candidate is one retrieval hit with its raw search scores attached.
type Candidate struct {
	Memory types.Memory

	// Cosine is the vector similarity in [-1,1]; zero when no embedding
	// matched.
	Cosine float64

	// Lexical is the raw BM25-style score from full-text search; zero
	// when the lexical leg did not return this memory.
	Lexical float64

	// Vector is the stored embedding, used for duplication checks during
	// selection. May be nil.
	Vector []float32
}

// Features are the computed components of a candidate's score, exposed so
// callers can explain a ranking.
type Features struct {
	Relevance   float64
	Recency     float64
	Importance  float64
	Usage       float64
	Duplication float64
}

// Score blends features under w.
func (f Features) Score(w Weights) float64 {
	return w.Relevance*f.Relevance +
		w.Recency*f.Recency +
		w.Importance*f.Importance +
		w.Usage*f.Usage -
		w.Duplication*f.Duplication
}

// Relevance combines vector similarity, saturated lexical score, tag
// overlap with the query, and a title hit, under the default mix.
func Relevance(c *Candidate, queryTokens []string) float64 {
	return RelevanceMixed(c, queryTokens, relCosineWeight, relLexicalWeight)
}

// RelevanceMixed computes relevance with caller-supplied vector and text
// shares. The result is renormalized into [0,1] so changing the mix does
// not inflate relevance against the other score components.
func RelevanceMixed(c *Candidate, queryTokens []string, vectorMix, textMix float64) float64 {
	if vectorMix <= 0 {
		vectorMix = relCosineWeight
	}
	if textMix <= 0 {
		textMix = relLexicalWeight
	}

	// Negative cosine means "opposed", which for ranking purposes is just
	// irrelevant.
	cosine := clamp01(c.Cosine)

	lexical := 0.0
	if c.Lexical > 0 {
		lexical = c.Lexical / (c.Lexical + lexicalSaturation)
	}

	tagOverlap := jaccard(queryTokens, normalizeTokens(c.Memory.Tags))
	title := 0.0
	if titleHit(c.Memory.Title(), queryTokens) {
		title = 1.0
	}

	raw := vectorMix*cosine +
		textMix*lexical +
		relTagWeight*tagOverlap +
		relTitleWeight*title
	return raw / (vectorMix + textMix + relTagWeight + relTitleWeight)
}

// Recency decays exponentially with age, halving every type-specific
// half-life.
func Recency(m *types.Memory, now time.Time) float64 {
	halfLife, ok := RecencyHalfLifeDays[m.Type]
	if !ok || halfLife <= 0 {
		halfLife = 30
	}
	age := m.AgeDays(now)
	return math.Exp(-math.Ln2 * age / halfLife)
}

// Importance is the user-assigned base plus pinned and type boosts,
// clamped to [0,1].
func Importance(m *types.Memory) float64 {
	v := m.Importance
	if m.Pinned {
		v += importancePinnedBoost
	}
	v += importanceTypeBoost[m.Type]
	return clamp01(v)
}

// Usage grows logarithmically with access counters. Citations weigh double
// a view; edits count half.
func Usage(m *types.Memory) float64 {
	raw := math.Log1p(float64(m.ViewCount)) +
		2*math.Log1p(float64(m.CiteCount)) +
		0.5*math.Log1p(float64(m.EditCount))
	return clamp01(raw / 10)
}

// Compute fills every feature except duplication, which depends on the
// selection state and is set during MMR.
func Compute(c *Candidate, queryTokens []string, w Weights, now time.Time) Features {
	return Features{
		Relevance:  RelevanceMixed(c, queryTokens, w.VectorMix, w.TextMix),
		Recency:    Recency(&c.Memory, now),
		Importance: Importance(&c.Memory),
		Usage:      Usage(&c.Memory),
	}
}

// QueryTokens normalizes a query for tag-overlap and title-hit checks.
func QueryTokens(query string) []string {
	return tokenizeText(query)
}

func titleHit(title string, queryTokens []string) bool {
	if title == "" || len(queryTokens) == 0 {
		return false
	}
	titleTokens := make(map[string]struct{})
	for _, tok := range tokenizeText(title) {
		titleTokens[tok] = struct{}{}
	}
	for _, tok := range queryTokens {
		if _, ok := titleTokens[tok]; ok {
			return true
		}
	}
	return false
}

// jaccard computes set overlap between two token lists.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func normalizeTokens(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// tokenizeText lowercases and splits on non-letter, non-digit runes,
// emitting CJK runes as single tokens.
func tokenizeText(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
