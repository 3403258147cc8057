package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	// LocalDimension is the vector size of the in-process embedder.
	LocalDimension = 512

	// localTermDims carries hashed term frequencies; the remaining
	// localKeywordDims carry a coarse keyword signature so short texts
	// that share vocabulary still land near each other.
	localTermDims    = 384
	localKeywordDims = LocalDimension - localTermDims
)

// LocalProvider is a deterministic in-process embedder. It has no external
// dependencies and never fails, which makes it the terminal fallback of the
// provider chain. Vectors are hashed term-frequency projections, not learned
// embeddings, so quality is below the hosted providers but similarity between
// related texts is still meaningful.
type LocalProvider struct{}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider returns the in-process fallback embedder.
func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

func (p *LocalProvider) Name() string                     { return "local" }
func (p *LocalProvider) Dimension() int                   { return LocalDimension }
func (p *LocalProvider) MaxInputTokens() int              { return 8192 }
func (p *LocalProvider) Available(_ context.Context) bool { return true }

// Embed produces a 512-dimension L2-normalized vector. The same input always
// produces the same output.
func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyInput
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		// Nothing survived tokenization (single characters, stop words).
		// Hash the raw text so short inputs still get a stable vector.
		tokens = []string{strings.ToLower(trimmed)}
	}

	vec := make([]float32, LocalDimension)

	// Term-frequency projection: each token contributes log-scaled weight
	// to one of the first 384 dimensions.
	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	for tok, n := range counts {
		idx := hashToken(tok, 0) % localTermDims
		vec[idx] += float32(1 + math.Log(float64(n)))
	}

	// Keyword signature: a second hash family over the same vocabulary,
	// sign-alternated so distinct keyword sets decorrelate.
	for tok := range counts {
		h := hashToken(tok, 7919)
		idx := localTermDims + h%localKeywordDims
		if h&1 == 0 {
			vec[idx] += 1
		} else {
			vec[idx] -= 1
		}
	}

	normalize(vec)
	return vec, nil
}

// localStopWords covers high-frequency function words in English plus a few
// common CJK particles. Removing them keeps hashed dimensions for tokens
// that actually discriminate between memories.
var localStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"的": {}, "了": {}, "是": {}, "在": {}, "と": {}, "の": {}, "に": {}, "を": {},
}

// tokenize lowercases and splits on non-letter, non-digit runes. CJK runes
// are emitted as single-rune tokens since there are no space boundaries.
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if len(tok) < 2 {
			return
		}
		if _, stop := localStopWords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			tok := string(r)
			if _, stop := localStopWords[tok]; !stop {
				tokens = append(tokens, tok)
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func hashToken(tok string, seed uint32) int {
	h := fnv.New32a()
	if seed != 0 {
		var b [4]byte
		b[0] = byte(seed)
		b[1] = byte(seed >> 8)
		b[2] = byte(seed >> 16)
		b[3] = byte(seed >> 24)
		_, _ = h.Write(b[:])
	}
	_, _ = h.Write([]byte(tok))
	return int(h.Sum32() & 0x7fffffff)
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
