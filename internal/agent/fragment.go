package agent

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/diego-ramazzini/muniagent/internal/helpers"
)

// fallbackCharBudget bounds the raw concatenation when summarization fails.
const fallbackCharBudget = 4000

// Embedder is the embedding capability the fragmenter needs.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Summarizer condenses text down to an approximate token target.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetTokens int) (string, error)
}

// Fragmenter bounds oversized supplementary text to a token budget. It splits
// input into line-based fragments, ranks them by relevance to the question
// and keeps only the best; the survivors are summarized or truncated when
// they still exceed the ceiling. Fragment never fails: every degradation path
// ends in bounded text.
type Fragmenter struct {
	Embedder   Embedder
	Summarizer Summarizer
	Logger     *log.Logger

	// MaxFragments and TokensPerFragment bound the split; TokenCeiling and
	// TokenTarget govern the final summarization step.
	MaxFragments      int
	TokensPerFragment int
	TokenCeiling      int
	TokenTarget       int
}

// Fragment reduces text to a relevance-ranked, token-bounded extract keyed on
// the query.
func (f *Fragmenter) Fragment(ctx context.Context, text, query string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	frags := splitFragments(text, f.TokensPerFragment)
	ranked := f.rank(ctx, frags, query)
	if len(ranked) > f.MaxFragments {
		ranked = ranked[:f.MaxFragments]
	}
	joined := strings.Join(ranked, "\n")

	if helpers.ApproxTokens(joined) <= f.TokenCeiling {
		return joined
	}
	if f.Summarizer != nil {
		summary, err := f.Summarizer.Summarize(ctx, joined, f.TokenTarget)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary
		}
		if err != nil && f.Logger != nil {
			f.Logger.Printf("fragment summarization failed, truncating: %v", err)
		}
	}
	return helpers.TruncateChars(joined, fallbackCharBudget)
}

// rank orders fragments by cosine similarity to the query, descending. When
// embedding is unavailable the original document order is kept, which still
// yields a bounded (if less relevant) extract.
func (f *Fragmenter) rank(ctx context.Context, frags []string, query string) []string {
	if len(frags) <= 1 || f.Embedder == nil {
		return frags
	}
	inputs := append([]string{query}, frags...)
	vecs, err := f.Embedder.CreateEmbedding(ctx, inputs)
	if err != nil || len(vecs) != len(inputs) {
		if err != nil && f.Logger != nil {
			f.Logger.Printf("fragment embedding failed, keeping document order: %v", err)
		}
		return frags
	}
	queryVec := vecs[0]
	type scored struct {
		text  string
		score float64
	}
	scoreds := make([]scored, len(frags))
	for i, frag := range frags {
		scoreds[i] = scored{text: frag, score: Cosine(queryVec, vecs[i+1])}
	}
	sort.SliceStable(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	out := make([]string, len(scoreds))
	for i, s := range scoreds {
		out[i] = s.text
	}
	return out
}

// splitFragments accumulates lines greedily until adding the next line would
// exceed maxTokens, then starts a new fragment. Token counts are approximate
// whitespace word counts. A single line longer than the budget becomes its
// own fragment rather than being split mid-line.
func splitFragments(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = 200
	}
	var frags []string
	var current []string
	currentTokens := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		lineTokens := helpers.ApproxTokens(line)
		if lineTokens == 0 {
			continue
		}
		if currentTokens > 0 && currentTokens+lineTokens > maxTokens {
			frags = append(frags, strings.Join(current, "\n"))
			current = current[:0]
			currentTokens = 0
		}
		current = append(current, line)
		currentTokens += lineTokens
	}
	if currentTokens > 0 {
		frags = append(frags, strings.Join(current, "\n"))
	}
	return frags
}

// Cosine returns the cosine similarity of two vectors, defined as 0 when
// either vector has zero norm.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
