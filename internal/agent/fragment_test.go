package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/diego-ramazzini/muniagent/internal/helpers"
)

func TestCosine_SelfSimilarity(t *testing.T) {
	v := []float32{0.3, -0.5, 0.8}
	got := Cosine(v, v)
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected self-similarity 1.0, got %f", got)
	}
}

func TestCosine_ZeroVector(t *testing.T) {
	got := Cosine([]float32{0, 0, 0}, []float32{1, 2, 3})
	if got != 0 {
		t.Fatalf("expected 0 for zero-norm vector, got %f", got)
	}
	if math.IsNaN(got) {
		t.Fatal("similarity with a zero vector must not be NaN")
	}
}

func TestCosine_Orthogonal(t *testing.T) {
	got := Cosine([]float32{1, 0}, []float32{0, 1})
	if math.Abs(got) > 1e-9 {
		t.Fatalf("expected 0 for orthogonal vectors, got %f", got)
	}
}

func TestSplitFragments_RespectsTokenBudget(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "palabra uno dos tres cuatro")
	}
	frags := splitFragments(strings.Join(lines, "\n"), 10)
	if len(frags) <= 1 {
		t.Fatalf("expected multiple fragments for oversized text, got %d", len(frags))
	}
	for i, f := range frags {
		if n := helpers.ApproxTokens(f); n > 10 {
			t.Fatalf("fragment %d exceeds budget: %d tokens", i, n)
		}
	}
}

func TestSplitFragments_LongSingleLine(t *testing.T) {
	line := strings.Repeat("palabra ", 50)
	frags := splitFragments(line, 10)
	if len(frags) != 1 {
		t.Fatalf("a single oversized line must stay one fragment, got %d", len(frags))
	}
}

// stubEmbedder returns canned vectors: the query vector first, then one per
// fragment in call order.
type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(texts) != len(s.vectors) {
		return nil, fmt.Errorf("expected %d texts, got %d", len(s.vectors), len(texts))
	}
	return s.vectors, nil
}

type stubSummarizer struct {
	out   string
	err   error
	calls int
}

func (s *stubSummarizer) Summarize(_ context.Context, _ string, _ int) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestFragment_KeepsTopFragmentsByRelevance(t *testing.T) {
	// Three one-line fragments; the embedder makes the third most similar to
	// the query, then the first.
	text := "linea aaa\nlinea bbb\nlinea ccc"
	f := &Fragmenter{
		Embedder: &stubEmbedder{vectors: [][]float32{
			{1, 0},   // query
			{0.5, 1}, // aaa
			{0, 1},   // bbb
			{1, 0},   // ccc
		}},
		MaxFragments:      2,
		TokensPerFragment: 2,
		TokenCeiling:      1000,
		TokenTarget:       500,
	}
	got := f.Fragment(context.Background(), text, "consulta")
	if !strings.Contains(got, "ccc") || !strings.Contains(got, "aaa") {
		t.Fatalf("expected the two most relevant fragments, got %q", got)
	}
	if strings.Contains(got, "bbb") {
		t.Fatalf("least relevant fragment must be dropped, got %q", got)
	}
	if strings.Index(got, "ccc") > strings.Index(got, "aaa") {
		t.Fatalf("fragments must appear in ranked order, got %q", got)
	}
}

func TestFragment_MaxFragmentsBound(t *testing.T) {
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, fmt.Sprintf("fragmento numero %d con contenido", i))
	}
	f := &Fragmenter{
		MaxFragments:      3,
		TokensPerFragment: 5,
		TokenCeiling:      1000,
		TokenTarget:       500,
	}
	got := f.Fragment(context.Background(), strings.Join(lines, "\n"), "consulta")
	if n := len(strings.Split(got, "\n")); n > 3 {
		t.Fatalf("expected at most 3 fragments, got %d", n)
	}
}

func TestFragment_SummarizesOverCeiling(t *testing.T) {
	text := strings.Repeat("palabra repetida para inflar el conteo\n", 100)
	sum := &stubSummarizer{out: "resumen breve"}
	f := &Fragmenter{
		Summarizer:        sum,
		MaxFragments:      100,
		TokensPerFragment: 50,
		TokenCeiling:      30,
		TokenTarget:       10,
	}
	got := f.Fragment(context.Background(), text, "consulta")
	if got != "resumen breve" {
		t.Fatalf("expected summarized output, got %q", got)
	}
	if sum.calls != 1 {
		t.Fatalf("expected one summarizer call, got %d", sum.calls)
	}
}

func TestFragment_SummarizerFailureTruncates(t *testing.T) {
	text := strings.Repeat("palabra repetida para inflar el conteo\n", 500)
	f := &Fragmenter{
		Summarizer:        &stubSummarizer{err: errors.New("model down")},
		MaxFragments:      100,
		TokensPerFragment: 50,
		TokenCeiling:      30,
		TokenTarget:       10,
	}
	got := f.Fragment(context.Background(), text, "consulta")
	if got == "" {
		t.Fatal("truncation fallback must still return text")
	}
	if len(got) > fallbackCharBudget {
		t.Fatalf("fallback output exceeds character budget: %d bytes", len(got))
	}
}

func TestFragment_EmbeddingFailureKeepsDocumentOrder(t *testing.T) {
	f := &Fragmenter{
		Embedder:          &stubEmbedder{err: errors.New("embedder down")},
		MaxFragments:      2,
		TokensPerFragment: 2,
		TokenCeiling:      1000,
		TokenTarget:       500,
	}
	got := f.Fragment(context.Background(), "uno aqui\ndos alla\ntres lejos", "consulta")
	if !strings.HasPrefix(got, "uno") {
		t.Fatalf("expected document order on embedding failure, got %q", got)
	}
}

func TestFragment_EmptyInput(t *testing.T) {
	f := &Fragmenter{MaxFragments: 3, TokensPerFragment: 10, TokenCeiling: 100, TokenTarget: 50}
	if got := f.Fragment(context.Background(), "  \n ", "consulta"); got != "" {
		t.Fatalf("expected empty output for blank input, got %q", got)
	}
}
