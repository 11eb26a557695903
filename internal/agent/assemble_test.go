package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/diego-ramazzini/muniagent/internal/helpers"
	"github.com/diego-ramazzini/muniagent/internal/store"
	"github.com/diego-ramazzini/muniagent/internal/telemetry"
)

type fakeKnowledge struct {
	docs    []store.RetrievedDocument
	faqs    []store.FaqEntry
	docsErr error
	faqsErr error

	searchCalls int
	lastVector  []float32
	lastTopK    int
}

func (f *fakeKnowledge) SearchDocuments(_ context.Context, vector []float32, topK int) ([]store.RetrievedDocument, error) {
	f.searchCalls++
	f.lastVector = vector
	f.lastTopK = topK
	return f.docs, f.docsErr
}

func (f *fakeKnowledge) RecentFaqs(_ context.Context, _ int) ([]store.FaqEntry, error) {
	return f.faqs, f.faqsErr
}

func newTestAssembler(k Knowledge, sum Summarizer) *Assembler {
	return &Assembler{
		Knowledge: k,
		Fragmenter: &Fragmenter{
			MaxFragments:      5,
			TokensPerFragment: 50,
			TokenCeiling:      1000,
			TokenTarget:       500,
		},
		Summarizer:   sum,
		TopK:         5,
		FaqLimit:     5,
		TokenCeiling: 1000,
		TokenTarget:  700,
	}
}

func TestAssemble_CombinesSources(t *testing.T) {
	k := &fakeKnowledge{
		docs: []store.RetrievedDocument{
			{ID: 1, Filename: "iusi.pdf", Content: "El IUSI se paga trimestralmente.", Distance: 0.05},
		},
		faqs: []store.FaqEntry{
			{ID: 1, Question: "¿Dónde pago?", Answer: "En tesorería."},
		},
	}
	a := newTestAssembler(k, nil)
	bundle := a.Assemble(context.Background(), "¿Cómo pago el IUSI?", []float32{0.1, 0.2}, "texto adjunto del ciudadano")

	if !strings.Contains(bundle.Text, "El IUSI se paga trimestralmente.") {
		t.Fatalf("expected document content in bundle, got %q", bundle.Text)
	}
	if !strings.Contains(bundle.Text, "Q: ¿Dónde pago? A: En tesorería.") {
		t.Fatalf("expected FAQ line in bundle, got %q", bundle.Text)
	}
	if !strings.Contains(bundle.Text, "texto adjunto del ciudadano") {
		t.Fatalf("expected supplement in bundle, got %q", bundle.Text)
	}
	if bundle.Tokens != helpers.ApproxTokens(bundle.Text) {
		t.Fatalf("bundle token count out of sync: %d", bundle.Tokens)
	}
	if k.lastTopK != 5 {
		t.Fatalf("expected topK 5, got %d", k.lastTopK)
	}
}

func TestAssemble_NoEmbeddingSkipsDocumentSearch(t *testing.T) {
	k := &fakeKnowledge{}
	a := newTestAssembler(k, nil)
	a.Assemble(context.Background(), "pregunta", nil, "")
	if k.searchCalls != 0 {
		t.Fatalf("document search must be skipped without an embedding, got %d calls", k.searchCalls)
	}
}

func TestAssemble_RetrievalFailureDegradesToEmpty(t *testing.T) {
	k := &fakeKnowledge{
		docsErr: errors.New("index unreachable"),
		faqsErr: errors.New("db unreachable"),
	}
	a := newTestAssembler(k, nil)
	a.Metrics = telemetry.NewWithRegistry(prometheus.NewRegistry())
	bundle := a.Assemble(context.Background(), "pregunta", []float32{0.1}, "")
	if bundle.Text != "" {
		t.Fatalf("expected empty degraded bundle, got %q", bundle.Text)
	}
	if got := testutil.ToFloat64(a.Metrics.RetrievalFailures); got != 2 {
		t.Fatalf("expected both degraded lookups counted, got %v", got)
	}
}

func TestAssemble_SummarizesOverCeiling(t *testing.T) {
	var big strings.Builder
	for i := 0; i < 300; i++ {
		big.WriteString("contenido extenso del documento municipal ")
	}
	k := &fakeKnowledge{
		docs: []store.RetrievedDocument{{ID: 1, Filename: "x.pdf", Content: big.String()}},
	}
	sum := &stubSummarizer{out: "resumen del contexto"}
	a := newTestAssembler(k, sum)
	bundle := a.Assemble(context.Background(), "pregunta", []float32{0.1}, "")
	if bundle.Text != "resumen del contexto" {
		t.Fatalf("expected summarized bundle, got %d tokens", bundle.Tokens)
	}
	if sum.calls != 1 {
		t.Fatalf("expected one summarizer call, got %d", sum.calls)
	}
	if bundle.Tokens > a.TokenTarget {
		t.Fatalf("post-summarization bundle exceeds target: %d tokens", bundle.Tokens)
	}
}

func TestAssemble_SummarizerFailureTruncates(t *testing.T) {
	var big strings.Builder
	for i := 0; i < 2000; i++ {
		big.WriteString("contenido extenso del documento municipal ")
	}
	k := &fakeKnowledge{
		docs: []store.RetrievedDocument{{ID: 1, Filename: "x.pdf", Content: big.String()}},
	}
	a := newTestAssembler(k, &stubSummarizer{err: errors.New("model down")})
	bundle := a.Assemble(context.Background(), "pregunta", []float32{0.1}, "")
	if bundle.Text == "" {
		t.Fatal("truncation fallback must still produce context")
	}
	if len(bundle.Text) > fallbackCharBudget {
		t.Fatalf("fallback bundle exceeds character budget: %d bytes", len(bundle.Text))
	}
}
