package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/diego-ramazzini/muniagent/internal/helpers"
	"github.com/diego-ramazzini/muniagent/internal/provider"
	"github.com/diego-ramazzini/muniagent/internal/store"
	"github.com/diego-ramazzini/muniagent/internal/telemetry"
)

// Knowledge is the retrieval surface the assembler pulls from. Both
// operations degrade to empty results: a failing vector index or FAQ table
// must never abort a chat turn.
type Knowledge interface {
	SearchDocuments(ctx context.Context, vector []float32, topK int) ([]store.RetrievedDocument, error)
	RecentFaqs(ctx context.Context, limit int) ([]store.FaqEntry, error)
}

// ContextBundle is the size-bounded text handed to the language model,
// together with its approximate token count.
type ContextBundle struct {
	Text   string
	Tokens int
}

// Assembler builds the prompt context for one request: retrieved documents,
// recent FAQs and the fragmented supplementary text, bounded by the token
// ceiling. A bundle is owned by a single request and never shared.
type Assembler struct {
	Knowledge  Knowledge
	Fragmenter *Fragmenter
	Summarizer Summarizer
	Logger     *log.Logger
	Metrics    *telemetry.Telemetry

	TopK         int
	FaqLimit     int
	TokenCeiling int
	TokenTarget  int
}

// Assemble combines every context source into one bounded bundle. It never
// returns an error: retrieval failures shrink the context and summarization
// failures fall back to deterministic truncation.
func (a *Assembler) Assemble(ctx context.Context, question string, embedding []float32, supplement string) ContextBundle {
	var sections []string

	if len(embedding) > 0 {
		docs, err := a.Knowledge.SearchDocuments(ctx, embedding, a.TopK)
		if err != nil {
			if a.Logger != nil {
				a.Logger.Printf("document retrieval failed, continuing without documents: %v", err)
			}
			a.countRetrievalFailure()
		} else if len(docs) > 0 {
			var lines []string
			for _, d := range docs {
				lines = append(lines, d.Content)
			}
			sections = append(sections, "Contexto:\n"+strings.Join(lines, "\n"))
		}
	}

	faqs, err := a.Knowledge.RecentFaqs(ctx, a.FaqLimit)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Printf("faq retrieval failed, continuing without faqs: %v", err)
		}
		a.countRetrievalFailure()
	} else if len(faqs) > 0 {
		var lines []string
		for _, f := range faqs {
			lines = append(lines, fmt.Sprintf("Q: %s A: %s", f.Question, f.Answer))
		}
		sections = append(sections, "FAQs:\n"+strings.Join(lines, "\n"))
	}

	if strings.TrimSpace(supplement) != "" {
		fragmented := a.Fragmenter.Fragment(ctx, supplement, question)
		if fragmented != "" {
			sections = append(sections, "Documento adjunto:\n"+fragmented)
		}
	}

	text := strings.Join(sections, "\n")
	tokens := helpers.ApproxTokens(text)
	if tokens > a.TokenCeiling {
		text = a.condense(ctx, text)
		tokens = helpers.ApproxTokens(text)
	}
	return ContextBundle{Text: text, Tokens: tokens}
}

func (a *Assembler) countRetrievalFailure() {
	if a.Metrics != nil {
		a.Metrics.RetrievalFailures.Inc()
	}
}

// condense shrinks an oversized bundle, first via the summarizer, then by
// truncation so some bounded context always survives.
func (a *Assembler) condense(ctx context.Context, text string) string {
	if a.Summarizer != nil {
		summary, err := a.Summarizer.Summarize(ctx, text, a.TokenTarget)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary
		}
		if err != nil && a.Logger != nil {
			a.Logger.Printf("context summarization failed, truncating: %v", err)
		}
	}
	return helpers.TruncateChars(text, fallbackCharBudget)
}

// LLMSummarizer condenses text with a fixed instruction template against the
// completion provider.
type LLMSummarizer struct {
	Provider provider.Provider
}

func (s *LLMSummarizer) Summarize(ctx context.Context, text string, targetTokens int) (string, error) {
	prompt := fmt.Sprintf(
		"Condensa el siguiente texto en aproximadamente %d palabras, preservando los hechos clave, montos, fechas y requisitos. Responde solo con el texto condensado.\n\n%s",
		targetTokens, text)
	return s.Provider.Complete(ctx, []provider.Message{{Role: "user", Content: prompt}})
}
