package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/diego-ramazzini/muniagent/config"
	"github.com/diego-ramazzini/muniagent/internal/helpers"
	"github.com/diego-ramazzini/muniagent/internal/provider"
	"github.com/diego-ramazzini/muniagent/internal/provider/openrouter"
	"github.com/diego-ramazzini/muniagent/internal/telemetry"
	"github.com/diego-ramazzini/muniagent/internal/websearch"
)

// Fixed user-facing messages for the gated paths.
const (
	WaitingMessage = "Uno de nuestros colaboradores se pondrá en contacto en breve, por favor espere."
	RefusalMessage = "Lo sentimos, no podemos ayudar con esa consulta."
)

// defaultSystemPrompt frames the model as the municipal assistant.
const defaultSystemPrompt = "Eres el asistente virtual de la municipalidad. Responde de forma clara y cortés usando únicamente el contexto proporcionado. Si el contexto no contiene la respuesta, indícalo honestamente."

// ConversationLogger persists answered turns.
type ConversationLogger interface {
	LogExchange(ctx context.Context, sessionID int64, question, answer string, confidence float64) error
}

// Result is the outcome of one chat turn.
type Result struct {
	Text       string
	Confidence float64
	// Escalated is set when this turn's confidence fell below the threshold
	// and the conversation was handed to a human.
	Escalated bool
	// Waiting is set when the conversation was already escalated and no
	// model call was made.
	Waiting bool
	// Refused is set when the content filter rejected the question.
	Refused bool
}

// Agent is the retrieval-augmented answer pipeline: filter, escalation gate,
// retrieval and context assembly, streamed generation, confidence scoring,
// escalation update and logging. One Agent serves all requests; per-turn
// state lives in locals.
type Agent struct {
	cfg         config.AgentConfig
	provider    provider.Provider
	assembler   *Assembler
	filter      *Filter
	escalations EscalationTracker
	scorer      Scorer
	fallback    Scorer
	searcher    websearch.Searcher
	logbook     ConversationLogger
	metrics     *telemetry.Telemetry
	logger      *log.Logger
}

// New wires the pipeline. searcher may be nil, disabling the web-search
// fallback; metrics may be nil.
func New(cfg config.AgentConfig, p provider.Provider, knowledge Knowledge, tracker EscalationTracker,
	logbook ConversationLogger, searcher websearch.Searcher, metrics *telemetry.Telemetry, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	summarizer := &LLMSummarizer{Provider: p}
	fragmenter := &Fragmenter{
		Embedder:          p,
		Summarizer:        summarizer,
		Logger:            logger,
		MaxFragments:      cfg.MaxFragments,
		TokensPerFragment: cfg.TokensPerFragment,
		TokenCeiling:      cfg.FragmentTokenCeiling,
		TokenTarget:       cfg.FragmentTokenTarget,
	}
	assembler := &Assembler{
		Knowledge:    knowledge,
		Fragmenter:   fragmenter,
		Summarizer:   summarizer,
		Logger:       logger,
		Metrics:      metrics,
		TopK:         cfg.TopK,
		FaqLimit:     cfg.FaqLimit,
		TokenCeiling: cfg.ContextTokenCeiling,
		TokenTarget:  cfg.ContextTokenTarget,
	}
	return &Agent{
		cfg:         cfg,
		provider:    p,
		assembler:   assembler,
		filter:      NewFilter(cfg.Denylist),
		escalations: tracker,
		scorer:      ConstantScorer{Value: 0.8},
		fallback:    PatternScorer{Default: 0.8},
		searcher:    searcher,
		logbook:     logbook,
		metrics:     metrics,
		logger:      logger,
	}
}

// Escalations exposes the tracker for the clear endpoints and staff console.
func (a *Agent) Escalations() EscalationTracker { return a.escalations }

// Answer runs one chat turn, invoking emit for each answer chunk in order.
// emit returning an error (typically the client disconnecting) stops the turn.
// supplement carries session-scoped uploaded-document text, already selected
// for relevance; empty means no upload in play.
func (a *Agent) Answer(ctx context.Context, key ConversationKey, sessionID int64, question, supplement string, emit func(chunk string) error) (Result, error) {
	start := time.Now()
	question = helpers.SanitizeText(question)

	if !a.filter.Allowed(question) {
		a.count(telemetry.OutcomeRefused)
		return Result{Text: RefusalMessage, Refused: true}, emit(RefusalMessage)
	}

	if a.escalations.IsEscalated(ctx, key) {
		a.count(telemetry.OutcomeWaiting)
		return Result{Text: WaitingMessage, Waiting: true}, emit(WaitingMessage)
	}

	embedding := a.embedQuestion(ctx, question)
	bundle := a.assembler.Assemble(ctx, question, embedding, supplement)

	res, err := a.generate(ctx, question, bundle, emit)
	if err != nil {
		return res, err
	}

	if res.Confidence < a.cfg.ConfidenceThreshold {
		a.escalations.Escalate(ctx, key)
		res.Escalated = true
		if a.metrics != nil {
			a.metrics.Escalations.Inc()
		}
		a.count(telemetry.OutcomeEscalated)
	} else {
		a.count(telemetry.OutcomeAnswered)
	}
	if a.metrics != nil {
		a.metrics.AnswerConfidence.Observe(res.Confidence)
		a.metrics.ChatDuration.Observe(time.Since(start).Seconds())
	}

	if a.logbook != nil {
		if err := a.logbook.LogExchange(ctx, sessionID, question, res.Text, res.Confidence); err != nil {
			a.logger.Printf("exchange logging failed: %v", err)
		}
	}
	return res, nil
}

// generate drives the streaming model call and its fallbacks. It returns an
// error only when the consumer stopped the stream; provider failures always
// degrade to a diagnostic chunk or a fallback answer.
func (a *Agent) generate(ctx context.Context, question string, bundle ContextBundle, emit func(string) error) (Result, error) {
	prompt := a.systemPrompt()
	user := question
	if bundle.Text != "" {
		user = bundle.Text + "\n\nPregunta: " + question
	}
	messages := []provider.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: user},
	}

	var answer strings.Builder
	streamErr := a.provider.ChatStream(ctx, messages, func(delta string) error {
		answer.WriteString(delta)
		if a.metrics != nil {
			a.metrics.StreamChunks.Inc()
		}
		return emit(delta)
	})

	if streamErr == nil {
		text := answer.String()
		return Result{Text: text, Confidence: a.scorer.Score(text)}, nil
	}
	if ctx.Err() != nil || answer.Len() > 0 {
		// Consumer gone, or a mid-stream transport failure after partial
		// output: emit one diagnostic chunk and end the turn.
		if ctx.Err() != nil {
			return Result{Text: answer.String()}, streamErr
		}
		diag := diagnosticChunk(streamErr)
		if err := emit(diag); err != nil {
			return Result{Text: answer.String()}, err
		}
		text := answer.String()
		return Result{Text: text, Confidence: a.scorer.Score(text)}, nil
	}

	// Structural failure before any output: try the search-augmented
	// fallback, otherwise surface the provider diagnostic.
	a.logger.Printf("streaming generation failed, attempting fallback: %v", streamErr)
	if text, ok := a.fallbackAnswer(ctx, question); ok {
		a.count(telemetry.OutcomeFallback)
		return Result{Text: text, Confidence: a.fallback.Score(text)}, emit(text)
	}
	diag := diagnosticChunk(streamErr)
	return Result{Text: diag, Confidence: 0}, emit(diag)
}

// fallbackAnswer builds a non-streaming, web-search-augmented answer. The
// model is asked to self-report confidence so the pattern scorer can gate
// escalation on the result.
func (a *Agent) fallbackAnswer(ctx context.Context, question string) (string, bool) {
	if a.searcher == nil {
		return "", false
	}
	results, err := a.searcher.Search(ctx, question, 5)
	if err != nil || len(results) == 0 {
		if err != nil {
			a.logger.Printf("web search fallback failed: %v", err)
		}
		return "", false
	}
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", r.Title, r.Snippet, r.URL)
	}
	prompt := fmt.Sprintf(
		"Con base en estos resultados de búsqueda, responde la pregunta del ciudadano. Termina con una línea \"confidence: NN%%\" estimando tu confianza.\n\nResultados:\n%s\nPregunta: %s",
		sb.String(), question)
	text, err := a.provider.Complete(ctx, []provider.Message{
		{Role: "system", Content: a.systemPrompt()},
		{Role: "user", Content: prompt},
	})
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			a.logger.Printf("fallback completion failed: %v", err)
		}
		return "", false
	}
	return text, true
}

// embedQuestion returns the question embedding or nil when the embedding
// service is unavailable; retrieval then degrades to FAQ-only context.
func (a *Agent) embedQuestion(ctx context.Context, question string) []float32 {
	vecs, err := a.provider.CreateEmbedding(ctx, []string{question})
	if err != nil || len(vecs) == 0 {
		if err != nil {
			a.logger.Printf("question embedding failed, degrading to empty context: %v", err)
			if a.metrics != nil {
				a.metrics.RetrievalFailures.Inc()
			}
		}
		return nil
	}
	return vecs[0]
}

func (a *Agent) systemPrompt() string {
	if a.cfg.SystemPrompt != "" {
		return a.cfg.SystemPrompt
	}
	return defaultSystemPrompt
}

func (a *Agent) count(outcome string) {
	if a.metrics != nil {
		a.metrics.ChatRequests.WithLabelValues(outcome).Inc()
	}
}

// diagnosticChunk renders a provider failure as a single user-visible chunk.
// Status errors carry the provider's own error body.
func diagnosticChunk(err error) string {
	var statusErr *openrouter.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("[error del proveedor] %s", statusErr.Body)
	}
	return fmt.Sprintf("[error de conexión] %v", err)
}
