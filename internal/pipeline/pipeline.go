package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rag_assistant/internal/chunker"
	"rag_assistant/internal/metrics"
)

// FallbackAnswer is the sentence the model is told to use when the context
// does not contain the answer.
const FallbackAnswer = "Информация по этому вопросу отсутствует в регламентах. Обратитесь в HR."

// DefaultTemplate is the instruction sent to the generation service.
// {context} and {question} are substituted per request.
const DefaultTemplate = `Ты — внутренний ассистент компании. Отвечай строго на основе предоставленного контекста.
Контекст: {context}
Вопрос: {question}

Правила:
1. Если ответ есть в контексте — дай краткий, точный ответ.
2. Обязательно укажи, откуда информация (например: «Согласно разделу 4.3 регламента»).
3. Если в контексте нет ответа — скажи: «` + FallbackAnswer + `»
4. Никогда не выдумывай.
`

// Retriever returns the top-k chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]chunker.Chunk, error)
}

// Generator completes a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Result is one answered question together with what was retrieved for it.
type Result struct {
	Question string
	Answer   string
	Contexts []string
	Chunks   []chunker.Chunk
}

// Pipeline answers questions from the indexed corpus. It holds no per-request
// state, so one value may serve concurrent callers.
type Pipeline struct {
	retriever Retriever
	generator Generator
	k         int
	template  string
	log       *slog.Logger
}

// New creates a pipeline retrieving k chunks per question.
func New(retriever Retriever, generator Generator, k int, log *slog.Logger) (*Pipeline, error) {
	if retriever == nil || generator == nil {
		return nil, errors.New("pipeline: retriever and generator are required")
	}
	if k < 1 {
		return nil, fmt.Errorf("pipeline: k must be at least 1, got %d", k)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{retriever: retriever, generator: generator, k: k, template: DefaultTemplate, log: log}, nil
}

// K is the number of chunks retrieved per question.
func (p *Pipeline) K() int {
	return p.k
}

// WithK returns a copy retrieving k chunks. k < 1 keeps the current value.
func (p *Pipeline) WithK(k int) *Pipeline {
	cp := *p
	if k >= 1 {
		cp.k = k
	}
	return &cp
}

// WithTemplate returns a copy using a different instruction template.
func (p *Pipeline) WithTemplate(tmpl string) *Pipeline {
	cp := *p
	cp.template = tmpl
	return &cp
}

// Answer returns the raw generated answer.
func (p *Pipeline) Answer(ctx context.Context, question string) (string, error) {
	res, err := p.Run(ctx, question)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Run retrieves, builds the prompt and generates. Retrieval and generation
// errors are returned to the caller as is (wrapped), without retries.
func (p *Pipeline) Run(ctx context.Context, question string) (res Result, err error) {
	start := time.Now()
	ctx, end := metrics.StartSpan(ctx, "pipeline.answer", trace.WithAttributes(
		attribute.Int("rag.k", p.k),
	))
	defer func() { end(err) }()

	res.Question = question

	chunks, err := p.retriever.Retrieve(ctx, question, p.k)
	if err != nil {
		metrics.Answers.WithLabelValues("retrieval_error").Inc()
		return res, fmt.Errorf("retrieve context: %w", err)
	}
	res.Chunks = chunks
	res.Contexts = Contexts(chunks)

	prompt := p.BuildPrompt(question, res.Contexts)
	p.log.Debug("generating answer", "k", p.k, "chunks", len(chunks), "prompt_chars", len(prompt))

	answer, err := p.generator.Complete(ctx, prompt)
	if err != nil {
		metrics.Answers.WithLabelValues("generation_error").Inc()
		return res, fmt.Errorf("generate answer: %w", err)
	}
	res.Answer = answer

	metrics.Answers.WithLabelValues("success").Inc()
	metrics.AnswerDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

// BuildPrompt fills the template with the context block and the question.
func (p *Pipeline) BuildPrompt(question string, contexts []string) string {
	return strings.NewReplacer(
		"{context}", strings.Join(contexts, "\n\n"),
		"{question}", question,
	).Replace(p.template)
}

// Contexts returns the chunk texts in retrieval order.
func Contexts(chunks []chunker.Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}
