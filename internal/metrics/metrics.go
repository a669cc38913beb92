// Package metrics holds the Prometheus collectors and the tracer shared by
// the answer pipeline, the evaluator and the web front end.
//
// Collectors are registered with the default registry once, at package init,
// and are exposed by the web server at /metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "rag_assistant"

var (
	// Answers counts pipeline runs.
	// Labels: status (success|retrieval_error|generation_error)
	Answers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_total",
		Help:      "Total number of answered questions by status",
	}, []string{"status"})

	// AnswerDuration measures end-to-end answer latency in seconds.
	AnswerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "answer_duration_seconds",
		Help:      "Duration of retrieval plus generation in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// LLMRequests counts calls to the hosted generation service.
	// Labels: model, status (success|error)
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "Total number of LLM requests by model and status",
	}, []string{"model", "status"})

	// LLMTokens tracks token consumption.
	// Labels: model, type (prompt|completion)
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_total",
		Help:      "Total number of tokens used by model and type",
	}, []string{"model", "type"})

	// JudgeOutcomes counts evaluator verdicts.
	// Labels: key, result (pass|fail|skipped|error)
	JudgeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "judge_outcomes_total",
		Help:      "Total number of evaluator outcomes by criterion and result",
	}, []string{"key", "result"})

	// IndexedChunks is the number of chunks in the retrieval index.
	IndexedChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "indexed_chunks",
		Help:      "Number of chunks in the retrieval index",
	})

	// HTTPRequests counts web requests.
	// Labels: method, path, status_code
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	// ActiveSessions is the number of live web chat sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of in-memory web chat sessions",
	})
)

// Tracer returns the process tracer. Spans are no-ops until SetupTracing
// installs an exporting provider.
func Tracer() trace.Tracer {
	return otel.Tracer(namespace)
}

// StartSpan starts a span and returns a function that ends it, recording err
// when it is non-nil.
//
//	ctx, end := metrics.StartSpan(ctx, "pipeline.answer")
//	defer func() { end(err) }()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, func(error)) {
	ctx, span := Tracer().Start(ctx, name, opts...)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
