package eval

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rag_assistant/internal/llm"
	"rag_assistant/internal/metrics"
)

// FunctionCaller is the judge model.
type FunctionCaller interface {
	CompleteFunction(ctx context.Context, prompt string, fn llm.FunctionSpec) (json.RawMessage, error)
}

// Outcome is the score of one criterion for one example.
type Outcome struct {
	Key     Key     `json:"key"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// Judge scores criteria with a hosted model.
type Judge struct {
	model FunctionCaller
	log   *slog.Logger
}

// NewJudge creates a judge backed by model.
func NewJudge(model FunctionCaller, log *slog.Logger) *Judge {
	if log == nil {
		log = slog.Default()
	}
	return &Judge{model: model, log: log}
}

// Score evaluates one criterion. It never fails: missing data short-circuits
// to 0.0 with a fixed comment, and any judge error becomes 0.0 with
// "Evaluation failed: <err>".
func (j *Judge) Score(ctx context.Context, c Criterion, in Input) Outcome {
	if c.Precheck != nil {
		if comment, skip := c.Precheck(in); skip {
			metrics.JudgeOutcomes.WithLabelValues(string(c.Key), "skipped").Inc()
			return Outcome{Key: c.Key, Score: 0, Comment: comment}
		}
	}

	ctx, end := metrics.StartSpan(ctx, "judge."+string(c.Key), trace.WithAttributes(
		attribute.String("eval.key", string(c.Key)),
	))

	v, err := j.verdict(ctx, c.Prompt(in))
	end(err)
	if err != nil {
		j.log.Warn("judge failed", "key", c.Key, "error", err)
		metrics.JudgeOutcomes.WithLabelValues(string(c.Key), "error").Inc()
		return Failed(c.Key, err)
	}

	score, result := 0.0, "fail"
	if v.Correct {
		score, result = 1.0, "pass"
	}
	metrics.JudgeOutcomes.WithLabelValues(string(c.Key), result).Inc()
	return Outcome{Key: c.Key, Score: score, Comment: v.Explanation}
}

func (j *Judge) verdict(ctx context.Context, prompt string) (Verdict, error) {
	fn, err := VerdictFunction()
	if err != nil {
		return Verdict{}, err
	}
	raw, err := j.model.CompleteFunction(ctx, prompt, fn)
	if err != nil {
		return Verdict{}, err
	}
	return DecodeVerdict(raw)
}

// Failed is the outcome recorded when a criterion could not be evaluated.
func Failed(key Key, err error) Outcome {
	return Outcome{Key: key, Score: 0, Comment: "Evaluation failed: " + err.Error()}
}
