package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rag_assistant/internal/pipeline"
)

// Example is one dataset entry.
type Example struct {
	ID             string  `json:"id" yaml:"id"`
	Input          string  `json:"input" yaml:"input"`
	ExpectedOutput *string `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
}

// Predictor produces an answer and its retrieved contexts.
type Predictor interface {
	Run(ctx context.Context, question string) (pipeline.Result, error)
	K() int
}

// Evaluator runs a predictor over a dataset and scores every example with
// each criterion in order.
type Evaluator struct {
	predictor Predictor
	judge     *Judge
	criteria  []Criterion
	// Concurrency bounds how many examples are evaluated at once. The judge
	// service is rate limited, so the default is 1.
	concurrency int
	log         *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCriteria replaces the default criteria.
func WithCriteria(c ...Criterion) Option {
	return func(e *Evaluator) { e.criteria = c }
}

// WithConcurrency sets the number of examples evaluated in parallel.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n >= 1 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Evaluator) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEvaluator creates an evaluator.
func NewEvaluator(predictor Predictor, judge *Judge, opts ...Option) *Evaluator {
	e := &Evaluator{
		predictor:   predictor,
		judge:       judge,
		criteria:    DefaultCriteria(),
		concurrency: 1,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithPredictor returns a copy evaluating a different predictor.
func (e *Evaluator) WithPredictor(p Predictor) *Evaluator {
	cp := *e
	cp.predictor = p
	return &cp
}

// Experiment labels a run.
type Experiment struct {
	Prefix      string
	Description string
	DatasetID   string
}

// Run evaluates every example, starting them in dataset order. With
// concurrency 1 the examples run strictly one after another. The report
// always holds one entry per example in dataset order; the only error is
// context cancellation.
func (e *Evaluator) Run(ctx context.Context, exp Experiment, examples []Example) (*Report, error) {
	report := &Report{
		ID:          uuid.NewString(),
		Experiment:  exp.Prefix,
		Description: exp.Description,
		DatasetID:   exp.DatasetID,
		K:           e.predictor.K(),
		Keys:        Keys(e.criteria),
		StartedAt:   time.Now(),
		Examples:    make([]ExampleResult, len(examples)),
	}

	e.log.Info("evaluation started", "experiment", exp.Prefix, "examples", len(examples), "k", report.K)

	if e.concurrency == 1 {
		for i, ex := range examples {
			if ctx.Err() != nil {
				break
			}
			e.evaluateInto(ctx, report, i, ex, len(examples))
		}
	} else {
		// Лимит группы ограничивает число одновременных примеров
		var g errgroup.Group
		g.SetLimit(e.concurrency)
		for i, ex := range examples {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				e.evaluateInto(ctx, report, i, ex, len(examples))
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, ex := range examples {
		if report.Examples[i].Outcomes == nil {
			report.Examples[i] = e.cancelled(ex, ctx.Err())
		}
	}

	report.FinishedAt = time.Now()
	report.Summarize()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("evaluation interrupted: %w", err)
	}
	e.log.Info("evaluation finished", "experiment", exp.Prefix, "summary", report.Summary)
	return report, nil
}

func (e *Evaluator) evaluateInto(ctx context.Context, report *Report, idx int, ex Example, total int) {
	report.Examples[idx] = e.evaluate(ctx, ex)
	e.log.Info("example evaluated", "n", idx+1, "of", total, "scores", report.Examples[idx].scoreString())
}

func (e *Evaluator) evaluate(ctx context.Context, ex Example) ExampleResult {
	res := ExampleResult{Example: ex}

	pred, err := e.predictor.Run(ctx, ex.Input)
	res.Answer = pred.Answer
	res.Contexts = pred.Contexts
	if err != nil {
		e.log.Warn("prediction failed", "example", ex.ID, "error", err)
		res.Error = err.Error()
		res.Outcomes = e.failAll(fmt.Errorf("prediction: %w", err))
		return res
	}

	in := Input{
		Question:  ex.Input,
		Reference: ex.ExpectedOutput,
		Answer:    pred.Answer,
		Contexts:  pred.Contexts,
	}
	res.Outcomes = make([]Outcome, 0, len(e.criteria))
	for _, c := range e.criteria {
		res.Outcomes = append(res.Outcomes, e.judge.Score(ctx, c, in))
	}
	return res
}

func (e *Evaluator) failAll(err error) []Outcome {
	out := make([]Outcome, len(e.criteria))
	for i, c := range e.criteria {
		out[i] = Failed(c.Key, err)
	}
	return out
}

func (e *Evaluator) cancelled(ex Example, err error) ExampleResult {
	if err == nil {
		err = errors.New("not evaluated")
	}
	return ExampleResult{Example: ex, Error: err.Error(), Outcomes: e.failAll(err)}
}
