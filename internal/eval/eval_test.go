package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"rag_assistant/internal/llm"
	"rag_assistant/internal/pipeline"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func strPtr(s string) *string { return &s }

// fakeJudge answers with a fixed verdict, or fails for prompts containing
// failOn.
type fakeJudge struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	failOn  string
}

func (f *fakeJudge) CompleteFunction(_ context.Context, prompt string, fn llm.FunctionSpec) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if fn.Name != verdictFunction {
		return nil, errors.New("unexpected function " + fn.Name)
	}
	if f.failOn != "" && strings.Contains(prompt, f.failOn) {
		return nil, errors.New("judge timeout")
	}
	reply := f.reply
	if reply == "" {
		reply = `{"explanation":"ok","correct":true}`
	}
	return json.RawMessage(reply), nil
}

func (f *fakeJudge) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakePredictor struct {
	k        int
	contexts []string
	failOn   string
}

func (p *fakePredictor) K() int { return p.k }

func (p *fakePredictor) Run(_ context.Context, q string) (pipeline.Result, error) {
	if p.failOn != "" && q == p.failOn {
		return pipeline.Result{Question: q}, errors.New("generation service unavailable")
	}
	return pipeline.Result{Question: q, Answer: "answer to " + q, Contexts: p.contexts}, nil
}

func TestScore_CorrectnessShortCircuitsWithoutReference(t *testing.T) {
	judge := &fakeJudge{}
	j := NewJudge(judge, quiet)

	for _, ref := range []*string{nil, strPtr(""), strPtr("  ")} {
		o := j.Score(context.Background(), DefaultCriteria()[0], Input{Question: "q", Reference: ref, Answer: "a"})
		if o.Key != Correctness || o.Score != 0 {
			t.Fatalf("unexpected outcome %+v", o)
		}
		if o.Comment != "No reference answer in dataset (expected_output not found)" {
			t.Fatalf("unexpected comment %q", o.Comment)
		}
	}
	if judge.calls() != 0 {
		t.Fatalf("judge must not be called, got %d calls", judge.calls())
	}
}

func TestScore_OtherShortCircuits(t *testing.T) {
	judge := &fakeJudge{}
	j := NewJudge(judge, quiet)
	c := DefaultCriteria()

	tests := []struct {
		criterion Criterion
		in        Input
		comment   string
	}{
		{c[1], Input{Question: "q", Answer: "a"}, "No retrieved contexts provided for groundedness check"},
		{c[2], Input{Question: "", Answer: "a", Contexts: []string{"x"}}, "No question provided"},
		{c[3], Input{Question: "q", Answer: "a"}, "No retrieved contexts provided"},
	}
	for _, tt := range tests {
		t.Run(string(tt.criterion.Key), func(t *testing.T) {
			o := j.Score(context.Background(), tt.criterion, tt.in)
			if o.Score != 0 || o.Comment != tt.comment {
				t.Fatalf("unexpected outcome %+v", o)
			}
		})
	}
	if judge.calls() != 0 {
		t.Fatalf("judge must not be called, got %d calls", judge.calls())
	}
}

func TestScore_Verdicts(t *testing.T) {
	ref := strPtr("28 дней")
	in := Input{Question: "Сколько дней отпуска?", Reference: ref, Answer: "28", Contexts: []string{"Отпуск 28 дней."}}

	tests := []struct {
		name        string
		reply       string
		wantScore   float64
		wantComment string
	}{
		{"correct", `{"explanation":"matches","correct":true}`, 1, "matches"},
		{"incorrect", `{"explanation":"contradicts","correct":false}`, 0, "contradicts"},
		{"missing field", `{"explanation":"x"}`, 0, "Evaluation failed: invalid verdict"},
		{"extra field", `{"explanation":"x","correct":true,"score":5}`, 0, "Evaluation failed: invalid verdict"},
		{"wrong type", `{"explanation":"x","correct":"yes"}`, 0, "Evaluation failed: invalid verdict"},
		{"not json", `correct`, 0, "Evaluation failed: invalid verdict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJudge(&fakeJudge{reply: tt.reply}, quiet)
			o := j.Score(context.Background(), DefaultCriteria()[0], in)
			if o.Score != tt.wantScore || !strings.HasPrefix(o.Comment, tt.wantComment) {
				t.Fatalf("got %+v", o)
			}
		})
	}
}

func TestScore_JudgeErrorBecomesZero(t *testing.T) {
	j := NewJudge(&fakeJudge{failOn: "QUESTION"}, quiet)
	o := j.Score(context.Background(), DefaultCriteria()[2], Input{Question: "q", Answer: "a"})
	if o.Score != 0 || o.Comment != "Evaluation failed: judge timeout" {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

func TestCriteria_PromptsCarryInputs(t *testing.T) {
	in := Input{Question: "Q1", Reference: strPtr("R1"), Answer: "A1", Contexts: []string{"C1", "C2"}}
	c := DefaultCriteria()
	checks := map[Key][]string{
		Correctness:        {"QUESTION: Q1", "GROUND TRUTH ANSWER: R1", "STUDENT ANSWER: A1"},
		Groundedness:       {"CONTEXT: C1\n\nC2", "STUDENT ANSWER: A1"},
		Relevance:          {"QUESTION: Q1", "STUDENT ANSWER: A1"},
		RetrievalRelevance: {"QUESTION: Q1", "RETRIEVED DOCUMENTS: C1\n\nC2"},
	}
	for _, crit := range c {
		p := crit.Prompt(in)
		for _, want := range checks[crit.Key] {
			if !strings.Contains(p, want) {
				t.Fatalf("%s prompt lacks %q:\n%s", crit.Key, want, p)
			}
		}
		if !strings.Contains(p, `"correct": true or false`) {
			t.Fatalf("%s prompt lacks the response format", crit.Key)
		}
	}
}

func TestRun_FaultIsolation(t *testing.T) {
	examples := []Example{
		{ID: "1", Input: "первый", ExpectedOutput: strPtr("r1")},
		{ID: "2", Input: "второй", ExpectedOutput: strPtr("r2")},
		{ID: "3", Input: "третий"},
	}
	// The judge fails for everything mentioning the second answer.
	judge := &fakeJudge{failOn: "answer to второй"}
	ev := NewEvaluator(&fakePredictor{k: 3, contexts: []string{"ctx"}}, NewJudge(judge, quiet), WithLogger(quiet))

	report, err := ev.Run(context.Background(), Experiment{Prefix: "RAG_k3"}, examples)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Examples) != len(examples) {
		t.Fatalf("got %d entries, want %d", len(report.Examples), len(examples))
	}
	for i, ex := range report.Examples {
		if ex.Example.ID != examples[i].ID {
			t.Fatalf("entry %d is example %s, order not preserved", i, ex.Example.ID)
		}
		if len(ex.Outcomes) != 4 {
			t.Fatalf("entry %d has %d outcomes", i, len(ex.Outcomes))
		}
		for j, k := range []Key{Correctness, Groundedness, Relevance, RetrievalRelevance} {
			if ex.Outcomes[j].Key != k {
				t.Fatalf("entry %d outcome %d is %s, want %s", i, j, ex.Outcomes[j].Key, k)
			}
		}
	}

	second := report.Examples[1]
	for _, k := range []Key{Correctness, Groundedness, Relevance} {
		o, _ := second.Score(k)
		if o.Score != 0 || !strings.HasPrefix(o.Comment, "Evaluation failed:") {
			t.Fatalf("example 2 %s: %+v", k, o)
		}
	}
	// Retrieval relevance does not look at the answer, so it still passes.
	if o, _ := second.Score(RetrievalRelevance); o.Score != 1 {
		t.Fatalf("example 2 retrieval relevance: %+v", o)
	}

	if o, _ := report.Examples[0].Score(Correctness); o.Score != 1 {
		t.Fatalf("example 1 correctness: %+v", o)
	}
	if o, _ := report.Examples[2].Score(Correctness); o.Score != 0 || !strings.Contains(o.Comment, "No reference") {
		t.Fatalf("example 3 correctness: %+v", o)
	}

	if got := report.Summary[Correctness]; got < 0.33 || got > 0.34 {
		t.Fatalf("correctness mean %v", got)
	}
	if got := report.Summary[RetrievalRelevance]; got != 1 {
		t.Fatalf("retrieval relevance mean %v", got)
	}
}

func TestRun_PredictionFailureScoresAllZero(t *testing.T) {
	judge := &fakeJudge{}
	ev := NewEvaluator(&fakePredictor{k: 3, contexts: []string{"ctx"}, failOn: "b"}, NewJudge(judge, quiet), WithLogger(quiet))
	report, err := ev.Run(context.Background(), Experiment{}, []Example{{ID: "a", Input: "a"}, {ID: "b", Input: "b"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	failed := report.Examples[1]
	if failed.Error == "" || len(failed.Outcomes) != 4 {
		t.Fatalf("unexpected failed entry %+v", failed)
	}
	for _, o := range failed.Outcomes {
		if o.Score != 0 || !strings.Contains(o.Comment, "generation service unavailable") {
			t.Fatalf("unexpected outcome %+v", o)
		}
	}
	// Only example "a" reaches the judge: three calls, correctness short-circuits.
	if judge.calls() != 3 {
		t.Fatalf("expected 3 judge calls, got %d", judge.calls())
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev := NewEvaluator(&fakePredictor{k: 3}, NewJudge(&fakeJudge{}, quiet), WithLogger(quiet))
	report, err := ev.Run(ctx, Experiment{}, []Example{{ID: "a", Input: "a"}, {ID: "b", Input: "b"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(report.Examples) != 2 {
		t.Fatalf("expected an entry per example, got %d", len(report.Examples))
	}
}

// orderPredictor records the order questions arrive in and cancels the run
// after cancelAfter calls when cancel is set.
type orderPredictor struct {
	mu          sync.Mutex
	calls       []string
	cancelAfter int
	cancel      context.CancelFunc
}

func (p *orderPredictor) K() int { return 3 }

func (p *orderPredictor) Run(_ context.Context, q string) (pipeline.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, q)
	if p.cancel != nil && len(p.calls) == p.cancelAfter {
		p.cancel()
	}
	p.mu.Unlock()
	return pipeline.Result{Question: q, Answer: "answer to " + q, Contexts: []string{"ctx"}}, nil
}

func numbered(n int) []Example {
	examples := make([]Example, n)
	for i := range examples {
		q := fmt.Sprintf("q%02d", i)
		examples[i] = Example{ID: q, Input: q, ExpectedOutput: strPtr("r")}
	}
	return examples
}

func TestRun_SequentialInDatasetOrder(t *testing.T) {
	examples := numbered(30)
	pred := &orderPredictor{}
	ev := NewEvaluator(pred, NewJudge(&fakeJudge{}, quiet), WithLogger(quiet))
	if _, err := ev.Run(context.Background(), Experiment{}, examples); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(pred.calls) != len(examples) {
		t.Fatalf("expected %d predictions, got %d", len(examples), len(pred.calls))
	}
	for i, q := range pred.calls {
		if q != examples[i].Input {
			t.Fatalf("prediction %d was %q, want %q (order %v)", i, q, examples[i].Input, pred.calls)
		}
	}
}

func TestRun_CancelLeavesUnevaluatedSuffix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	examples := numbered(10)
	pred := &orderPredictor{cancelAfter: 4, cancel: cancel}
	ev := NewEvaluator(pred, NewJudge(&fakeJudge{}, quiet), WithLogger(quiet))

	report, err := ev.Run(ctx, Experiment{}, examples)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(pred.calls) != 4 {
		t.Fatalf("expected 4 predictions before cancellation, got %v", pred.calls)
	}
	for i, ex := range report.Examples {
		evaluated := ex.Answer != ""
		if evaluated != (i < 4) {
			t.Fatalf("entry %d evaluated=%v; evaluated entries must be a prefix", i, evaluated)
		}
	}
}

func TestRun_ConcurrentKeepsOrder(t *testing.T) {
	var examples []Example
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		examples = append(examples, Example{ID: s, Input: s, ExpectedOutput: strPtr(s)})
	}
	ev := NewEvaluator(&fakePredictor{k: 3, contexts: []string{"ctx"}}, NewJudge(&fakeJudge{}, quiet),
		WithLogger(quiet), WithConcurrency(3))
	report, err := ev.Run(context.Background(), Experiment{}, examples)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, ex := range report.Examples {
		if ex.Example.ID != examples[i].ID || ex.Answer != "answer to "+examples[i].Input {
			t.Fatalf("entry %d out of order: %+v", i, ex)
		}
	}
}

func TestABTest(t *testing.T) {
	ev := NewEvaluator(&fakePredictor{k: 1}, NewJudge(&fakeJudge{}, quiet), WithLogger(quiet))
	withK := func(k int) Predictor { return &fakePredictor{k: k, contexts: []string{"ctx"}} }

	reports, err := ev.ABTest(context.Background(), withK, "ds-1", []Example{{ID: "1", Input: "q", ExpectedOutput: strPtr("r")}}, DefaultVariants())
	if err != nil {
		t.Fatalf("ab test: %v", err)
	}
	if len(reports) != 2 || reports[0].K != 3 || reports[1].K != 5 {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if reports[0].Experiment != "RAG_k3" || reports[1].Description != "RAG с k=5" || reports[1].DatasetID != "ds-1" {
		t.Fatalf("unexpected labels %+v", reports[1])
	}

	table := Compare(reports...)
	for _, want := range []string{"RAG_k3 (k=3)", "RAG_k5 (k=5)", "correctness", "retrieval_relevance", "1.00"} {
		if !strings.Contains(table, want) {
			t.Fatalf("comparison lacks %q:\n%s", want, table)
		}
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "hr.yaml")
	yamlDoc := `name: hr-questions
examples:
  - inputs:
      input: Сколько дней отпуска?
    outputs:
      expected_output: 28 календарных дней
  - inputs:
      input: Кто согласует удаленную работу?
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}
	ds, err := LoadDataset(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if ds.Name != "hr-questions" || len(ds.Examples) != 2 {
		t.Fatalf("unexpected dataset %+v", ds)
	}
	if ds.Examples[0].ExpectedOutput == nil || *ds.Examples[0].ExpectedOutput != "28 календарных дней" {
		t.Fatalf("unexpected reference %+v", ds.Examples[0])
	}
	if ds.Examples[1].ExpectedOutput != nil {
		t.Fatalf("missing reference must stay nil")
	}
	if ds.Examples[1].ID != "hr-questions-2" {
		t.Fatalf("unexpected generated id %q", ds.Examples[1].ID)
	}

	jsonPath := filepath.Join(dir, "flat.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"id":"x1","input":"Вопрос","expected_output":"Ответ"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	ds, err = LoadDataset(jsonPath)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if ds.Name != "flat" || ds.Examples[0].ID != "x1" || ds.Examples[0].Input != "Вопрос" || *ds.Examples[0].ExpectedOutput != "Ответ" {
		t.Fatalf("unexpected dataset %+v", ds.Examples[0])
	}

	emptyPath := filepath.Join(dir, "empty.yaml")
	_ = os.WriteFile(emptyPath, []byte("[]"), 0644)
	if _, err := LoadDataset(emptyPath); err == nil {
		t.Fatalf("expected error for empty dataset")
	}
}

func TestReportExports(t *testing.T) {
	ev := NewEvaluator(&fakePredictor{k: 3, contexts: []string{"ctx"}}, NewJudge(&fakeJudge{}, quiet), WithLogger(quiet))
	report, err := ev.Run(context.Background(), Experiment{Prefix: "RAG_k3", Description: "RAG с k=3"},
		[]Example{{ID: "1", Input: "q", ExpectedOutput: strPtr("r")}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var buf bytes.Buffer
	if err := report.WriteJSON(&buf); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(buf.String(), `"retrieval_relevance": 1`) {
		t.Fatalf("summary missing from json:\n%s", buf.String())
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := report.WriteXLSX(path); err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	q, _ := f.GetCellValue("Results", "B2")
	if q != "q" {
		t.Fatalf("unexpected question cell %q", q)
	}
	name, _ := f.GetCellValue("Summary", "B1")
	if name != "RAG_k3" {
		t.Fatalf("unexpected experiment cell %q", name)
	}
}

func TestVerdictFunctionSchema(t *testing.T) {
	fn, err := VerdictFunction()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var schema struct {
		Type       string                     `json:"type"`
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
		Meta       string                     `json:"$schema"`
	}
	if err := json.Unmarshal(fn.Parameters, &schema); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if schema.Type != "object" || len(schema.Properties) != 2 || len(schema.Required) != 2 || schema.Meta != "" {
		t.Fatalf("unexpected schema %s", fn.Parameters)
	}
}
