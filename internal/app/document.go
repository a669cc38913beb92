package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rag_assistant/internal/chat"
	"rag_assistant/internal/eval"
)

// QuestionResult is the answer to one question of a batch.
type QuestionResult struct {
	Index   int
	Text    string
	Answer  string
	Sources []string
	Error   error
}

// BatchReport is the outcome of answering a questions file.
type BatchReport struct {
	FileName     string
	Results      []*QuestionResult
	SuccessCount int
	ErrorCount   int
	ProcessedAt  string
}

// AnswerFile answers every question of questionsPath and writes a markdown
// report to outputPath. Plain text files hold one question per line (lines
// starting with # are skipped); .yaml/.json files are read as datasets.
func (a *App) AnswerFile(ctx context.Context, questionsPath, outputPath string) (*BatchReport, error) {
	if a.pipeline == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	questions, err := readQuestions(questionsPath)
	if err != nil {
		return nil, err
	}
	a.log.Info("questions loaded", "file", questionsPath, "questions", len(questions))

	// Семафор ограничивает число одновременных запросов к модели
	sem := make(chan struct{}, max(1, a.cfg.BatchConcurrency))
	results := make([]*QuestionResult, len(questions))
	var wg sync.WaitGroup

	for i, q := range questions {
		wg.Add(1)
		go func(idx int, question string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = &QuestionResult{Index: idx + 1, Text: question, Error: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			result := &QuestionResult{Index: idx + 1, Text: question}
			res, err := a.pipeline.Run(ctx, question)
			if err != nil {
				result.Error = err
			} else {
				result.Answer = res.Answer
				result.Sources = GroupBySection(res.Chunks)
			}
			results[idx] = result
			a.log.Info("question answered", "n", idx+1, "of", len(questions), "ok", err == nil)
		}(i, q)
	}
	wg.Wait()

	report := &BatchReport{
		FileName:    filepath.Base(questionsPath),
		Results:     results,
		ProcessedAt: time.Now().Format("2006-01-02 15:04:05"),
	}
	for _, r := range results {
		if r.Error != nil {
			report.ErrorCount++
		} else {
			report.SuccessCount++
		}
	}
	a.log.Info("batch finished", "answered", report.SuccessCount, "errors", report.ErrorCount)

	if outputPath != "" {
		if err := saveBatchReport(report, outputPath); err != nil {
			return report, fmt.Errorf("failed to save results: %w", err)
		}
		a.log.Info("results saved", "path", outputPath)
	}
	return report, ctx.Err()
}

func readQuestions(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		ds, err := eval.LoadDataset(path)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(ds.Examples))
		for _, ex := range ds.Examples {
			out = append(out, ex.Input)
		}
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no questions in %s", path)
	}
	return out, nil
}

// saveBatchReport writes the report as markdown.
func saveBatchReport(r *BatchReport, outputPath string) error {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("# Ответы на вопросы: %s\n\n", r.FileName))
	buf.WriteString(fmt.Sprintf("**Дата:** %s\n\n", r.ProcessedAt))
	buf.WriteString(fmt.Sprintf("**Всего вопросов:** %d\n\n", len(r.Results)))

	buf.WriteString("## Итоговая статистика\n\n")
	buf.WriteString(fmt.Sprintf("- Отвечено: %d\n", r.SuccessCount))
	buf.WriteString(fmt.Sprintf("- Ошибок: %d\n\n", r.ErrorCount))

	buf.WriteString("## Ответы\n\n")
	for _, q := range r.Results {
		buf.WriteString(fmt.Sprintf("### Вопрос %d: %s\n\n", q.Index, q.Text))
		if q.Error != nil {
			buf.WriteString(chat.ErrorText(q.Error))
			buf.WriteString("\n\n---\n\n")
			continue
		}
		buf.WriteString(q.Answer)
		buf.WriteString("\n\n")
		if len(q.Sources) > 0 {
			buf.WriteString("**Источники:** ")
			buf.WriteString(strings.Join(q.Sources, "; "))
			buf.WriteString("\n\n")
		}
		buf.WriteString("---\n\n")
	}

	return os.WriteFile(outputPath, []byte(buf.String()), 0644)
}
