package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/xuri/excelize/v2"
)

// ExampleResult is the prediction and the outcomes for one example.
type ExampleResult struct {
	Example  Example   `json:"example"`
	Answer   string    `json:"answer"`
	Contexts []string  `json:"retrieved_contexts"`
	Error    string    `json:"error,omitempty"`
	Outcomes []Outcome `json:"outcomes"`
}

// Score returns the outcome for key, if present.
func (r ExampleResult) Score(key Key) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Key == key {
			return o, true
		}
	}
	return Outcome{}, false
}

func (r ExampleResult) scoreString() string {
	parts := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		parts[i] = fmt.Sprintf("%s=%.0f", o.Key, o.Score)
	}
	return strings.Join(parts, " ")
}

// Report is the result of one experiment.
type Report struct {
	ID          string          `json:"id"`
	Experiment  string          `json:"experiment"`
	Description string          `json:"description"`
	DatasetID   string          `json:"dataset_id,omitempty"`
	K           int             `json:"k"`
	Keys        []Key           `json:"keys"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Examples    []ExampleResult `json:"examples"`
	Summary     map[Key]float64 `json:"summary"`
}

// Summarize computes the mean score per key.
func (r *Report) Summarize() {
	sums := make(map[Key]float64, len(r.Keys))
	counts := make(map[Key]int, len(r.Keys))
	for _, ex := range r.Examples {
		for _, o := range ex.Outcomes {
			sums[o.Key] += o.Score
			counts[o.Key]++
		}
	}
	r.Summary = make(map[Key]float64, len(r.Keys))
	for _, k := range r.Keys {
		if counts[k] > 0 {
			r.Summary[k] = sums[k] / float64(counts[k])
		} else {
			r.Summary[k] = 0
		}
	}
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteXLSX writes a workbook with a "Results" sheet (one row per example)
// and a "Summary" sheet.
func (r *Report) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const results = "Results"
	if err := f.SetSheetName("Sheet1", results); err != nil {
		return err
	}

	header := []any{"#", "Question", "Expected", "Answer", "Contexts", "Error"}
	for _, k := range r.Keys {
		header = append(header, string(k), string(k)+" comment")
	}
	if err := f.SetSheetRow(results, "A1", &header); err != nil {
		return err
	}

	for i, ex := range r.Examples {
		expected := ""
		if ex.Example.ExpectedOutput != nil {
			expected = *ex.Example.ExpectedOutput
		}
		row := []any{i + 1, ex.Example.Input, expected, ex.Answer, strings.Join(ex.Contexts, "\n\n"), ex.Error}
		for _, k := range r.Keys {
			o, _ := ex.Score(k)
			row = append(row, o.Score, o.Comment)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(results, cell, &row); err != nil {
			return err
		}
	}

	const summary = "Summary"
	if _, err := f.NewSheet(summary); err != nil {
		return err
	}
	meta := [][]any{
		{"Experiment", r.Experiment},
		{"Description", r.Description},
		{"Dataset", r.DatasetID},
		{"k", r.K},
		{"Examples", len(r.Examples)},
		{"Started", r.StartedAt.Format(time.RFC3339)},
		{"Finished", r.FinishedAt.Format(time.RFC3339)},
	}
	for _, k := range r.Keys {
		meta = append(meta, []any{string(k), r.Summary[k]})
	}
	for i, row := range meta {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Compare renders the per-key means of several reports side by side.
func Compare(reports ...*Report) string {
	if len(reports) == 0 {
		return ""
	}
	headers := []string{"metric"}
	for _, r := range reports {
		headers = append(headers, fmt.Sprintf("%s (k=%d)", r.Experiment, r.K))
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			// Заголовок приходит строкой 0
			if row == 0 {
				return headerStyle
			}
			return cellStyle
		})

	for _, k := range reports[0].Keys {
		row := []string{string(k)}
		for _, r := range reports {
			row = append(row, fmt.Sprintf("%.2f", r.Summary[k]))
		}
		t.Row(row...)
	}
	return t.String()
}
