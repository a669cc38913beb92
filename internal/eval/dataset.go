package eval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset is a named list of examples.
type Dataset struct {
	Name     string
	Examples []Example
}

// datasetFile mirrors the inputs/outputs layout of exported evaluation
// datasets. JSON files parse with the same decoder.
type datasetFile struct {
	Name     string        `yaml:"name"`
	Examples []fileExample `yaml:"examples"`
}

type fileExample struct {
	ID     string `yaml:"id"`
	Input  string `yaml:"input"`
	Inputs struct {
		Input string `yaml:"input"`
	} `yaml:"inputs"`
	Expected *string `yaml:"expected_output"`
	Outputs  struct {
		ExpectedOutput *string `yaml:"expected_output"`
	} `yaml:"outputs"`
}

func (f fileExample) example() Example {
	ex := Example{ID: f.ID, Input: f.Inputs.Input, ExpectedOutput: f.Outputs.ExpectedOutput}
	if ex.Input == "" {
		ex.Input = f.Input
	}
	if ex.ExpectedOutput == nil {
		ex.ExpectedOutput = f.Expected
	}
	return ex
}

// LoadDataset reads a YAML or JSON dataset file. The file is either a
// document with "name" and "examples" or a bare list of examples.
func LoadDataset(path string) (*Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	var items []fileExample
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var doc datasetFile
	if err := yaml.Unmarshal(b, &doc); err == nil && doc.Examples != nil {
		items = doc.Examples
		if doc.Name != "" {
			name = doc.Name
		}
	} else if err := yaml.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, errors.New("dataset has no examples")
	}

	ds := &Dataset{Name: name, Examples: make([]Example, len(items))}
	for i, it := range items {
		ds.Examples[i] = it.example()
		if ds.Examples[i].ID == "" {
			ds.Examples[i].ID = fmt.Sprintf("%s-%d", name, i+1)
		}
	}
	return ds, nil
}

// Variant is one arm of an A/B experiment.
type Variant struct {
	Prefix      string
	Description string
	K           int
}

// DefaultVariants compares retrieving 3 and 5 chunks.
func DefaultVariants() []Variant {
	return VariantsForK(3, 5)
}

// VariantsForK builds one variant per k.
func VariantsForK(ks ...int) []Variant {
	out := make([]Variant, len(ks))
	for i, k := range ks {
		out[i] = Variant{
			Prefix:      fmt.Sprintf("RAG_k%d", k),
			Description: fmt.Sprintf("RAG с k=%d", k),
			K:           k,
		}
	}
	return out
}

// ABTest runs the same dataset once per variant, one after another. withK
// returns the predictor for a retrieval depth.
func (e *Evaluator) ABTest(ctx context.Context, withK func(k int) Predictor, datasetID string, examples []Example, variants []Variant) ([]*Report, error) {
	reports := make([]*Report, 0, len(variants))
	for _, v := range variants {
		ev := e.WithPredictor(withK(v.K))
		r, err := ev.Run(ctx, Experiment{Prefix: v.Prefix, Description: v.Description, DatasetID: datasetID}, examples)
		if r != nil {
			reports = append(reports, r)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}
