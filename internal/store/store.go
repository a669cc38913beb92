package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rag_assistant/internal/eval"
)

// ErrDatasetNotFound is returned for an unknown dataset id.
var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset is a stored, named list of examples.
type Dataset struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"index"`
	CreatedAt time.Time
	Examples  []Example `gorm:"constraint:OnDelete:CASCADE"`
}

// Example is one stored dataset entry. ExpectedOutput is NULL when the
// dataset has no reference answer.
type Example struct {
	ID             string `gorm:"primaryKey"`
	DatasetID      string `gorm:"index"`
	Position       int
	Input          string
	ExpectedOutput *string
}

// Experiment is one evaluation run over a dataset.
type Experiment struct {
	ID          string `gorm:"primaryKey"`
	DatasetID   string `gorm:"index"`
	Prefix      string
	Description string
	K           int
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcomes    []Outcome `gorm:"constraint:OnDelete:CASCADE"`
}

// Outcome is one criterion score for one example of an experiment.
type Outcome struct {
	ID           uint   `gorm:"primaryKey"`
	ExperimentID string `gorm:"index"`
	ExampleID    string
	Criterion    string `gorm:"index"`
	Score        float64
	Comment      string
}

// DatasetInfo is a row of ListDatasets.
type DatasetInfo struct {
	ID        string
	Name      string
	Examples  int
	CreatedAt time.Time
}

// Store persists datasets and experiment results in sqlite.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (and migrates) the sqlite database at path. ":memory:" gives a
// throwaway database.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; an in-memory database also lives on a single
	// connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Dataset{}, &Example{}, &Experiment{}, &Outcome{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	log.Debug("eval store opened", "path", path)
	return &Store{db: db, log: log}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ImportDataset stores examples under a new opaque id.
func (s *Store) ImportDataset(ctx context.Context, name string, examples []eval.Example) (string, error) {
	if len(examples) == 0 {
		return "", errors.New("dataset has no examples")
	}
	ds := Dataset{ID: uuid.NewString(), Name: name}
	ds.Examples = make([]Example, len(examples))
	for i, ex := range examples {
		ds.Examples[i] = Example{
			ID:             uuid.NewString(),
			DatasetID:      ds.ID,
			Position:       i,
			Input:          ex.Input,
			ExpectedOutput: ex.ExpectedOutput,
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&ds).Error
	})
	if err != nil {
		return "", fmt.Errorf("import dataset %q: %w", name, err)
	}
	s.log.Info("dataset imported", "id", ds.ID, "name", name, "examples", len(examples))
	return ds.ID, nil
}

// Examples returns the examples of a dataset in import order.
func (s *Store) Examples(ctx context.Context, datasetID string) ([]eval.Example, error) {
	var ds Dataset
	err := s.db.WithContext(ctx).
		Preload("Examples", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&ds, "id = ?", datasetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
	}
	if err != nil {
		return nil, err
	}

	out := make([]eval.Example, len(ds.Examples))
	for i, ex := range ds.Examples {
		out[i] = eval.Example{ID: ex.ID, Input: ex.Input, ExpectedOutput: ex.ExpectedOutput}
	}
	return out, nil
}

// ListDatasets returns all datasets, newest first.
func (s *Store) ListDatasets(ctx context.Context) ([]DatasetInfo, error) {
	var sets []Dataset
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&sets).Error; err != nil {
		return nil, err
	}

	var counts []struct {
		DatasetID string
		N         int
	}
	err := s.db.WithContext(ctx).
		Model(&Example{}).
		Select("dataset_id, COUNT(*) AS n").
		Group("dataset_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(counts))
	for _, c := range counts {
		byID[c.DatasetID] = c.N
	}

	out := make([]DatasetInfo, len(sets))
	for i, d := range sets {
		out[i] = DatasetInfo{ID: d.ID, Name: d.Name, Examples: byID[d.ID], CreatedAt: d.CreatedAt}
	}
	return out, nil
}

// SaveReport stores an experiment and all its outcomes.
func (s *Store) SaveReport(ctx context.Context, r *eval.Report) error {
	exp := Experiment{
		ID:          r.ID,
		DatasetID:   r.DatasetID,
		Prefix:      r.Experiment,
		Description: r.Description,
		K:           r.K,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	for _, ex := range r.Examples {
		for _, o := range ex.Outcomes {
			exp.Outcomes = append(exp.Outcomes, Outcome{
				ExperimentID: exp.ID,
				ExampleID:    ex.Example.ID,
				Criterion:    string(o.Key),
				Score:        o.Score,
				Comment:      o.Comment,
			})
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&exp).Error
	})
	if err != nil {
		return fmt.Errorf("save experiment %s: %w", r.Experiment, err)
	}
	s.log.Info("experiment saved", "id", exp.ID, "experiment", exp.Prefix, "outcomes", len(exp.Outcomes))
	return nil
}

// Experiments lists the experiments run on a dataset, oldest first. An
// empty datasetID lists all of them.
func (s *Store) Experiments(ctx context.Context, datasetID string) ([]Experiment, error) {
	q := s.db.WithContext(ctx).Order("started_at")
	if datasetID != "" {
		q = q.Where("dataset_id = ?", datasetID)
	}
	var out []Experiment
	return out, q.Find(&out).Error
}

// Summary returns the mean score per key of a stored experiment.
func (s *Store) Summary(ctx context.Context, experimentID string) (map[eval.Key]float64, error) {
	var rows []struct {
		Criterion string
		Mean      float64
	}
	err := s.db.WithContext(ctx).
		Model(&Outcome{}).
		Select("criterion, AVG(score) AS mean").
		Where("experiment_id = ?", experimentID).
		Group("criterion").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[eval.Key]float64, len(rows))
	for _, r := range rows {
		out[eval.Key(r.Criterion)] = r.Mean
	}
	return out, nil
}
