package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rag_assistant/internal/chunker"
	"rag_assistant/internal/config"
	"rag_assistant/internal/embedding"
	"rag_assistant/internal/eval"
	"rag_assistant/internal/index"
	"rag_assistant/internal/llm"
	"rag_assistant/internal/loader"
	"rag_assistant/internal/pipeline"
)

const appName = "rag_assistant"

// App wires the source document, the index and the hosted models together.
// Init must be called once before answering.
type App struct {
	cfg *config.Config
	log *slog.Logger

	generator *llm.Client
	provider  embedding.Provider

	doc      *loader.Document
	seg      *Segmentation
	index    *index.Index
	pipeline *pipeline.Pipeline
}

// New creates the app. No network or disk work happens here.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	generator, err := llm.New(llm.Config{
		BaseURL:     cfg.LlmMain.URL,
		APIKey:      cfg.APIKey,
		Model:       cfg.LlmMain.Model,
		Temperature: cfg.LlmMain.Temperature,
		MaxTokens:   cfg.LlmMain.MaxTokens,
		AppName:     appName,
	})
	if err != nil {
		return nil, fmt.Errorf("generation client: %w", err)
	}

	provider, err := embedding.New(embedding.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	return &App{cfg: cfg, log: log, generator: generator, provider: provider}, nil
}

// Init loads and segments the source, then builds (or restores) the index.
func (a *App) Init(ctx context.Context) error {
	if a.cfg.APIKey == "" {
		a.log.Warn("OPENROUTER_API_KEY is not set, generation requests will be rejected")
	}
	if a.cfg.Embedding.Provider == "ollama" {
		if err := ensureOllamaModel(ctx, a.cfg.Embedding.BaseURL, strings.TrimPrefix(a.provider.Name(), "ollama:"), a.log); err != nil {
			return fmt.Errorf("ollama model check failed: %w", err)
		}
	}

	doc, err := loader.Load(a.cfg.SourcePath)
	if err != nil {
		return err
	}
	a.doc = doc
	a.log.Info("source loaded", "path", doc.Path, "kind", doc.Kind, "chars", len([]rune(doc.Text)))

	seg, err := Segment(doc, a.cfg.Chunking, a.log)
	if err != nil {
		return err
	}
	a.seg = seg

	store, err := index.NewStore(a.cfg.DataDir, a.cfg.MetadataFile, a.cfg.DBFile, a.log)
	if err != nil {
		return err
	}
	idx, err := index.Build(ctx, seg.Chunks, a.provider, index.Options{
		Store:   store,
		Source:  index.FileInfo{Path: doc.Path, LastModified: doc.ModTime, Size: doc.Size},
		Chunker: seg.Method,
		Reindex: a.cfg.Reindex,
		Logger:  a.log,
	})
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	a.index = idx

	p, err := pipeline.New(idx, a.generator, a.cfg.Retrieval.TopK, a.log)
	if err != nil {
		return err
	}
	a.pipeline = p

	a.log.Info("index ready", "chunks", idx.Len(), "method", seg.Method, "provider", idx.Provider(), "k", p.K())
	return nil
}

// Pipeline is the answer pipeline. Nil before Init.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Segmentation is the result of splitting the source. Nil before Init.
func (a *App) Segmentation() *Segmentation {
	return a.seg
}

// Answer answers one question with the configured k.
func (a *App) Answer(ctx context.Context, question string) (string, error) {
	if a.pipeline == nil {
		return "", errors.New("app is not initialized")
	}
	return a.pipeline.Answer(ctx, question)
}

// Summary is a one-line description of the loaded corpus.
func (a *App) Summary() string {
	if a.index == nil || a.doc == nil {
		return ""
	}
	return fmt.Sprintf("%s: %d фрагментов (%s), эмбеддинги %s, k=%d",
		a.doc.Name, a.index.Len(), a.seg.Method, a.index.Provider(), a.pipeline.K())
}

// Evaluator builds the evaluation harness over the pipeline, judged by the
// configured judge model.
func (a *App) Evaluator() (*eval.Evaluator, error) {
	if a.pipeline == nil {
		return nil, errors.New("app is not initialized")
	}
	judgeModel, err := llm.New(llm.Config{
		BaseURL:     a.cfg.LlmMain.URL,
		APIKey:      a.cfg.APIKey,
		Model:       a.cfg.Judge.Model,
		Temperature: a.cfg.Judge.Temperature,
		MaxTokens:   a.cfg.Judge.MaxTokens,
		AppName:     appName,
	})
	if err != nil {
		return nil, fmt.Errorf("judge client: %w", err)
	}
	return eval.NewEvaluator(a.pipeline, eval.NewJudge(judgeModel, a.log),
		eval.WithConcurrency(a.cfg.Judge.Concurrency),
		eval.WithLogger(a.log),
	), nil
}

// PredictorForK returns the pipeline retrieving k chunks, for A/B runs.
func (a *App) PredictorForK(k int) eval.Predictor {
	return a.pipeline.WithK(k)
}

// Segmentation describes how the source was split.
type Segmentation struct {
	Chunks []chunker.Chunk
	Method string
	// Dropped counts article segments without a parseable number.
	Dropped int
}

// Segment splits doc with the configured method. A structured chunker that
// fails or yields nothing falls back to the sliding window.
func Segment(doc *loader.Document, cfg config.Chunking, log *slog.Logger) (*Segmentation, error) {
	if log == nil {
		log = slog.Default()
	}
	factory := chunker.NewFactory(chunker.Config{
		ChunkSize:    cfg.Size,
		ChunkOverlap: cfg.Overlap,
		Keyword:      cfg.ArticleKeyword,
		Pattern:      cfg.ArticlePattern,
	})

	ch, err := factory.GetChunker(doc.Path, doc.Text, cfg.Method)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunker: %w", err)
	}

	seg := &Segmentation{Method: ch.Name()}
	if articles, ok := ch.(*chunker.ArticleChunker); ok {
		res := articles.Split(doc.Text, doc.Name)
		seg.Chunks, seg.Dropped = res.Chunks, res.Dropped
		if res.Dropped > 0 {
			log.Warn("article segments without a number were dropped", "dropped", res.Dropped)
		}
	} else {
		seg.Chunks, err = ch.Chunk(doc.Text, doc.Name)
	}

	if err != nil || len(seg.Chunks) == 0 {
		fallback := factory.Fallback()
		log.Warn("chunker failed, falling back", "chunker", seg.Method, "fallback", fallback.Name(), "error", err)
		seg.Method = fallback.Name()
		seg.Chunks, err = fallback.Chunk(doc.Text, doc.Name)
		if err != nil {
			return nil, fmt.Errorf("text chunker failed: %w", err)
		}
	}
	if len(seg.Chunks) == 0 {
		return nil, loader.ErrSourceEmpty
	}

	log.Info("source segmented", "method", seg.Method, "chunks", len(seg.Chunks))
	return seg, nil
}
