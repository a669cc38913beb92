package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	SourcePath string `env:"SOURCE_PATH" envDefault:"./data/hr_policy.txt"`
	DataDir    string `env:"DATA_DIR" envDefault:"./data"`
	Reindex    bool   `env:"REINDEX" envDefault:"false"`

	Chunking  Chunking
	Retrieval Retrieval
	Embedding Embedding `envPrefix:"EMBED_"`
	LlmMain   LLM       `envPrefix:"LLM_"`
	Judge     Judge     `envPrefix:"JUDGE_"`
	Tracing   Tracing   `envPrefix:"OTEL_"`

	APIKey  string `env:"OPENROUTER_API_KEY"`
	EvalDB  string `env:"EVAL_DB" envDefault:"./data/eval.db"`
	WebAddr string `env:"WEB_ADDR" envDefault:":8501"`

	WebSessionTTL  time.Duration `env:"WEB_SESSION_TTL" envDefault:"30m"`
	WebMaxSessions int           `env:"WEB_MAX_SESSIONS" envDefault:"1000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	BatchConcurrency int `env:"BATCH_CONCURRENCY" envDefault:"1"`

	MetadataFile string
	DBFile       string
}

type Chunking struct {
	Size           int    `env:"CHUNK_SIZE" envDefault:"400"`
	Overlap        int    `env:"CHUNK_OVERLAP" envDefault:"50"`
	ArticleKeyword string `env:"ARTICLE_KEYWORD" envDefault:"Статья"`
	ArticlePattern string `env:"ARTICLE_PATTERN"`
	Method         string `env:"CHUNK_METHOD" envDefault:"auto"`
}

type Retrieval struct {
	TopK     int   `env:"TOP_K" envDefault:"3"`
	ABTestKs []int `env:"ABTEST_KS" envDefault:"3,5" envSeparator:","`
}

type Embedding struct {
	Provider string `env:"PROVIDER" envDefault:"tfidf"`
	Model    string `env:"MODEL" envDefault:"text-embedding-3-small"`
	BaseURL  string `env:"BASE_URL"`
	APIKey   string `env:"API_KEY"`
}

type LLM struct {
	URL         string  `env:"BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	Model       string  `env:"MODEL" envDefault:"mistralai/mistral-7b-instruct:free"`
	Temperature float32 `env:"TEMPERATURE" envDefault:"0.1"`
	MaxTokens   int     `env:"MAX_TOKENS" envDefault:"512"`
}

// Tracing enables OTLP span export when Endpoint is set.
type Tracing struct {
	Endpoint     string  `env:"EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"EXPORTER_OTLP_INSECURE" envDefault:"false"`
	SamplingRate float64 `env:"TRACES_SAMPLER_ARG" envDefault:"1"`
}

type Judge struct {
	Model       string  `env:"MODEL" envDefault:"google/gemini-2.0-flash-001"`
	Temperature float32 `env:"TEMPERATURE" envDefault:"0"`
	MaxTokens   int     `env:"MAX_TOKENS" envDefault:"512"`
	Concurrency int     `env:"CONCURRENCY" envDefault:"1"`
}

// Option tweaks how the environment is parsed.
type Option func(*env.Options)

// WithEnvironment parses the given map instead of the process environment.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) {
		o.Environment = vars
	}
}

// Load parses the configuration from the environment and validates it.
func Load(opts ...Option) (*Config, error) {
	var o env.Options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, o); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.MetadataFile = filepath.Join(cfg.DataDir, "index_meta.json")
	cfg.DBFile = filepath.Join(cfg.DataDir, "index.gob.gz")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the segmenter or the retriever cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.SourcePath == "" {
		errs = append(errs, errors.New("SOURCE_PATH is required"))
	}
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must not be negative, got %d", c.Chunking.Overlap))
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, fmt.Errorf("TOP_K must be at least 1, got %d", c.Retrieval.TopK))
	}
	for _, k := range c.Retrieval.ABTestKs {
		if k < 1 {
			errs = append(errs, fmt.Errorf("ABTEST_KS entries must be at least 1, got %d", k))
		}
	}
	if c.Judge.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("JUDGE_CONCURRENCY must be at least 1, got %d", c.Judge.Concurrency))
	}
	if c.WebSessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("WEB_SESSION_TTL must be positive, got %s", c.WebSessionTTL))
	}
	if c.WebMaxSessions < 1 {
		errs = append(errs, fmt.Errorf("WEB_MAX_SESSIONS must be at least 1, got %d", c.WebMaxSessions))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0, 1], got %v", c.Tracing.SamplingRate))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.BatchConcurrency))
	}
	switch c.Chunking.Method {
	case "auto", "text", "article", "markdown":
	default:
		errs = append(errs, fmt.Errorf("unknown CHUNK_METHOD %q", c.Chunking.Method))
	}
	switch c.Embedding.Provider {
	case "tfidf", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("unknown EMBED_PROVIDER %q", c.Embedding.Provider))
	}
	return errors.Join(errs...)
}
