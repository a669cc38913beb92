package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(WithEnvironment(map[string]string{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunking.Size != 400 || cfg.Chunking.Overlap != 50 {
		t.Fatalf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Chunking.ArticleKeyword != "Статья" {
		t.Fatalf("unexpected keyword %q", cfg.Chunking.ArticleKeyword)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Fatalf("unexpected top k %d", cfg.Retrieval.TopK)
	}
	if len(cfg.Retrieval.ABTestKs) != 2 || cfg.Retrieval.ABTestKs[0] != 3 || cfg.Retrieval.ABTestKs[1] != 5 {
		t.Fatalf("unexpected A/B ks %v", cfg.Retrieval.ABTestKs)
	}
	if cfg.LlmMain.URL != "https://openrouter.ai/api/v1" || cfg.LlmMain.MaxTokens != 512 {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LlmMain)
	}
	if cfg.LlmMain.Model != "mistralai/mistral-7b-instruct:free" {
		t.Fatalf("unexpected llm model %q", cfg.LlmMain.Model)
	}
	if cfg.WebSessionTTL != 30*time.Minute || cfg.WebMaxSessions != 1000 {
		t.Fatalf("unexpected session defaults: %v, %d", cfg.WebSessionTTL, cfg.WebMaxSessions)
	}
	if cfg.LlmMain.Temperature != 0.1 {
		t.Fatalf("unexpected temperature %v", cfg.LlmMain.Temperature)
	}
	if cfg.Judge.Model != "google/gemini-2.0-flash-001" || cfg.Judge.Temperature != 0 || cfg.Judge.Concurrency != 1 {
		t.Fatalf("unexpected judge defaults: %+v", cfg.Judge)
	}
	if cfg.DBFile != filepath.Join("./data", "index.gob.gz") {
		t.Fatalf("unexpected db file %q", cfg.DBFile)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(WithEnvironment(map[string]string{
		"SOURCE_PATH":        "/srv/constitution.txt",
		"DATA_DIR":           "/tmp/rag",
		"CHUNK_SIZE":         "800",
		"CHUNK_METHOD":       "article",
		"TOP_K":              "5",
		"EMBED_PROVIDER":     "openai",
		"LLM_MODEL":          "meta-llama/llama-3-8b-instruct",
		"OPENROUTER_API_KEY": "sk-test",
		"JUDGE_MAX_TOKENS":   "256",

		"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4317",
		"OTEL_EXPORTER_OTLP_INSECURE": "true",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SourcePath != "/srv/constitution.txt" || cfg.Chunking.Size != 800 || cfg.Chunking.Method != "article" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Embedding.Provider != "openai" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.LlmMain.Model != "meta-llama/llama-3-8b-instruct" || cfg.APIKey != "sk-test" || cfg.Judge.MaxTokens != 256 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || !cfg.Tracing.Insecure || cfg.Tracing.SamplingRate != 1 {
		t.Fatalf("tracing overrides not applied: %+v", cfg.Tracing)
	}
	if cfg.MetadataFile != filepath.Join("/tmp/rag", "index_meta.json") {
		t.Fatalf("unexpected metadata file %q", cfg.MetadataFile)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"zero chunk size", map[string]string{"CHUNK_SIZE": "0"}, "CHUNK_SIZE"},
		{"negative overlap", map[string]string{"CHUNK_OVERLAP": "-1"}, "CHUNK_OVERLAP"},
		{"zero k", map[string]string{"TOP_K": "0"}, "TOP_K"},
		{"bad provider", map[string]string{"EMBED_PROVIDER": "bert"}, "EMBED_PROVIDER"},
		{"zero batch concurrency", map[string]string{"BATCH_CONCURRENCY": "0"}, "BATCH_CONCURRENCY"},
		{"zero session ttl", map[string]string{"WEB_SESSION_TTL": "0s"}, "WEB_SESSION_TTL"},
		{"zero session cap", map[string]string{"WEB_MAX_SESSIONS": "0"}, "WEB_MAX_SESSIONS"},
		{"sampling above one", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
		{"bad method", map[string]string{"CHUNK_METHOD": "semantic"}, "CHUNK_METHOD"},
		{"not a number", map[string]string{"CHUNK_SIZE": "big"}, "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(WithEnvironment(tt.env))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
