package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const defaultOllamaURL = "http://localhost:11434"

// ensureOllamaModel checks that Ollama is reachable at baseURL and pulls the
// embedding model when it is missing. baseURL may end in /api.
func ensureOllamaModel(ctx context.Context, baseURL, model string, log *slog.Logger) error {
	type ollamaPullRequest struct {
		Name   string `json:"name"`
		Stream bool   `json:"stream"`
	}

	root := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/api")
	if root == "" {
		root = defaultOllamaURL
	}

	body, err := ollamaGet(ctx, root+"/api/tags")
	if err != nil {
		return fmt.Errorf("ollama is not running or not reachable at %s: %w", root, err)
	}
	if bytes.Contains(body, []byte(`"`+model)) {
		log.Info("ollama model is available", "model", model)
		return nil
	}

	log.Info("ollama model not found, pulling", "model", model)
	b, _ := json.Marshal(ollamaPullRequest{Name: model, Stream: false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, root+"/api/pull", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to pull model %s: %w", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to pull model %s: status %d", model, resp.StatusCode)
	}
	log.Info("ollama model pulled", "model", model)
	return nil
}

func ollamaGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
