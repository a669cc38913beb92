package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type captured struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ToolChoice struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tool_choice"`
	Tools []struct {
		Function struct {
			Name       string          `json:"name"`
			Parameters json.RawMessage `json:"parameters"`
		} `json:"function"`
	} `json:"tools"`
}

func fakeServer(t *testing.T, reply string, status int, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if got != nil {
			if err := json.Unmarshal(body, got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	var got captured
	srv := fakeServer(t, `{"id":"1","object":"chat.completion","model":"m",
		"choices":[{"index":0,"message":{"role":"assistant","content":"Отпуск составляет 28 дней."},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`, http.StatusOK, &got)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "sk", Model: "openai/gpt-4o-mini", Temperature: 0.1, MaxTokens: 512})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	answer, err := c.Complete(context.Background(), "Сколько дней отпуска?")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if answer != "Отпуск составляет 28 дней." {
		t.Fatalf("unexpected answer %q", answer)
	}
	if got.Model != "openai/gpt-4o-mini" || got.MaxTokens != 512 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "Сколько дней отпуска?" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestComplete_ZeroTemperatureIsSent(t *testing.T) {
	var got captured
	srv := fakeServer(t, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`, http.StatusOK, &got)
	c, _ := New(Config{BaseURL: srv.URL, Model: "judge"})
	if _, err := c.Complete(context.Background(), "x"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Temperature == nil || *got.Temperature > 1e-6 {
		t.Fatalf("expected near-zero temperature on the wire, got %v", got.Temperature)
	}
}

func TestComplete_Errors(t *testing.T) {
	srv := fakeServer(t, `{"choices":[]}`, http.StatusOK, nil)
	c, _ := New(Config{BaseURL: srv.URL, Model: "m"})
	if _, err := c.Complete(context.Background(), "x"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}

	srv = fakeServer(t, `{"error":{"message":"rate limited","type":"rate_limit"}}`, http.StatusTooManyRequests, nil)
	c, _ = New(Config{BaseURL: srv.URL, Model: "m"})
	if _, err := c.Complete(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for 429")
	}

	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without model")
	}
}

func TestCompleteFunction(t *testing.T) {
	var got captured
	srv := fakeServer(t, `{"choices":[{"message":{"role":"assistant","content":"",
		"tool_calls":[{"id":"c1","type":"function","function":{"name":"grade","arguments":"{\"explanation\":\"ok\",\"correct\":true}"}}]}}]}`,
		http.StatusOK, &got)

	c, _ := New(Config{BaseURL: srv.URL, Model: "judge"})
	args, err := c.CompleteFunction(context.Background(), "grade this", FunctionSpec{
		Name:       "grade",
		Parameters: json.RawMessage(`{"type":"object"}`),
	})
	if err != nil {
		t.Fatalf("complete function: %v", err)
	}
	if string(args) != `{"explanation":"ok","correct":true}` {
		t.Fatalf("unexpected arguments %s", args)
	}
	if got.ToolChoice.Type != "function" || got.ToolChoice.Function.Name != "grade" {
		t.Fatalf("tool choice not forced: %+v", got.ToolChoice)
	}
	if len(got.Tools) != 1 || string(got.Tools[0].Function.Parameters) != `{"type":"object"}` {
		t.Fatalf("unexpected tools %+v", got.Tools)
	}
}

func TestCompleteFunction_ContentFallback(t *testing.T) {
	srv := fakeServer(t, `{"choices":[{"message":{"role":"assistant","content":" {\"correct\":false,\"explanation\":\"no\"} "}}]}`, http.StatusOK, nil)
	c, _ := New(Config{BaseURL: srv.URL, Model: "judge"})
	args, err := c.CompleteFunction(context.Background(), "p", FunctionSpec{Name: "grade"})
	if err != nil {
		t.Fatalf("complete function: %v", err)
	}
	if string(args) != `{"correct":false,"explanation":"no"}` {
		t.Fatalf("unexpected arguments %s", args)
	}

	srv = fakeServer(t, `{"choices":[{"message":{"role":"assistant","content":"I think it is correct"}}]}`, http.StatusOK, nil)
	c, _ = New(Config{BaseURL: srv.URL, Model: "judge"})
	if _, err := c.CompleteFunction(context.Background(), "p", FunctionSpec{Name: "grade"}); err == nil {
		t.Fatalf("expected error when no function call is returned")
	}
}
