package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"rag_assistant/internal/metrics"
)

// ErrEmptyResponse is returned when the service answers without any choice.
var ErrEmptyResponse = errors.New("no response from LLM")

// Config configures a client for one model.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	// AppName is sent as X-Title for OpenRouter dashboards.
	AppName string
}

// Client talks to an OpenAI-compatible chat completions endpoint
// (OpenRouter by default). It is safe for concurrent use.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// FunctionSpec describes the function the model is forced to call.
type FunctionSpec struct {
	Name        string
	Description string
	// Parameters is a JSON schema object.
	Parameters json.RawMessage
}

// New creates a client. The API key may be empty for local endpoints.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.AppName != "" {
		clientConfig.HTTPClient = &http.Client{Transport: titleTransport{title: cfg.AppName}}
	}
	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Model is the model id requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Complete sends prompt as a single user message and returns the text of the
// first choice unchanged.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.create(ctx, c.request(prompt))
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteFunction forces the model to call fn and returns the raw call
// arguments. Models that ignore tool choice and answer with a bare JSON
// object in the content are accepted too.
func (c *Client) CompleteFunction(ctx context.Context, prompt string, fn FunctionSpec) (json.RawMessage, error) {
	req := c.request(prompt)
	req.Tools = []openai.Tool{{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		},
	}}
	req.ToolChoice = openai.ToolChoice{
		Type:     openai.ToolTypeFunction,
		Function: openai.ToolFunction{Name: fn.Name},
	}

	resp, err := c.create(ctx, req)
	if err != nil {
		return nil, err
	}

	msg := resp.Choices[0].Message
	for _, call := range msg.ToolCalls {
		if call.Function.Name == fn.Name || call.Function.Name == "" {
			return json.RawMessage(call.Function.Arguments), nil
		}
	}
	if content := strings.TrimSpace(msg.Content); strings.HasPrefix(content, "{") {
		return json.RawMessage(content), nil
	}
	return nil, fmt.Errorf("model did not call %s", fn.Name)
}

func (c *Client) request(prompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: wireTemperature(c.temperature),
		MaxTokens:   c.maxTokens,
	}
}

func (c *Client) create(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(c.model, "error").Inc()
		return resp, fmt.Errorf("request failed: %w", err)
	}
	metrics.LLMRequests.WithLabelValues(c.model, "success").Inc()
	metrics.LLMTokens.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return resp, ErrEmptyResponse
	}
	return resp, nil
}

// wireTemperature keeps an explicit zero from being dropped by omitempty.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// titleTransport adds the OpenRouter app attribution header.
type titleTransport struct {
	title string
}

func (t titleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("X-Title", t.title)
	return http.DefaultTransport.RoundTrip(req)
}
