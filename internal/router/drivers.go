package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avimaybee/twinclaw/pkg/models"
)

func resolveAPIKey(provider *models.ModelProvider) string {
	if provider.APIKeyName == "" {
		return ""
	}
	return os.Getenv(provider.APIKeyName)
}

// resolveChatURL returns the full chat-completion URL to call: a
// configured provider.Endpoint is used verbatim (it already includes the
// provider's completion path, e.g. ".../v1/chat/completions"), otherwise
// defaultBase+suffix is used.
func resolveChatURL(provider *models.ModelProvider, defaultBase, suffix string) string {
	if provider.Endpoint != "" {
		return provider.Endpoint
	}
	return defaultBase + suffix
}

// resolveBaseURL strips a configured provider.Endpoint down to its host
// root for non-chat calls (health checks, discovery), falling back to
// defaultBase when unset.
func resolveBaseURL(provider *models.ModelProvider, defaultBase string) string {
	if provider.Endpoint == "" {
		return defaultBase
	}
	ep := provider.Endpoint
	for _, suffix := range []string{"/chat/completions", "/messages", "/api/chat"} {
		if strings.HasSuffix(ep, suffix) {
			return strings.TrimSuffix(ep, suffix)
		}
	}
	return strings.TrimRight(ep, "/")
}

// parseRetryAfter reads a Retry-After header, in either delta-seconds or
// HTTP-date form, falling back to zero when absent or malformed.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return client.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header), Body: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// ── OpenAI-compatible wire shapes (shared by OpenAI, Azure, Ollama, LiteLLM) ──

type oaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaChatRequest struct {
	Model    string          `json:"model"`
	Messages []oaChatMessage `json:"messages"`
}

type oaChatChoice struct {
	Message struct {
		Content          string `json:"content"`
		ReasoningContent string `json:"reasoning_content,omitempty"`
	} `json:"message"`
}

type oaChatResponse struct {
	Choices []oaChatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func toOAMessages(msgs []models.ChatMessage) []oaChatMessage {
	out := make([]oaChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = oaChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func fromOAResponse(provider *models.ModelProvider, model string, resp *oaChatResponse) *models.AssistantMessage {
	out := &models.AssistantMessage{ProviderID: provider.ID, ModelID: model}
	out.Usage = models.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		if rc := resp.Choices[0].Message.ReasoningContent; rc != "" {
			out.Thinking = append(out.Thinking, models.ThinkingBlock{Text: rc})
		}
	}
	return out
}

func callOpenAICompatible(ctx context.Context, client *http.Client, provider *models.ModelProvider, req *ChatRequest, url string, headers map[string]string) (*models.AssistantMessage, error) {
	payload := oaChatRequest{Model: req.Model, Messages: toOAMessages(req.Messages)}
	resp, err := doJSON(ctx, client, http.MethodPost, url, headers, payload)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed oaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}
	return fromOAResponse(provider, req.Model, &parsed), nil
}

// ── OpenAIDriver ──────────────────────────────────────────────

type OpenAIDriver struct{ router *ModelRouter }

func (d *OpenAIDriver) Kind() string { return "openai" }

func (d *OpenAIDriver) Call(ctx context.Context, provider *models.ModelProvider, req *ChatRequest) (*models.AssistantMessage, error) {
	url := resolveChatURL(provider, "https://api.openai.com/v1", "/chat/completions")
	headers := map[string]string{"Authorization": "Bearer " + resolveAPIKey(provider)}
	return callOpenAICompatible(ctx, d.router.client, provider, req, url, headers)
}

func (d *OpenAIDriver) HealthCheck(ctx context.Context, provider *models.ModelProvider) error {
	base := resolveBaseURL(provider, "https://api.openai.com/v1")
	resp, err := doJSON(ctx, d.router.client, http.MethodGet, base+"/models", map[string]string{
		"Authorization": "Bearer " + resolveAPIKey(provider),
	}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (d *OpenAIDriver) DiscoverModels(ctx context.Context, provider *models.ModelProvider) ([]DiscoveredModel, error) {
	base := resolveBaseURL(provider, "https://api.openai.com/v1")
	resp, err := doJSON(ctx, d.router.client, http.MethodGet, base+"/models", map[string]string{
		"Authorization": "Bearer " + resolveAPIKey(provider),
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var parsed struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
			Created int64  `json:"created"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]DiscoveredModel, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, DiscoveredModel{ID: m.ID, Provider: provider.ID, Kind: d.Kind(), OwnedBy: m.OwnedBy, CreatedAt: m.Created})
	}
	return out, nil
}

func (d *OpenAIDriver) EmbeddingModels() []EmbeddingModelInfo {
	return []EmbeddingModelInfo{
		{Model: "text-embedding-3-small", Dimensions: 1536, MaxBatch: 2048},
		{Model: "text-embedding-3-large", Dimensions: 3072, MaxBatch: 2048},
	}
}

func (d *OpenAIDriver) Embed(ctx context.Context, provider *models.ModelProvider, model string, texts []string) ([][]float64, error) {
	base := resolveBaseURL(provider, "https://api.openai.com/v1")
	payload := map[string]any{"model": model, "input": texts}
	resp, err := doJSON(ctx, d.router.client, http.MethodPost, base+"/embeddings", map[string]string{
		"Authorization": "Bearer " + resolveAPIKey(provider),
	}, payload)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

var (
	_ ProviderDriver         = (*OpenAIDriver)(nil)
	_ ModelDiscoveryDriver   = (*OpenAIDriver)(nil)
	_ EmbeddingCapableDriver = (*OpenAIDriver)(nil)
)

// ── AzureOpenAIDriver ─────────────────────────────────────────

type AzureOpenAIDriver struct{ router *ModelRouter }

func (d *AzureOpenAIDriver) Kind() string { return "azure-openai" }

func (d *AzureOpenAIDriver) Call(ctx context.Context, provider *models.ModelProvider, req *ChatRequest) (*models.AssistantMessage, error) {
	if provider.Endpoint == "" {
		return nil, fmt.Errorf("azure-openai provider %s has no endpoint configured", provider.ID)
	}
	headers := map[string]string{"api-key": resolveAPIKey(provider)}
	return callOpenAICompatible(ctx, d.router.client, provider, req, provider.Endpoint, headers)
}

func (d *AzureOpenAIDriver) HealthCheck(ctx context.Context, provider *models.ModelProvider) error {
	if provider.Endpoint == "" {
		return fmt.Errorf("azure-openai provider %s has no endpoint configured", provider.ID)
	}
	resp, err := doJSON(ctx, d.router.client, http.MethodGet, resolveBaseURL(provider, "")+"/models", map[string]string{
		"api-key": resolveAPIKey(provider),
	}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

var _ ProviderDriver = (*AzureOpenAIDriver)(nil)

// ── AnthropicDriver ───────────────────────────────────────────

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type AnthropicDriver struct{ router *ModelRouter }

func (d *AnthropicDriver) Kind() string { return "anthropic" }

func (d *AnthropicDriver) Call(ctx context.Context, provider *models.ModelProvider, req *ChatRequest) (*models.AssistantMessage, error) {
	url := resolveChatURL(provider, "https://api.anthropic.com/v1", "/messages")

	var system string
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	payload := anthropicRequest{Model: req.Model, Messages: messages, System: system, MaxTokens: 4096}
	resp, err := doJSON(ctx, d.router.client, http.MethodPost, url, map[string]string{
		"x-api-key":         resolveAPIKey(provider),
		"anthropic-version": "2023-06-01",
	}, payload)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &models.AssistantMessage{ProviderID: provider.ID, ModelID: req.Model}
	out.Usage = models.TokenUsage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "thinking":
			out.Thinking = append(out.Thinking, models.ThinkingBlock{Text: block.Text})
		}
	}
	if out.Content == "" && len(out.Thinking) == 0 {
		return nil, fmt.Errorf("provider returned no content blocks")
	}
	return out, nil
}

func (d *AnthropicDriver) HealthCheck(ctx context.Context, provider *models.ModelProvider) error {
	url := resolveChatURL(provider, "https://api.anthropic.com/v1", "/messages")
	payload := anthropicRequest{
		Model:     provider.ModelName,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	resp, err := doJSON(ctx, d.router.client, http.MethodPost, url, map[string]string{
		"x-api-key":         resolveAPIKey(provider),
		"anthropic-version": "2023-06-01",
	}, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

var _ ProviderDriver = (*AnthropicDriver)(nil)

// ── OllamaDriver ──────────────────────────────────────────────

type OllamaDriver struct{ router *ModelRouter }

func (d *OllamaDriver) Kind() string { return "ollama" }

func (d *OllamaDriver) Call(ctx context.Context, provider *models.ModelProvider, req *ChatRequest) (*models.AssistantMessage, error) {
	url := resolveChatURL(provider, "http://localhost:11434/v1", "/chat/completions")
	return callOpenAICompatible(ctx, d.router.client, provider, req, url, nil)
}

func (d *OllamaDriver) HealthCheck(ctx context.Context, provider *models.ModelProvider) error {
	base := strings.TrimSuffix(resolveBaseURL(provider, "http://localhost:11434/v1"), "/v1")
	resp, err := doJSON(ctx, d.router.client, http.MethodGet, base+"/api/tags", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (d *OllamaDriver) DiscoverModels(ctx context.Context, provider *models.ModelProvider) ([]DiscoveredModel, error) {
	base := strings.TrimSuffix(resolveBaseURL(provider, "http://localhost:11434/v1"), "/v1")
	resp, err := doJSON(ctx, d.router.client, http.MethodGet, base+"/api/tags", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]DiscoveredModel, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		out = append(out, DiscoveredModel{ID: m.Name, Provider: provider.ID, Kind: d.Kind()})
	}
	return out, nil
}

func (d *OllamaDriver) EmbeddingModels() []EmbeddingModelInfo {
	return []EmbeddingModelInfo{{Model: "nomic-embed-text", Dimensions: 768, MaxBatch: 64}}
}

func (d *OllamaDriver) Embed(ctx context.Context, provider *models.ModelProvider, model string, texts []string) ([][]float64, error) {
	base := strings.TrimSuffix(resolveBaseURL(provider, "http://localhost:11434/v1"), "/v1")
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		resp, err := doJSON(ctx, d.router.client, http.MethodPost, base+"/api/embeddings", nil, map[string]any{
			"model": model, "prompt": text,
		})
		if err != nil {
			return nil, err
		}
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		var parsed struct {
			Embedding []float64 `json:"embedding"`
		}
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, parsed.Embedding)
	}
	return out, nil
}

var (
	_ ProviderDriver         = (*OllamaDriver)(nil)
	_ ModelDiscoveryDriver   = (*OllamaDriver)(nil)
	_ EmbeddingCapableDriver = (*OllamaDriver)(nil)
)

// ── LiteLLMDriver ─────────────────────────────────────────────
// LiteLLM fronts many providers behind a single OpenAI-compatible proxy; the
// driver is a thin OpenAI-compatible client pointed at that proxy's endpoint.

type LiteLLMDriver struct{ router *ModelRouter }

func (d *LiteLLMDriver) Kind() string { return "litellm" }

func (d *LiteLLMDriver) Call(ctx context.Context, provider *models.ModelProvider, req *ChatRequest) (*models.AssistantMessage, error) {
	url := resolveChatURL(provider, "http://localhost:4000", "/chat/completions")
	headers := map[string]string{}
	if key := resolveAPIKey(provider); key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return callOpenAICompatible(ctx, d.router.client, provider, req, url, headers)
}

func (d *LiteLLMDriver) HealthCheck(ctx context.Context, provider *models.ModelProvider) error {
	base := resolveBaseURL(provider, "http://localhost:4000")
	resp, err := doJSON(ctx, d.router.client, http.MethodGet, base+"/health", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (d *LiteLLMDriver) DiscoverModels(ctx context.Context, provider *models.ModelProvider) ([]DiscoveredModel, error) {
	base := resolveBaseURL(provider, "http://localhost:4000")
	headers := map[string]string{}
	if key := resolveAPIKey(provider); key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	resp, err := doJSON(ctx, d.router.client, http.MethodGet, base+"/models", headers, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]DiscoveredModel, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, DiscoveredModel{ID: m.ID, Provider: provider.ID, Kind: d.Kind()})
	}
	return out, nil
}

var (
	_ ProviderDriver       = (*LiteLLMDriver)(nil)
	_ ModelDiscoveryDriver = (*LiteLLMDriver)(nil)
)
