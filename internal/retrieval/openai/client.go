// Package openai talks to OpenAI-compatible embeddings and chat completion
// endpoints, including Azure OpenAI deployments.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/repochat/repochat/internal/retrieval"
)

const (
	APITypeOpenAI = "openai"
	APITypeAzure  = "azure"

	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultAPIVersion = "2024-02-01"

	// errorBodyLimit 限制错误响应体读入日志的长度。
	errorBodyLimit = 2048
)

// Options 描述一个 OpenAI 兼容端点。
type Options struct {
	BaseURL        string
	APIKey         string
	APIType        string
	APIVersion     string
	ChatModel      string
	EmbeddingModel string
	Temperature    float64
	HTTPClient     *http.Client
}

// Client 同时实现 retrieval.Embedder 与 retrieval.ChatModel。
type Client struct {
	opts Options
	http *http.Client
}

var (
	_ retrieval.Embedder  = (*Client)(nil)
	_ retrieval.ChatModel = (*Client)(nil)
)

// New 校验配置并返回客户端；HTTPClient 为空时使用 http.DefaultClient。
func New(opts Options) (*Client, error) {
	if opts.APIType == "" {
		opts.APIType = APITypeOpenAI
	}
	opts.APIType = strings.ToLower(opts.APIType)
	if opts.APIType != APITypeOpenAI && opts.APIType != APITypeAzure {
		return nil, fmt.Errorf("unsupported api type %q", opts.APIType)
	}
	if opts.BaseURL == "" {
		if opts.APIType == APITypeAzure {
			return nil, errors.New("azure api type requires a base url")
		}
		opts.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.APIType == APITypeAzure && opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.ChatModel == "" || opts.EmbeddingModel == "" {
		return nil, errors.New("chat and embedding models are required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{opts: opts, http: httpClient}, nil
}

type embeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed 批量获取文本向量，返回顺序与输入一致。
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embeddingResponse
	req := embeddingRequest{Model: c.modelField(c.opts.EmbeddingModel), Input: texts}
	if err := c.post(ctx, c.endpoint(c.opts.EmbeddingModel, "embeddings"), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		out[i] = item.Embedding
	}
	return out, nil
}

type chatRequest struct {
	Model       string              `json:"model,omitempty"`
	Messages    []retrieval.Message `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message retrieval.Message `json:"message"`
	} `json:"choices"`
}

// Complete 调用 chat completions 并返回第一条候选回答。
func (c *Client) Complete(ctx context.Context, messages []retrieval.Message) (string, error) {
	var resp chatResponse
	req := chatRequest{
		Model:       c.modelField(c.opts.ChatModel),
		Messages:    messages,
		Temperature: c.opts.Temperature,
	}
	if err := c.post(ctx, c.endpoint(c.opts.ChatModel, "chat/completions"), req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Azure 通过 deployment 路径选择模型，请求体中不带 model 字段。
func (c *Client) modelField(model string) string {
	if c.opts.APIType == APITypeAzure {
		return ""
	}
	return model
}

func (c *Client) endpoint(model, operation string) string {
	if c.opts.APIType == APITypeAzure {
		return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
			c.opts.BaseURL, url.PathEscape(model), operation, url.QueryEscape(c.opts.APIVersion))
	}
	return c.opts.BaseURL + "/" + operation
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		if c.opts.APIType == APITypeAzure {
			req.Header.Set("api-key", c.opts.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}
