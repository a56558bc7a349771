// Package llm 封装 xAI（Grok）接口：有状态的聊天调用（靠
// previous_response_id 续接）、无状态的评分调用、立绘生成与看图描述。
// 与上游的约定保持最小请求体，字段随 API 演进再扩。
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client 是面向单个 API Key 的 xAI 客户端。
// Key 可能来自部署者环境变量，也可能来自访客请求，因此 Client
// 按请求创建是正常用法；HTTPClient 可共享注入。
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	imageModel string
}

// Options 是 NewClient 的可选项；零值字段用默认。
type Options struct {
	BaseURL    string
	Model      string
	ImageModel string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(apiKey string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.x.ai"
	}
	if opts.Model == "" {
		opts.Model = "grok-4-1-fast-reasoning"
	}
	if opts.ImageModel == "" {
		opts.ImageModel = "grok-imagine-image"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		imageModel: opts.ImageModel,
	}
}

// ChatRequest 是一次聊天调用。PreviousResponseID 非空时续接上一轮，
// SystemPrompt 被忽略；为空时以 SystemPrompt 开新对话。
type ChatRequest struct {
	SystemPrompt       string
	PreviousResponseID string
	Message            string
}

// ChatResult 带回回复文本与新的续接句柄。
type ChatResult struct {
	Text       string
	ResponseID string
}

type inputItem struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Chat 发起一次有状态聊天调用（store=true，服务端保留消息以便续接）。
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	var input []inputItem
	if req.PreviousResponseID == "" && req.SystemPrompt != "" {
		input = append(input, inputItem{Role: "system", Content: req.SystemPrompt})
	}
	input = append(input, inputItem{Role: "user", Content: req.Message})

	body := map[string]any{
		"model": c.model,
		"input": input,
		"store": true,
	}
	if req.PreviousResponseID != "" {
		body["previous_response_id"] = req.PreviousResponseID
	}

	id, text, err := c.responses(ctx, body)
	if err != nil {
		return ChatResult{}, err
	}
	return ChatResult{Text: text, ResponseID: id}, nil
}

// Score 发起一次无状态评分调用：全新会话，store=false，
// 不带也不产生续接句柄，保证评估不污染角色扮演上下文。
func (c *Client) Score(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"input": []inputItem{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		"store": false,
	}
	_, text, err := c.responses(ctx, body)
	return text, err
}

// DescribeImage 用视觉能力描述一张图（data URL），同样是无状态调用。
func (c *Client) DescribeImage(ctx context.Context, systemPrompt, question, imageDataURL string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"input": []inputItem{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []map[string]any{
				{"type": "input_text", "text": question},
				{"type": "input_image", "image_url": imageDataURL, "detail": "high"},
			}},
		},
		"store": false,
	}
	_, text, err := c.responses(ctx, body)
	return text, err
}

// responses 调 POST /v1/responses，返回 (response_id, 输出文本)。
func (c *Client) responses(ctx context.Context, body map[string]any) (string, string, error) {
	respBody, err := c.post(ctx, "/v1/responses", body)
	if err != nil {
		return "", "", err
	}

	var result struct {
		ID     string `json:"id"`
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", "", fmt.Errorf("unmarshal response: %w", err)
	}

	var sb strings.Builder
	for _, out := range result.Output {
		if out.Type != "message" {
			continue
		}
		for _, part := range out.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", "", fmt.Errorf("empty content in response")
	}
	return result.ID, text, nil
}

// GenerateImage 按提示词生成一张图，返回解码后的图片字节。
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	body := map[string]any{
		"model":           c.imageModel,
		"prompt":          prompt,
		"n":               1,
		"response_format": "b64_json",
	}
	respBody, err := c.post(ctx, "/v1/images/generations", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal image response: %w", err)
	}
	if len(result.Data) == 0 || result.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("no image in response")
	}
	b64 := result.Data[0].B64JSON
	if idx := strings.Index(b64, "base64,"); idx >= 0 {
		b64 = b64[idx+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return raw, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 只读取有限的错误体用于排障，避免把整段 body 透传给上层。
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("xai %s: status=%d body=%s", path, resp.StatusCode, string(limited))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}
