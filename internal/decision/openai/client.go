package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述调用 Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 OpenAI 兼容接口获取决策。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Decide 实现 decision.Oracle。
func (c *Client) Decide(ctx context.Context, in decision.Context) (decision.Decision, error) {
	userPrompt, err := decision.UserPrompt(in)
	if err != nil {
		return decision.Decision{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	payload, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": decision.SystemPrompt(in.Kind)},
			{"role": "user", "content": userPrompt},
		},
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return decision.Decision{}, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return decision.Decision{}, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decision.Decision{}, xerrors.Wrap(xerrors.CodeOracleUnavailable, err, "request to OpenAI failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return decision.Decision{}, xerrors.New(xerrors.CodeOracleUnavailable,
			fmt.Sprintf("OpenAI returned status %d", resp.StatusCode),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
			xerrors.WithMetadata("body", strings.TrimSpace(string(body))))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return decision.Decision{}, xerrors.Wrap(xerrors.CodeOracleMalformed, err, "cannot decode OpenAI envelope")
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return decision.Decision{}, xerrors.New(xerrors.CodeOracleMalformed, "OpenAI response has no content")
	}
	return decision.Parse(decoded.Choices[0].Message.Content)
}

var _ decision.Oracle = (*Client)(nil)
