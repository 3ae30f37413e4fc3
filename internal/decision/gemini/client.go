package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/pkg/logger"
)

const (
	defaultModel    = "gemini-2.0-flash-exp"
	defaultTimeout  = 60 * time.Second
	endpointPattern = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
)

// Config 描述 Gemini generateContent 接口的调用参数。
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type requestPayload struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type responsePayload struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Client 调用 Gemini 生成决策。
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient 创建 Gemini 决策方。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(endpointPattern, model)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Named("decision.gemini"),
	}, nil
}

// Decide 实现 decision.Oracle。
func (c *Client) Decide(ctx context.Context, in decision.Context) (decision.Decision, error) {
	userPrompt, err := decision.UserPrompt(in)
	if err != nil {
		return decision.Decision{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	body, err := json.Marshal(requestPayload{
		Contents:          []content{{Role: "user", Parts: []part{{Text: userPrompt}}}},
		SystemInstruction: &content{Parts: []part{{Text: decision.SystemPrompt(in.Kind)}}},
		GenerationConfig: generationConfig{
			Temperature:      0.7,
			ResponseMimeType: "application/json",
			MaxOutputTokens:  2048,
		},
	})
	if err != nil {
		return decision.Decision{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return decision.Decision{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decision.Decision{}, xerrors.Wrap(xerrors.CodeOracleUnavailable, err, "request to Gemini failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return decision.Decision{}, xerrors.Wrap(xerrors.CodeOracleUnavailable, err, "failed to read Gemini response")
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Error("Gemini API returned error status", slog.Int("status", resp.StatusCode))
		return decision.Decision{}, xerrors.New(xerrors.CodeOracleUnavailable,
			fmt.Sprintf("Gemini returned status %d", resp.StatusCode),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	}

	var decoded responsePayload
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return decision.Decision{}, xerrors.Wrap(xerrors.CodeOracleMalformed, err, "cannot decode Gemini envelope")
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		reason := ""
		if len(decoded.Candidates) > 0 {
			reason = decoded.Candidates[0].FinishReason
		}
		return decision.Decision{}, xerrors.New(xerrors.CodeOracleMalformed, "Gemini returned no content",
			xerrors.WithMetadata("finish_reason", reason))
	}

	c.log.Debug("Gemini generation complete",
		slog.String("agent", string(in.Kind)),
		slog.Duration("duration", time.Since(start)),
		slog.Int("prompt_tokens", decoded.UsageMetadata.PromptTokenCount),
		slog.Int("completion_tokens", decoded.UsageMetadata.CandidatesTokenCount))

	return decision.Parse(decoded.Candidates[0].Content.Parts[0].Text)
}

var _ decision.Oracle = (*Client)(nil)
