// Package agent は外部の分析エージェントサービスとの連携を提供する。
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/finsight/internal/security"
)

const (
	// DefaultBaseURL は分析サービスのデフォルトURL。
	DefaultBaseURL = "http://localhost:8000"

	analyzePath        = "/analyze"
	analyzeWithLLMPath = "/analyze-with-llm"
	executePath        = "/agent/execute"
	agentsPath         = "/agents"
	healthPath         = "/health"

	// maxResponseSize はレスポンスボディの読み取り上限（4MB）。
	maxResponseSize = 4 << 20
)

// UpstreamRecorder は外部呼び出しのメトリクス記録インターフェース。
type UpstreamRecorder interface {
	RecordUpstreamCall(service, operation, outcome string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordUpstreamCall(string, string, string, time.Duration) {}

// ClientConfig は分析サービスクライアントの設定。
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Sanitizer  security.TextSanitizer
	Metrics    UpstreamRecorder
}

// Client は分析サービスのクライアント。
// 結果に含まれるテキストはブラウザに渡す前にサニタイズする。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	sanitizer  security.TextSanitizer
	metrics    UpstreamRecorder
}

// NewClient はClientを生成する。
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = security.NewTextSanitizer()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		sanitizer:  cfg.Sanitizer,
		metrics:    cfg.Metrics,
	}
}

// BaseURL は接続先の分析サービスURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Analyze は取引一覧を分析サービスに送り、分析結果を返す。
// TierLLMで分析サービスが501を返した場合はErrNotImplementedを返す。
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest, tier Tier) (*AnalysisResult, error) {
	path := analyzePath
	operation := "analyze"
	switch tier {
	case TierStatistical, "":
	case TierLLM:
		path = analyzeWithLLMPath
		operation = "analyze_llm"
	default:
		return nil, fmt.Errorf("agent: unknown tier %q", tier)
	}

	c.logger.Info("requesting analysis",
		slog.String("tier", string(tier)),
		slog.String("user_id", req.UserID),
		slog.Int("transactions", len(req.Transactions)),
	)

	var result AnalysisResult
	if err := c.do(ctx, http.MethodPost, path, operation, req, &result); err != nil {
		return nil, err
	}

	c.sanitizeResult(&result)
	return &result, nil
}

// Execute は自然言語の依頼をマルチエージェントシステムに渡して実行する。
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.do(ctx, http.MethodPost, executePath, "execute", req, &resp); err != nil {
		return nil, err
	}

	resp.Status = c.sanitizer.Sanitize(resp.Status)
	for i, r := range resp.Results {
		resp.Results[i] = c.sanitizeMap(r)
	}
	resp.Workflow = c.sanitizeMap(resp.Workflow)
	return &resp, nil
}

// ListAgents は利用可能なエージェントの一覧を返す。
func (c *Client) ListAgents(ctx context.Context) (map[string]any, error) {
	var agents map[string]any
	if err := c.do(ctx, http.MethodGet, agentsPath, "list_agents", nil, &agents); err != nil {
		return nil, err
	}
	return c.sanitizeMap(agents), nil
}

// Ping は分析サービスのヘルスチェックを行う。
func (c *Client) Ping(ctx context.Context) error {
	var health map[string]any
	return c.do(ctx, http.MethodGet, healthPath, "health", nil, &health)
}

// do はJSONリクエストを送信し、レスポンスをoutにデコードする。
func (c *Client) do(ctx context.Context, method, path, operation string, in, out any) error {
	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.RecordUpstreamCall("agent", operation, outcome, time.Since(start))
	}()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("agent request failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("分析サービスへのリクエストに失敗しました (%s): %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode == http.StatusNotImplemented {
		outcome = "not_implemented"
		return ErrNotImplemented
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("agent returned error status",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
		)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("レスポンスのデコードに失敗しました (%s): %w", operation, err)
	}

	outcome = "success"
	return nil
}

func (c *Client) sanitizeResult(r *AnalysisResult) {
	r.Nickname = c.sanitizer.Sanitize(r.Nickname)
	r.Insights = c.sanitizer.SanitizeAll(r.Insights)
	r.Advice = c.sanitizer.SanitizeAll(r.Advice)
	for i := range r.TopCategories {
		r.TopCategories[i].Category = c.sanitizer.Sanitize(r.TopCategories[i].Category)
	}
}

// sanitizeMap は値に含まれる文字列を再帰的にサニタイズする。
func (c *Client) sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = c.sanitizeValue(v)
	}
	return out
}

func (c *Client) sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return c.sanitizer.Sanitize(t)
	case map[string]any:
		return c.sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = c.sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}
