// Package forecast は残高予測サービスへのパススルーを提供する。
package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/finsight/internal/model"
)

const (
	// DefaultBaseURL は予測サービスのデフォルトURL。
	DefaultBaseURL = "http://ml-forecast:8000"
	// DefaultHorizonDays は予測日数の既定値。
	DefaultHorizonDays = 7
	// MaxHorizonDays は予測日数の上限。
	MaxHorizonDays = 365

	predictPath     = "/predict"
	maxResponseSize = 1 << 20
)

// ErrEmptyResponse は予測サービスのレスポンスボディが空の場合のエラー。
var ErrEmptyResponse = errors.New("forecast: empty response body")

// Request は予測リクエスト。
type Request struct {
	AccountID   string `json:"accountId"`
	HorizonDays int    `json:"horizonDays"`
}

// Point は1日分の予測値。
type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Response は予測サービスの応答。
type Response struct {
	AccountID string  `json:"accountId"`
	Points    []Point `json:"points"`
}

// HTTPError は予測サービスが想定外のHTTPステータスを返したことを表す。
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *HTTPError) Error() string {
	return fmt.Sprintf("forecast: unexpected status %d: %s", e.StatusCode, e.Body)
}

// UpstreamRecorder は外部呼び出しのメトリクス記録インターフェース。
type UpstreamRecorder interface {
	RecordUpstreamCall(service, operation, outcome string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordUpstreamCall(string, string, string, time.Duration) {}

// Client は予測サービスのクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    UpstreamRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
// metricsがnilの場合は記録しない。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, metrics UpstreamRecorder) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}
}

// Forecast は口座の残高予測を取得する。
// HorizonDaysが0以下の場合は既定値の7日を使う。
func (c *Client) Forecast(ctx context.Context, req Request) (*Response, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		return nil, model.NewInvalidInputError("accountId is required")
	}
	if req.HorizonDays <= 0 {
		req.HorizonDays = DefaultHorizonDays
	}
	if req.HorizonDays > MaxHorizonDays {
		return nil, model.NewInvalidInputError(fmt.Sprintf("horizonDays must be at most %d", MaxHorizonDays))
	}

	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.RecordUpstreamCall("forecast", "predict", outcome, time.Since(start))
	}()

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("forecast request failed",
			slog.String("account_id", req.AccountID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("予測サービスへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("レスポンスのデコードに失敗しました: %w", err)
	}

	outcome = "success"
	return &out, nil
}
