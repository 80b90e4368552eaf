package agent

import (
	"errors"
	"fmt"
)

// Tier は分析の品質区分を表す。
type Tier string

const (
	// TierStatistical は統計ベースの高速な分析。
	TierStatistical Tier = "statistical"
	// TierLLM はLLMを使用した高品質な分析。
	TierLLM Tier = "llm"
)

// Transaction は分析対象の1件の取引。金額はウォン単位の整数。
type Transaction struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Amount      int64  `json:"amount"`
	Category    string `json:"category"`
	Merchant    string `json:"merchant"`
	Description string `json:"description"`
}

// AnalysisRequest は分析サービスへのリクエスト。Monthは "2006-01" 形式。
type AnalysisRequest struct {
	UserID       string        `json:"userId"`
	UserName     string        `json:"userName"`
	Transactions []Transaction `json:"transactions"`
	Month        string        `json:"month"`
}

// CategorySummary はカテゴリ別の支出集計。
type CategorySummary struct {
	Category   string  `json:"category"`
	Amount     int64   `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// AnalysisResult は分析サービスの結果。
type AnalysisResult struct {
	UserID        string            `json:"userId"`
	Month         string            `json:"month"`
	Nickname      string            `json:"nickname"`
	TopCategories []CategorySummary `json:"topCategories"`
	Insights      []string          `json:"insights"`
	Advice        []string          `json:"advice"`
	TotalAmount   int64             `json:"totalAmount"`
	GeneratedAt   string            `json:"generatedAt"`
}

// ExecuteRequest はマルチエージェント実行のリクエスト。
type ExecuteRequest struct {
	UserID  string `json:"user_id"`
	Request string `json:"request" validate:"required,max=1000"`
}

// ExecuteResponse はマルチエージェント実行の結果。
// workflowとresultsの中身はエージェントごとに異なるため、そのまま保持する。
type ExecuteResponse struct {
	UserID        string           `json:"user_id"`
	Request       string           `json:"request"`
	Workflow      map[string]any   `json:"workflow"`
	Results       []map[string]any `json:"results"`
	ExecutionTime float64          `json:"execution_time"`
	Status        string           `json:"status"`
}

var (
	// ErrNotImplemented は分析サービスが未実装の機能を要求された（HTTP 501）場合のエラー。
	ErrNotImplemented = errors.New("agent: analysis tier not implemented")

	// ErrEmptyResponse はレスポンスボディが空の場合のエラー。
	ErrEmptyResponse = errors.New("agent: empty response body")
)

// HTTPError は分析サービスが想定外のHTTPステータスを返したことを表す。
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *HTTPError) Error() string {
	return fmt.Sprintf("agent: unexpected status %d: %s", e.StatusCode, e.Body)
}
