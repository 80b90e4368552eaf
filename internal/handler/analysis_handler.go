package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/finsight/internal/agent"
)

// AnalysisServiceInterface は分析ハンドラーが必要とするサービスインターフェース。
type AnalysisServiceInterface interface {
	AnalyzeSample(ctx context.Context, userID, userName string, tier agent.Tier) (*agent.AnalysisResult, error)
}

// AgentStatusChecker は分析サービスの疎通確認に使うインターフェース。
type AgentStatusChecker interface {
	Ping(ctx context.Context) error
	BaseURL() string
}

// AnalysisHandler はサンプルデータ分析のHTTPハンドラー。
type AnalysisHandler struct {
	service AnalysisServiceInterface
	checker AgentStatusChecker
	users   principalRegistrar
}

// NewAnalysisHandler はAnalysisHandlerを生成する。
func NewAnalysisHandler(service AnalysisServiceInterface, checker AgentStatusChecker, users principalRegistrar) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		checker: checker,
		users:   users,
	}
}

type analysisStatusResponse struct {
	AgentURL  string `json:"agent_url"`
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// Test は統計ベースの分析をサンプルデータで実行する。
// POST /api/analysis/test
func (h *AnalysisHandler) Test(w http.ResponseWriter, r *http.Request) {
	h.analyze(w, r, agent.TierStatistical)
}

// TestLLM はLLMによる分析をサンプルデータで実行する。
// POST /api/analysis/test-llm
func (h *AnalysisHandler) TestLLM(w http.ResponseWriter, r *http.Request) {
	h.analyze(w, r, agent.TierLLM)
}

func (h *AnalysisHandler) analyze(w http.ResponseWriter, r *http.Request, tier agent.Tier) {
	user, ok := upsertCurrentUser(w, r, h.users)
	if !ok {
		return
	}

	// 分析サービス側のユーザーキーはメールアドレス
	result, err := h.service.AnalyzeSample(r.Context(), user.Email, user.Name, tier)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Status は分析サービスの接続先と疎通状態を返す。
// GET /api/analysis/status
func (h *AnalysisHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := analysisStatusResponse{AgentURL: h.checker.BaseURL()}
	if err := h.checker.Ping(ctx); err != nil {
		resp.Message = "Agent service is unavailable"
	} else {
		resp.Available = true
		resp.Message = "Agent service is available"
	}
	writeJSON(w, http.StatusOK, resp)
}
