package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/finsight/internal/agent"
	"github.com/hitoshi/finsight/internal/analysis"
)

// AgentGateway はエージェントハンドラーが必要とするマルチエージェント実行のインターフェース。
type AgentGateway interface {
	Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.ExecuteResponse, error)
	ListAgents(ctx context.Context) (map[string]any, error)
}

// AgentHandler は自然言語リクエストをマルチエージェントに中継するHTTPハンドラー。
type AgentHandler struct {
	gateway AgentGateway
	users   principalRegistrar
}

// NewAgentHandler はAgentHandlerを生成する。
func NewAgentHandler(gateway AgentGateway, users principalRegistrar) *AgentHandler {
	return &AgentHandler{
		gateway: gateway,
		users:   users,
	}
}

// Execute は自然言語リクエストを実行する。user_idはセッションから決め、ボディの値は無視する。
// POST /api/agent/execute
func (h *AgentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req agent.ExecuteRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	h.execute(w, r, req.Request)
}

// List は利用可能なエージェントの一覧を返す。
// GET /api/agent/list
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.gateway.ListAgents(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// Scenario は定義済みシナリオの依頼文でエージェントを実行する。
// POST /api/agent/scenarios/{scenario}
func (h *AgentHandler) Scenario(w http.ResponseWriter, r *http.Request) {
	text, err := analysis.ScenarioRequest(chi.URLParam(r, "scenario"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.execute(w, r, text)
}

func (h *AgentHandler) execute(w http.ResponseWriter, r *http.Request, text string) {
	user, ok := upsertCurrentUser(w, r, h.users)
	if !ok {
		return
	}

	resp, err := h.gateway.Execute(r.Context(), agent.ExecuteRequest{
		UserID:  user.Email,
		Request: text,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
