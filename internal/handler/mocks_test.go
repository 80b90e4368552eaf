package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/finsight/internal/agent"
	"github.com/hitoshi/finsight/internal/codef"
	"github.com/hitoshi/finsight/internal/forecast"
	"github.com/hitoshi/finsight/internal/middleware"
	"github.com/hitoshi/finsight/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, *model.User, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

// mockUserService はUserServiceInterfaceのモック実装。
// upsertFnが未設定の場合はPrincipalからユーザーを組み立てて返す。
type mockUserService struct {
	codefEnabled         bool
	upsertFn             func(ctx context.Context, p model.Principal) (*model.User, error)
	registerConnectionFn func(ctx context.Context, userID string, req codef.RegistrationRequest) (*codef.ConnectedIDResponse, error)
	listAccountsFn       func(ctx context.Context, userID string) ([]codef.Account, error)

	upsertCalls int
}

func (m *mockUserService) UpsertFromPrincipal(ctx context.Context, p model.Principal) (*model.User, error) {
	m.upsertCalls++
	if m.upsertFn != nil {
		return m.upsertFn(ctx, p)
	}
	return &model.User{
		ID:       "user-123",
		Email:    p.Email,
		Name:     p.Name,
		Provider: model.AuthProviderGoogle,
	}, nil
}

func (m *mockUserService) CodefEnabled() bool {
	return m.codefEnabled
}

func (m *mockUserService) RegisterConnection(ctx context.Context, userID string, req codef.RegistrationRequest) (*codef.ConnectedIDResponse, error) {
	if m.registerConnectionFn != nil {
		return m.registerConnectionFn(ctx, userID, req)
	}
	return &codef.ConnectedIDResponse{ConnectedID: "cid-1", Organization: req.Organization}, nil
}

func (m *mockUserService) ListAccounts(ctx context.Context, userID string) ([]codef.Account, error) {
	if m.listAccountsFn != nil {
		return m.listAccountsFn(ctx, userID)
	}
	return nil, nil
}

type mockAnalysisService struct {
	analyzeFn func(ctx context.Context, userID, userName string, tier agent.Tier) (*agent.AnalysisResult, error)
}

func (m *mockAnalysisService) AnalyzeSample(ctx context.Context, userID, userName string, tier agent.Tier) (*agent.AnalysisResult, error) {
	if m.analyzeFn != nil {
		return m.analyzeFn(ctx, userID, userName, tier)
	}
	return &agent.AnalysisResult{UserID: userID}, nil
}

type mockAgentGateway struct {
	executeFn func(ctx context.Context, req agent.ExecuteRequest) (*agent.ExecuteResponse, error)
	listFn    func(ctx context.Context) (map[string]any, error)
	pingErr   error
}

func (m *mockAgentGateway) Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.ExecuteResponse, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, req)
	}
	return &agent.ExecuteResponse{UserID: req.UserID, Request: req.Request, Status: "completed"}, nil
}

func (m *mockAgentGateway) ListAgents(ctx context.Context) (map[string]any, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return map[string]any{}, nil
}

func (m *mockAgentGateway) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockAgentGateway) BaseURL() string {
	return "http://agent.test"
}

type mockForecastService struct {
	forecastFn func(ctx context.Context, req forecast.Request) (*forecast.Response, error)
}

func (m *mockForecastService) Forecast(ctx context.Context, req forecast.Request) (*forecast.Response, error) {
	if m.forecastFn != nil {
		return m.forecastFn(ctx, req)
	}
	return &forecast.Response{AccountID: req.AccountID}, nil
}

type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

// --- ヘルパー ---

var testPrincipal = model.Principal{
	Subject: "google-sub-1",
	Email:   "alice@example.com",
	Name:    "Alice",
	Picture: "https://lh3.googleusercontent.com/a/photo.jpg",
}

// withPrincipal はセッションミドルウェアを通過した状態のリクエストを作る。
func withPrincipal(req *http.Request) *http.Request {
	ctx := middleware.ContextWithSession(req.Context(), &model.Session{
		ID:        "session-1",
		UserID:    "user-123",
		Principal: testPrincipal,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	return req.WithContext(ctx)
}

// decodeErrorBody は統一エラーフォーマットのレスポンスを読み取る。
func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗しました: %v", err)
	}
	return body
}
