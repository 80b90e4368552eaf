package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/finsight/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionFinder      middleware.SessionFinder
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	CSRFConfig         middleware.CSRFConfig
	StatusRecorder     middleware.StatusRecorder
	HSTS               bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー・CODEF連携
	UserService UserServiceInterface

	// 分析・エージェント・予測
	AnalysisService AnalysisServiceInterface
	AgentGateway    AgentGateway
	AgentStatus     AgentStatusChecker
	ForecastService ForecastServiceInterface

	// 運用
	HealthDB       Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → (認証ルートのみ) Session → RateLimit → CSRF
//
// OAuthフロー・ヘルスチェック・メトリクスはセッション不要のルートとして配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	analysisHandler := NewAnalysisHandler(deps.AnalysisService, deps.AgentStatus, deps.UserService)
	agentHandler := NewAgentHandler(deps.AgentGateway, deps.UserService)
	forecastHandler := NewForecastHandler(deps.ForecastService)
	healthHandler := NewHealthHandler(deps.HealthDB)
	accountHandler := NewAccountHandler()

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.With(middleware.NewOptionalSessionMiddleware(deps.SessionFinder)).
		Get("/", authHandler.Home)
	r.Get("/auth/google/login", authHandler.Login)
	r.Get("/auth/google/callback", authHandler.Callback)
	r.Post("/auth/logout", authHandler.Logout)

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	r.Get("/api/users/codef/status", userHandler.CodefStatus)
	r.With(middleware.NewOptionalSessionMiddleware(deps.SessionFinder)).
		Get("/api/user/status", userHandler.Status)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/user/info", userHandler.Info)

		// ユーザー・CODEF連携
		r.Get("/api/users/me", userHandler.Me)
		r.With(deps.RateLimiter.CodefRegistrationMiddleware()).
			Post("/api/users/me/codef-connection", userHandler.RegisterConnection)
		r.Get("/api/users/me/accounts", userHandler.ListAccounts)

		// サンプル分析
		r.Post("/api/analysis/test", analysisHandler.Test)
		r.Post("/api/analysis/test-llm", analysisHandler.TestLLM)
		r.Get("/api/analysis/status", analysisHandler.Status)

		r.Get("/api/forecast", forecastHandler.Get)

		r.Get("/api/accounts/sample", accountHandler.Sample)
		r.Get("/api/accounts/health", accountHandler.Health)

		// マルチエージェント
		r.Post("/api/agent/execute", agentHandler.Execute)
		r.Get("/api/agent/list", agentHandler.List)
		r.Post("/api/agent/scenarios/{scenario}", agentHandler.Scenario)
	})

	return r
}
