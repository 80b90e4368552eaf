// Package app はコマンドの解析と依存関係のワイヤリングを行い、各起動モードを実行する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/finsight/internal/agent"
	"github.com/hitoshi/finsight/internal/analysis"
	"github.com/hitoshi/finsight/internal/auth"
	"github.com/hitoshi/finsight/internal/codef"
	"github.com/hitoshi/finsight/internal/config"
	"github.com/hitoshi/finsight/internal/database"
	"github.com/hitoshi/finsight/internal/forecast"
	"github.com/hitoshi/finsight/internal/handler"
	"github.com/hitoshi/finsight/internal/logger"
	"github.com/hitoshi/finsight/internal/metrics"
	"github.com/hitoshi/finsight/internal/middleware"
	"github.com/hitoshi/finsight/internal/repository"
	"github.com/hitoshi/finsight/internal/security"
	"github.com/hitoshi/finsight/internal/user"
	"github.com/hitoshi/finsight/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にもログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := cmd.checkPreconditions(cfg.UsePostgres()); err != nil {
		return err
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("codef_enabled", cfg.CodefEnabled),
		slog.Bool("postgres", cfg.UsePostgres()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// store はユーザーとセッションの保存先をまとめたもの。
// DATABASE_URL未設定時はメモリ実装となり、dbはnil。
type store struct {
	db       *sql.DB
	users    repository.UserRepository
	sessions repository.SessionRepository
}

// openStore は設定に応じてPostgreSQLまたはメモリのストアを開く。
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if !cfg.UsePostgres() {
		slog.Warn("DATABASE_URL is not set, using in-memory store (data is lost on restart)")
		return &store{
			users:    repository.NewMemoryUserRepo(),
			sessions: repository.NewMemorySessionRepo(),
		}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established")
	return &store{
		db:       db,
		users:    repository.NewPostgresUserRepo(db),
		sessions: repository.NewPostgresSessionRepo(db),
	}, nil
}

// healthPinger はメモリストアの場合にnilインターフェースを返す。
func (s *store) healthPinger() handler.Pinger {
	if s.db == nil {
		return nil
	}
	return s.db
}

// Close はDB接続を閉じる。
func (s *store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// server はserveモードで起動するコンポーネント一式。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	cleanup     *cleanup.CleanupJob
	userService *user.Service
}

// newServer は全依存関係をワイヤリングする。
func newServer(cfg *config.Config, st *store, reg *prometheus.Registry) (*server, error) {
	log := slog.Default()
	collector := metrics.NewCollector(reg)
	sanitizer := security.NewTextSanitizer()

	// CODEF連携（無効時はトークンキャッシュもゲートウェイも作らない）
	var (
		tokens  user.TokenProvider
		gateway user.ConnectionGateway
	)
	if cfg.CodefEnabled {
		codefClient, err := codef.NewClient(codef.ClientConfig{
			APIURL:            cfg.CodefAPIURL,
			OAuthURL:          cfg.CodefOAuthURL,
			ClientID:          cfg.CodefClientID,
			ClientSecret:      cfg.CodefClientSecret,
			Organization:      cfg.CodefAccountOrganization,
			AccountListPolicy: cfg.CodefAccountListPolicy,
			HTTPClient:        &http.Client{Timeout: cfg.CodefTimeout},
			Logger:            log,
			Metrics:           collector,
		})
		if err != nil {
			return nil, err
		}
		tokens = codef.NewTokenCache(codefClient,
			codef.WithExpiryMargin(cfg.CodefTokenExpiryMargin),
			codef.WithCacheLogger(log),
			codef.WithCacheMetrics(collector),
		)
		gateway = codefClient
	} else {
		slog.Warn("CODEF integration is disabled")
	}

	userService := user.NewService(st.users, tokens, gateway, log)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
	})
	authService := auth.NewService(
		oauthProvider, userService, st.sessions,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
		log,
	)

	agentClient := agent.NewClient(agent.ClientConfig{
		BaseURL:    cfg.AgentAPIURL,
		HTTPClient: &http.Client{Timeout: cfg.AgentTimeout},
		Logger:     log,
		Sanitizer:  sanitizer,
		Metrics:    collector,
	})
	analysisService := analysis.NewService(agentClient, log)
	forecastClient := forecast.NewClient(cfg.ForecastURL, &http.Client{Timeout: cfg.ForecastTimeout}, log, collector)

	// 設定値はreq/min単位なのでreq/secに変換する
	rlConfig := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlConfig.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlConfig.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitCodefReg > 0 {
		rlConfig.CodefRegRate = rate.Limit(float64(cfg.RateLimitCodefReg) / 60.0)
		rlConfig.CodefRegBurst = cfg.RateLimitCodefReg
	}
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             log,
		SessionFinder:      st.sessions,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		StatusRecorder: collector,
		HSTS:           cfg.CookieSecure,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService: userService,

		AnalysisService: analysisService,
		AgentGateway:    agentClient,
		AgentStatus:     agentClient,
		ForecastService: forecastClient,

		HealthDB:       st.healthPinger(),
		MetricsHandler: metrics.Handler(reg),
	})

	return &server{
		handler:     router,
		rateLimiter: rateLimiter,
		cleanup:     cleanup.NewCleanupJob(st.sessions, log, collector),
		userService: userService,
	}, nil
}

// newRegistry はGo runtimeとプロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// HTTPサーバー・セッションクリーンアップ・レートリミッターの掃除をerrgroupで並行実行し、
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := newServer(cfg, st, newRegistry())
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// LLM分析の応答待ちを含むため、分析サービスのタイムアウトより長くする
		WriteTimeout: cfg.AgentTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return srv.cleanup.Start(gctx, cfg.SessionCleanupInterval)
	})

	g.Go(func() error {
		return srv.rateLimiter.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// APIサーバーとは別プロセスで期限切れセッションの削除のみを行う。
// メモリストアはプロセス間で共有できないため、DATABASE_URLを必須とする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	job := cleanup.NewCleanupJob(st.sessions, slog.Default(), nil)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	if err := job.Start(ctx, cfg.SessionCleanupInterval); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
