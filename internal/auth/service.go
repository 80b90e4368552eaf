// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/finsight/internal/model"
	"github.com/hitoshi/finsight/internal/repository"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、認証済みPrincipalを返す。
	ExchangeCode(ctx context.Context, code string) (*model.Principal, error)
}

// UserRegistrar は認証済みPrincipalをユーザーとして登録するインターフェース。
// user.Serviceが実装する。
type UserRegistrar interface {
	UpsertFromPrincipal(ctx context.Context, p model.Principal) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	users       UserRegistrar
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	users UserRegistrar,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		oauth:       oauth,
		users:       users,
		sessionRepo: sessionRepo,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、ユーザーを登録した上でセッションを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	if code == "" {
		return nil, nil, model.NewInvalidInputError("authorization code is required")
	}

	principal, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("OAuth認証に失敗しました: %w", err)
	}

	u, err := s.users.UpsertFromPrincipal(ctx, *principal)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, u.ID, *principal)
	if err != nil {
		return nil, nil, fmt.Errorf("セッションの作成に失敗しました: %w", err)
	}

	s.logger.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.String("provider", string(u.Provider)),
	)
	return session, u, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return model.NewInvalidInputError("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	s.logger.Info("user logged out")
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, p model.Principal) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Principal: p,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
