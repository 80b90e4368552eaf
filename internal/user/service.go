// Package user はユーザー管理のドメインロジックを提供する。
// 認証済みPrincipalのユーザー登録と、CODEF連携（ConnectedID）の登録・口座一覧取得を仲介する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/finsight/internal/codef"
	"github.com/hitoshi/finsight/internal/model"
	"github.com/hitoshi/finsight/internal/repository"
	"github.com/hitoshi/finsight/internal/security"
)

const defaultUserName = "Unknown"

// TokenProvider はCODEFアクセストークンを提供するインターフェース。
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
}

// ConnectionGateway はCODEFの連携APIを呼び出すインターフェース。
type ConnectionGateway interface {
	CreateConnectedID(ctx context.Context, token string, req codef.RegistrationRequest) (*codef.ConnectedIDResponse, error)
	ListAccounts(ctx context.Context, token, connectedID string) ([]codef.Account, error)
}

// Service はユーザーレジストリのサービス層。
// 同一ユーザー（メールアドレス）への更新はキー単位のロックで直列化する。
// ロック保持中に外部APIは呼び出さない。
type Service struct {
	users   repository.UserRepository
	tokens  TokenProvider
	gateway ConnectionGateway
	logger  *slog.Logger
	locks   *keyedMutex
	now     func() time.Time
	newID   func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// tokensまたはgatewayがnilの場合、CODEF連携は無効として扱う。
func NewService(users repository.UserRepository, tokens TokenProvider, gateway ConnectionGateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:   users,
		tokens:  tokens,
		gateway: gateway,
		logger:  logger,
		locks:   newKeyedMutex(),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// CodefEnabled はCODEF連携が有効かどうかを返す。
func (s *Service) CodefEnabled() bool {
	return s.tokens != nil && s.gateway != nil
}

// UpsertFromPrincipal は認証済みPrincipalに対応するユーザーを取得または作成する。
// 既存ユーザーの場合はUpdatedAtのみを更新したコピーを返す。
func (s *Service) UpsertFromPrincipal(ctx context.Context, p model.Principal) (*model.User, error) {
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return nil, model.NewInvalidInputError("email claim is required")
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	if existing != nil {
		existing.UpdatedAt = s.bump(existing.UpdatedAt)
		if err := s.users.Save(ctx, existing); err != nil {
			return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
		}
		return existing, nil
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = defaultUserName
	}
	now := s.now()
	created := &model.User{
		ID:              s.newID(),
		Email:           email,
		Name:            name,
		Provider:        model.AuthProviderGoogle,
		ProviderID:      p.Subject,
		ProfileImageURL: profileImageURL(p.Picture),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stored, err := s.users.CreateIfAbsent(ctx, created)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	// 他のプロセスが先に作成していた場合は既存ユーザーが返る
	if stored.ID == created.ID {
		s.logger.Info("new user registered",
			slog.String("user_id", stored.ID),
			slog.String("provider", string(stored.Provider)),
		)
	}

	return stored, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はNotFoundエラーを返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はNotFoundエラーを返す。
func (s *Service) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// RegisterConnection はCODEFに金融機関アカウントを登録し、発行されたConnectedIDをユーザーに保存する。
// 既にConnectedIDがある場合は警告を出して上書きする。
// 失敗した場合、保存済みのユーザーは変更しない。
func (s *Service) RegisterConnection(ctx context.Context, userID string, req codef.RegistrationRequest) (*codef.ConnectedIDResponse, error) {
	if !s.CodefEnabled() {
		return nil, model.NewCodefUnavailableError()
	}

	u, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.HasConnection() {
		s.logger.Warn("user already has a CODEF connection, overwriting",
			slog.String("user_id", u.ID),
		)
	}

	var resp *codef.ConnectedIDResponse
	err = s.withToken(ctx, "create_connected_id", func(token string) error {
		var callErr error
		resp, callErr = s.gateway.CreateConnectedID(ctx, token, req)
		return callErr
	})
	if err != nil {
		s.logger.Error("CODEF connection registration failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("CODEF連携の登録に失敗しました: %w", err)
	}

	if err := s.storeConnectedID(ctx, u.Email, userID, resp.ConnectedID); err != nil {
		return nil, err
	}

	s.logger.Info("CODEF connection registered",
		slog.String("user_id", u.ID),
		slog.String("organization", resp.Organization),
	)

	return resp, nil
}

// ListAccounts はユーザーのConnectedIDに紐づく口座一覧を取得する。
// 未連携の場合はトークンの取得やCODEFの呼び出しを行わずにエラーを返す。
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]codef.Account, error) {
	if !s.CodefEnabled() {
		return nil, model.NewCodefUnavailableError()
	}

	u, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.HasConnection() {
		return nil, model.NewNoConnectionError()
	}

	var accounts []codef.Account
	err = s.withToken(ctx, "list_accounts", func(token string) error {
		var callErr error
		accounts, callErr = s.gateway.ListAccounts(ctx, token, u.ConnectedID)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("口座一覧の取得に失敗しました: %w", err)
	}

	return accounts, nil
}

// storeConnectedID はロック下でユーザーを再取得し、ConnectedIDを設定して保存する。
func (s *Service) storeConnectedID(ctx context.Context, email, userID, connectedID string) error {
	unlock := s.locks.Lock(email)
	defer unlock()

	current, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	current.ConnectedID = connectedID
	current.UpdatedAt = s.bump(current.UpdatedAt)

	if err := s.users.Save(ctx, current); err != nil {
		return fmt.Errorf("ConnectedIDの保存に失敗しました: %w", err)
	}
	return nil
}

// withToken は有効なトークンでfnを呼び出す。
// CODEFがトークンを拒否した場合に限り、トークンを強制更新して1回だけ再実行する。
func (s *Service) withToken(ctx context.Context, operation string, fn func(token string) error) error {
	token, err := s.tokens.GetValidToken(ctx)
	if err != nil {
		return err
	}

	err = fn(token)
	if !errors.Is(err, codef.ErrTokenRejected) {
		return err
	}

	s.logger.Warn("CODEF rejected access token, refreshing",
		slog.String("operation", operation),
	)
	token, err = s.tokens.RefreshToken(ctx)
	if err != nil {
		return err
	}
	return fn(token)
}

// bump は現在時刻を返す。ただし前回値より前にはならない。
func (s *Service) bump(prev time.Time) time.Time {
	now := s.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

// profileImageURL は外部公開のhttp(s)URLのみを受け付け、それ以外は空文字列を返す。
func profileImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if err := security.ValidatePublicURL(raw); err != nil {
		return ""
	}
	return raw
}
