package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/finsight/internal/model"
	"github.com/hitoshi/finsight/internal/repository"
)

// --- モック定義 ---

type mockOAuthProvider struct {
	exchangeFn func(ctx context.Context, code string) (*model.Principal, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*model.Principal, error) {
	return m.exchangeFn(ctx, code)
}

type mockRegistrar struct {
	upsertFn func(ctx context.Context, p model.Principal) (*model.User, error)
	calls    int
}

func (m *mockRegistrar) UpsertFromPrincipal(ctx context.Context, p model.Principal) (*model.User, error) {
	m.calls++
	return m.upsertFn(ctx, p)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func testPrincipal() *model.Principal {
	return &model.Principal{Subject: "sub-1", Email: "user@example.com", Name: "User"}
}

// --- テスト ---

func TestService_HandleCallback_CreatesSession(t *testing.T) {
	sessions := repository.NewMemorySessionRepo()
	registrar := &mockRegistrar{
		upsertFn: func(_ context.Context, p model.Principal) (*model.User, error) {
			return &model.User{ID: "user-1", Email: p.Email, Provider: model.AuthProviderGoogle}, nil
		},
	}
	oauth := &mockOAuthProvider{
		exchangeFn: func(_ context.Context, code string) (*model.Principal, error) {
			return testPrincipal(), nil
		},
	}

	var buf bytes.Buffer
	svc := NewService(oauth, registrar, sessions, ServiceConfig{SessionMaxAge: 3600}, newTestLogger(&buf))
	fixed := time.Now()
	svc.now = func() time.Time { return fixed }

	session, u, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback がエラーを返した: %v", err)
	}
	if u.ID != "user-1" {
		t.Errorf("user.ID = %q, want user-1", u.ID)
	}
	if session.UserID != "user-1" || session.Principal.Email != "user@example.com" {
		t.Errorf("session = %+v", session)
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(session.ID))
	}
	if !session.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, fixed.Add(time.Hour))
	}

	stored, err := sessions.FindByID(context.Background(), session.ID)
	if err != nil || stored == nil {
		t.Fatalf("セッションが保存されていない: %v", err)
	}
}

func TestService_HandleCallback_EmptyCode(t *testing.T) {
	registrar := &mockRegistrar{}
	var buf bytes.Buffer
	svc := NewService(&mockOAuthProvider{}, registrar, repository.NewMemorySessionRepo(), ServiceConfig{SessionMaxAge: 60}, newTestLogger(&buf))

	_, _, err := svc.HandleCallback(context.Background(), "")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidInput {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

func TestService_HandleCallback_ExchangeFails(t *testing.T) {
	registrar := &mockRegistrar{}
	oauth := &mockOAuthProvider{
		exchangeFn: func(context.Context, string) (*model.Principal, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	var buf bytes.Buffer
	svc := NewService(oauth, registrar, repository.NewMemorySessionRepo(), ServiceConfig{SessionMaxAge: 60}, newTestLogger(&buf))

	if _, _, err := svc.HandleCallback(context.Background(), "code"); err == nil {
		t.Fatal("エラーが返されなかった")
	}
	if registrar.calls != 0 {
		t.Errorf("認証失敗時にユーザー登録が呼ばれた: %d", registrar.calls)
	}
}

func TestService_HandleCallback_RegistrarError(t *testing.T) {
	sessions := repository.NewMemorySessionRepo()
	registrar := &mockRegistrar{
		upsertFn: func(context.Context, model.Principal) (*model.User, error) {
			return nil, model.NewInvalidInputError("email claim is required")
		},
	}
	oauth := &mockOAuthProvider{
		exchangeFn: func(context.Context, string) (*model.Principal, error) {
			return &model.Principal{Subject: "s"}, nil
		},
	}
	var buf bytes.Buffer
	svc := NewService(oauth, registrar, sessions, ServiceConfig{SessionMaxAge: 60}, newTestLogger(&buf))

	_, _, err := svc.HandleCallback(context.Background(), "code")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidInput {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
	if n, _ := sessions.DeleteExpired(context.Background(), time.Now().Add(24*time.Hour)); n != 0 {
		t.Errorf("登録失敗時にセッションが作成された: %d", n)
	}
}

func TestService_Logout(t *testing.T) {
	sessions := repository.NewMemorySessionRepo()
	ctx := context.Background()
	sessions.Create(ctx, &model.Session{ID: "s-1", UserID: "u", ExpiresAt: time.Now().Add(time.Hour)})

	var buf bytes.Buffer
	svc := NewService(&mockOAuthProvider{}, &mockRegistrar{}, sessions, ServiceConfig{}, newTestLogger(&buf))

	if err := svc.Logout(ctx, "s-1"); err != nil {
		t.Fatalf("Logout がエラーを返した: %v", err)
	}
	if s, _ := sessions.FindByID(ctx, "s-1"); s != nil {
		t.Error("ログアウト後もセッションが残っている")
	}
	if err := svc.Logout(ctx, ""); err == nil {
		t.Error("空のセッションIDでエラーが返されなかった")
	}
}

func TestService_GetLoginURL(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(&mockOAuthProvider{}, &mockRegistrar{}, repository.NewMemorySessionRepo(), ServiceConfig{}, newTestLogger(&buf))
	if got := svc.GetLoginURL("st"); got != "https://accounts.example.com/auth?state=st" {
		t.Errorf("GetLoginURL = %q", got)
	}
}
