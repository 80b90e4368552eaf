// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/finsight/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey     = contextKey("user_id")
	principalContextKey  = contextKey("principal")
	userIDSinkContextKey = contextKey("user_id_sink")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 認証済みユーザーIDとPrincipalをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(finder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := lookupSession(r, finder)
			if session == nil {
				WriteUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// NewOptionalSessionMiddleware はセッションがあればコンテキストに注入し、
// なければそのまま次のハンドラーに渡すミドルウェアを返す。
func NewOptionalSessionMiddleware(finder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session := lookupSession(r, finder); session != nil {
				r = r.WithContext(ContextWithSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// lookupSession はCookieのセッションIDから有効なセッションを返す。見つからない場合はnil。
func lookupSession(r *http.Request, finder SessionFinder) *model.Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	session, err := finder.FindByID(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to find session",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return session
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// PrincipalFromContext はリクエストコンテキストから認証済みPrincipalを取得する。
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(model.Principal)
	return p, ok
}

// ContextWithSession はセッションのユーザーIDとPrincipalをコンテキストに注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	if sink, ok := ctx.Value(userIDSinkContextKey).(*string); ok {
		*sink = session.UserID
	}
	ctx = context.WithValue(ctx, userIDContextKey, session.UserID)
	return context.WithValue(ctx, principalContextKey, session.Principal)
}

// ContextWithUserID はコンテキストにユーザーIDのみを注入する。テスト用。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// withUserIDSink は後段のミドルウェアが認証したユーザーIDを書き込む先をコンテキストに設定する。
func withUserIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, userIDSinkContextKey, sink)
}
