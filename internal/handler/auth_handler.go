// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/finsight/internal/middleware"
	"github.com/hitoshi/finsight/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("state generation failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.setStateCookie(w, state, 600)
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Home はログイン状態に応じてフロントエンドのダッシュボードまたはログイン画面へ誘導する。
// GET /
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSuffix(h.config.BaseURL, "/")
	if _, ok := middleware.PrincipalFromContext(r.Context()); ok {
		http.Redirect(w, r, base+"/dashboard", http.StatusFound)
		return
	}
	http.Redirect(w, r, base+"/login", http.StatusFound)
}

// Callback はOAuthコールバックを処理し、セッションCookieを発行してフロントエンドへ戻す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	expected, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(expected.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("stateパラメータが一致しません"))
		return
	}
	h.setStateCookie(w, "", -1)

	if errParam := q.Get("error"); errParam != "" {
		slog.Warn("oauth provider returned error", slog.String("error", errParam))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	code := q.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("認可コードがありません"))
		return
	}

	session, user, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("login via google failed", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))

	h.setCookie(w, middleware.SessionCookieName, session.ID, h.config.SessionMaxAge)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してCookieを削除する。フロントエンドからfetchで呼ばれるため204を返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(middleware.SessionCookieName); err == nil && c.Value != "" {
		// ストア側の削除に失敗してもCookieは消す
		if err := h.service.Logout(r.Context(), c.Value); err != nil {
			slog.Error("failed to delete session", slog.String("error", err.Error()))
		}
	}

	h.setCookie(w, middleware.SessionCookieName, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// setStateCookie はOAuthのstate Cookieを設定する。ログイン開始からコールバックまでのみ使う。
func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	h.setCookie(w, oauthStateCookie, value, maxAge)
}

// setCookie はHttpOnlyかつSameSite=LaxのCookieを設定する。maxAgeが負の場合は削除になる。
func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if name == middleware.SessionCookieName {
		c.Domain = h.config.CookieDomain
	}
	http.SetCookie(w, c)
}

// generateState は32桁の16進文字列のstateを生成する。
func generateState() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
