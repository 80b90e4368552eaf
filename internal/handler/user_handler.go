package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/finsight/internal/codef"
	"github.com/hitoshi/finsight/internal/middleware"
	"github.com/hitoshi/finsight/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	UpsertFromPrincipal(ctx context.Context, p model.Principal) (*model.User, error)
	CodefEnabled() bool
	RegisterConnection(ctx context.Context, userID string, req codef.RegistrationRequest) (*codef.ConnectedIDResponse, error)
	ListAccounts(ctx context.Context, userID string) ([]codef.Account, error)
}

// UserHandler はユーザー情報とCODEF連携のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type userInfoResponse struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Picture       string `json:"picture"`
	Authenticated bool   `json:"authenticated"`
}

type meResponse struct {
	User         *model.User `json:"user"`
	CodefEnabled bool        `json:"codefEnabled"`
}

type codefStatusResponse struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

type connectionResponse struct {
	ConnectedID  string `json:"connectedId"`
	Organization string `json:"organization"`
	Message      string `json:"message"`
}

// Info はセッションに保存されたIdPクレームを返す。
// GET /api/user/info
func (h *UserHandler) Info(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return
	}

	if _, err := h.service.UpsertFromPrincipal(r.Context(), p); err != nil {
		handleServiceError(w, err)
		return
	}

	name := p.Name
	if name == "" {
		name = "Unknown"
	}
	writeJSON(w, http.StatusOK, userInfoResponse{
		Name:          name,
		Email:         p.Email,
		Picture:       p.Picture,
		Authenticated: true,
	})
}

// Status はログイン状態を返す。未ログインでも200を返す。
// GET /api/user/status
func (h *UserHandler) Status(w http.ResponseWriter, r *http.Request) {
	_, err := middleware.UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": err == nil})
}

// Me はログインユーザーのレコードとCODEF連携の有効状態を返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:         user,
		CodefEnabled: h.service.CodefEnabled(),
	})
}

// CodefStatus はCODEF連携が有効かどうかを返す。
// GET /api/users/codef/status
func (h *UserHandler) CodefStatus(w http.ResponseWriter, r *http.Request) {
	resp := codefStatusResponse{Enabled: h.service.CodefEnabled()}
	if resp.Enabled {
		resp.Message = "CODEF service is available"
	} else {
		resp.Message = "CODEF service is not configured"
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterConnection は金融機関アカウントをCODEFに登録し、ConnectedIDを保存する。
// POST /api/users/me/codef-connection
func (h *UserHandler) RegisterConnection(w http.ResponseWriter, r *http.Request) {
	if !h.service.CodefEnabled() {
		handleServiceError(w, model.NewCodefUnavailableError())
		return
	}

	var req codef.RegistrationRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	resp, err := h.service.RegisterConnection(r.Context(), user.ID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, connectionResponse{
		ConnectedID:  resp.ConnectedID,
		Organization: resp.Organization,
		Message:      "CODEF connection registered successfully",
	})
}

// ListAccounts はログインユーザーの連携済み口座一覧を返す。
// GET /api/users/me/accounts
func (h *UserHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if !h.service.CodefEnabled() {
		handleServiceError(w, model.NewCodefUnavailableError())
		return
	}

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if accounts == nil {
		accounts = []codef.Account{}
	}

	writeJSON(w, http.StatusOK, accounts)
}

// currentUser はセッションのPrincipalをユーザーレジストリに反映し、そのユーザーを返す。
// 失敗した場合はレスポンスを書き込み、falseを返す。
func (h *UserHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	return upsertCurrentUser(w, r, h.service)
}

// principalRegistrar はupsertCurrentUserが必要とする最小限のインターフェース。
type principalRegistrar interface {
	UpsertFromPrincipal(ctx context.Context, p model.Principal) (*model.User, error)
}

func upsertCurrentUser(w http.ResponseWriter, r *http.Request, users principalRegistrar) (*model.User, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return nil, false
	}

	user, err := users.UpsertFromPrincipal(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	return user, true
}
