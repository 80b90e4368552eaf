package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/google/callback",
	})

	raw := provider.GetLoginURL("test-state-value")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid login URL %q: %v", raw, err)
	}
	if u.Host != "accounts.google.com" {
		t.Errorf("host = %q, want accounts.google.com", u.Host)
	}

	q := u.Query()
	want := map[string]string{
		"client_id":     "test-client-id",
		"redirect_uri":  "http://localhost:8080/auth/google/callback",
		"state":         "test-state-value",
		"response_type": "code",
		"scope":         "openid email profile",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

// newGoogleStub はトークンエンドポイントとユーザー情報エンドポイントを持つテストサーバーを返す。
func newGoogleStub(t *testing.T, userInfo map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("code") != "valid-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
			t.Errorf("unexpected Authorization header: %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userInfo)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newStubProvider(server *httptest.Server) *GoogleOAuthProvider {
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		HTTPClient:   server.Client(),
		AuthURL:      server.URL + "/auth",
		TokenURL:     server.URL + "/token",
		UserInfoURL:  server.URL + "/userinfo",
	})
}

func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	server := newGoogleStub(t, map[string]any{
		"sub":            "google-sub-12345",
		"email":          "user@gmail.com",
		"email_verified": true,
		"name":           "Google User",
		"picture":        "https://lh3.googleusercontent.com/a/photo.jpg",
	})

	p, err := newStubProvider(server).ExchangeCode(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("ExchangeCode がエラーを返した: %v", err)
	}
	if p.Subject != "google-sub-12345" || p.Email != "user@gmail.com" || p.Name != "Google User" {
		t.Errorf("principal = %+v", p)
	}
	if !strings.HasSuffix(p.Picture, "/photo.jpg") {
		t.Errorf("picture = %q", p.Picture)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Failures(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		userInfo map[string]any
	}{
		{"不正な認可コード", "bad-code", map[string]any{"sub": "s", "email": "a@b.c"}},
		{"subなし", "valid-code", map[string]any{"email": "a@b.c"}},
		{"emailなし", "valid-code", map[string]any{"sub": "s"}},
		{"email未確認", "valid-code", map[string]any{"sub": "s", "email": "a@b.c", "email_verified": false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newGoogleStub(t, tt.userInfo)
			if _, err := newStubProvider(server).ExchangeCode(context.Background(), tt.code); err == nil {
				t.Error("エラーが返されなかった")
			}
		})
	}
}
