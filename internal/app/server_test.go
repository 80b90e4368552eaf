package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/finsight/internal/config"
	"github.com/hitoshi/finsight/internal/model"
	"github.com/hitoshi/finsight/internal/repository"
)

func newMemoryStore() *store {
	return &store{
		users:    repository.NewMemoryUserRepo(),
		sessions: repository.NewMemorySessionRepo(),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		GoogleClientID:         "id",
		GoogleClientSecret:     "secret",
		GoogleRedirectURL:      "http://localhost:8080/auth/google/callback",
		BaseURL:                "http://localhost:3000",
		SessionMaxAge:          3600,
		SessionCleanupInterval: time.Hour,
		AgentAPIURL:            "http://127.0.0.1:1",
		AgentTimeout:           time.Second,
		ForecastURL:            "http://127.0.0.1:1",
		ForecastTimeout:        time.Second,
		RateLimitGeneral:       120,
		RateLimitCodefReg:      5,
		CORSAllowedOrigins:     []string{"http://localhost:3000"},
	}
}

func TestNewServer_CodefDisabled(t *testing.T) {
	srv, err := newServer(testConfig(), newMemoryStore(), newRegistry())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}
	if srv.userService.CodefEnabled() {
		t.Error("CODEF無効時はユーザーサービスもCODEF無効であること")
	}

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/users/codef/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["enabled"] != false {
		t.Errorf("enabled = %v, want false", body["enabled"])
	}
}

func TestNewServer_CodefEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.CodefEnabled = true
	cfg.CodefClientID = "codef-id"
	cfg.CodefClientSecret = "codef-secret"
	cfg.CodefTimeout = time.Second

	srv, err := newServer(cfg, newMemoryStore(), newRegistry())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}
	if !srv.userService.CodefEnabled() {
		t.Error("CODEF有効時はユーザーサービスもCODEF有効であること")
	}
}

func TestNewServer_HealthAndMetrics(t *testing.T) {
	srv, err := newServer(testConfig(), newMemoryStore(), newRegistry())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "finsight_http_status_total") {
		t.Error("/metrics にHTTPステータスのメトリクスが含まれること")
	}
	if !strings.Contains(string(raw), "go_goroutines") {
		t.Error("/metrics にGo runtimeのメトリクスが含まれること")
	}
}

func TestNewServer_SessionFromStoreAuthenticates(t *testing.T) {
	st := newMemoryStore()
	srv, err := newServer(testConfig(), st, newRegistry())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}

	now := time.Now()
	err = st.sessions.Create(context.Background(), &model.Session{
		ID:     "sess-1",
		UserID: "user-1",
		Principal: model.Principal{
			Subject: "sub-1",
			Email:   "bob@example.com",
			Name:    "Bob",
		},
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/users/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		User model.User `json:"user"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.User.Email != "bob@example.com" {
		t.Errorf("email = %q, want bob@example.com", body.User.Email)
	}

	// 同じPrincipalでの2回目は同じユーザーを返す
	stored, err := st.users.FindByEmail(context.Background(), "bob@example.com")
	if err != nil || stored == nil || stored.ID != body.User.ID {
		t.Errorf("stored user = %+v, err = %v", stored, err)
	}
}

func TestNewServer_CleanupJobUsesStore(t *testing.T) {
	st := newMemoryStore()
	srv, err := newServer(testConfig(), st, newRegistry())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}

	past := time.Now().Add(-2 * time.Hour)
	st.sessions.Create(context.Background(), &model.Session{
		ID:        "expired",
		UserID:    "u",
		ExpiresAt: past.Add(time.Hour),
		CreatedAt: past,
	})

	deleted, err := srv.cleanup.Run(context.Background())
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
