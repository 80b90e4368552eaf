// Package codef はCODEF（金融データ集約API）との連携を提供する。
// client credentialsトークンの発行とキャッシュ、ConnectedIDの発行、口座一覧の取得を含む。
package codef

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultAPIURL はCODEFのサンドボックス環境のURL。
	DefaultAPIURL = "https://development.codef.io"
	// DefaultOAuthURL はCODEFのトークン発行サーバーのURL。
	DefaultOAuthURL = "https://oauth.codef.io"
	// DefaultOrganization は口座一覧取得時の機関コード（新韓銀行）。
	DefaultOrganization = "0004"

	tokenPath       = "/oauth/token"
	createPath      = "/v1/account/create"
	accountListPath = "/v1/kr/bank/p/account/account-list"

	tokenScope = "read"

	// maxResponseSize はCODEFレスポンスボディの読み取り上限（4MB）。
	maxResponseSize = 4 << 20
)

// Metrics はCODEF連携のメトリクス記録インターフェース。
type Metrics interface {
	RecordTokenIssued(reason string)
	RecordTokenIssueFailure(reason string)
	RecordUpstreamCall(service, operation, outcome string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordTokenIssued(string) {}
func (noopMetrics) RecordTokenIssueFailure(string) {}
func (noopMetrics) RecordUpstreamCall(string, string, string, time.Duration) {}

// ClientConfig はCODEFクライアントの設定。
type ClientConfig struct {
	APIURL       string
	OAuthURL     string
	ClientID     string
	ClientSecret string

	// Organization は口座一覧取得時に送る機関コード。
	Organization string
	// AccountListPolicy は口座一覧のdataが想定外の形だった場合の扱い。
	AccountListPolicy AccountListPolicy

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    Metrics
}

// Client はCODEF APIのクライアント。
// 状態を持たず、ドメイン操作をCODEFのワイヤプロトコルに変換してレスポンスエンベロープを検証する。
type Client struct {
	apiURL       string
	organization string
	policy       AccountListPolicy
	credentials  clientcredentials.Config
	tokenClient  *http.Client
	httpClient   *http.Client
	logger       *slog.Logger
	metrics      Metrics
	now          func() time.Time
}

// NewClient はClientを生成する。
// ClientIDまたはClientSecretが空の場合はエラーを返す。
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("CODEFのクライアントIDとシークレットは必須です")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = DefaultOAuthURL
	}
	if cfg.Organization == "" {
		cfg.Organization = DefaultOrganization
	}
	if cfg.AccountListPolicy == "" {
		cfg.AccountListPolicy = AccountListStrict
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	return &Client{
		apiURL:       strings.TrimSuffix(cfg.APIURL, "/"),
		organization: cfg.Organization,
		policy:       cfg.AccountListPolicy,
		credentials: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     strings.TrimSuffix(cfg.OAuthURL, "/") + tokenPath,
			Scopes:       []string{tokenScope},
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		tokenClient: &http.Client{
			Timeout:   cfg.HTTPClient.Timeout,
			Transport: &basicAuthTransport{
				clientID:     cfg.ClientID,
				clientSecret: cfg.ClientSecret,
				base:         cfg.HTTPClient.Transport,
			},
		},
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}, nil
}

// basicAuthTransport はトークン発行リクエストのAuthorizationヘッダーを
// base64(clientId:clientSecret) で上書きする。
// x/oauth2はID・シークレットをURLエンコードしてから連結するため、記号を含む認証情報ではCODEFと一致しない。
type basicAuthTransport struct {
	clientID     string
	clientSecret string
	base         http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.clientID, t.clientSecret)
	return base.RoundTrip(r)
}

// IssueToken はclient credentialsグラントでアクセストークンを発行する。
// Basic認証ヘッダーとフォーム形式のボディ（grant_type, scope）で送信する。
// access_tokenまたは正のexpires_inがない応答は発行失敗として扱う。
func (c *Client) IssueToken(ctx context.Context) (*Token, error) {
	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.tokenClient)

	tok, err := c.credentials.Token(ctx)
	if err != nil {
		c.metrics.RecordUpstreamCall("codef", "issue_token", "error", time.Since(start))
		return nil, &IssuanceError{Err: err}
	}
	if tok == nil || tok.AccessToken == "" {
		c.metrics.RecordUpstreamCall("codef", "issue_token", "error", time.Since(start))
		return nil, &IssuanceError{Err: ErrEmptyResponse}
	}

	expiresIn, ok := expiresInSeconds(tok)
	if !ok {
		c.metrics.RecordUpstreamCall("codef", "issue_token", "error", time.Since(start))
		c.logger.Error("CODEF token response has no usable expires_in",
			slog.Any("expires_in", tok.Extra("expires_in")),
		)
		return nil, &IssuanceError{Err: ErrInvalidResponseData}
	}
	c.metrics.RecordUpstreamCall("codef", "issue_token", "success", time.Since(start))

	scope, _ := tok.Extra("scope").(string)
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   expiresIn,
		Scope:       scope,
		IssuedAt:    c.now(),
	}, nil
}

// expiresInSeconds はトークン応答のexpires_inを秒数で返す。
// 数値・文字列のどちらの表現も受け付け、欠落または0以下の場合はfalseを返す。
func expiresInSeconds(tok *oauth2.Token) (int64, bool) {
	var secs int64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		secs = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		secs = n
	default:
		return 0, false
	}
	return secs, secs > 0
}

// CreateConnectedID は金融機関アカウントを登録し、ConnectedIDを発行する。
// 結果コードが成功以外の場合は*ResultErrorを、dataにconnectedIdがない場合は
// ErrInvalidResponseDataを返す。
func (c *Client) CreateConnectedID(ctx context.Context, token string, req RegistrationRequest) (*ConnectedIDResponse, error) {
	loginType := req.LoginType
	if loginType == "" {
		loginType = DefaultLoginType
	}

	body := map[string]string{
		"organization": req.Organization,
		"loginType":    loginType,
		"userName":     req.UserName,
		"identity":     req.Identity,
		"phoneNo":      req.PhoneNo,
	}
	if req.CertFile != "" {
		body["certFile"] = req.CertFile
	}
	if req.CertPassword != "" {
		body["certPassword"] = req.CertPassword
	}

	env, err := c.post(ctx, "create_connected_id", createPath, token, body)
	if err != nil {
		return nil, err
	}

	connectedID, err := decodeConnectedID(env.Data)
	if err != nil {
		return nil, err
	}

	return &ConnectedIDResponse{
		ConnectedID:  connectedID,
		Organization: req.Organization,
		CreatedAt:    c.now(),
	}, nil
}

// ListAccounts はConnectedIDに紐づく口座一覧を取得する。
// dataの形が想定外の場合の扱いはAccountListPolicyに従う。
func (c *Client) ListAccounts(ctx context.Context, token, connectedID string) ([]Account, error) {
	body := map[string]string{
		"connectedId":  connectedID,
		"organization": c.organization,
	}

	env, err := c.post(ctx, "list_accounts", accountListPath, token, body)
	if err != nil {
		return nil, err
	}

	return decodeAccounts(env.Data, c.policy)
}

// post はBearer認証付きでJSONをPOSTし、レスポンスエンベロープを検証して返す。
func (c *Client) post(ctx context.Context, operation, path, token string, payload any) (*envelope, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.RecordUpstreamCall("codef", operation, outcome, time.Since(start))
	}()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("CODEF API request failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("CODEFへのリクエストに失敗しました (%s): %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		outcome = "rejected"
		return nil, ErrTokenRejected
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("CODEF API returned error status",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	env, err := decodeEnvelope(body)
	if err != nil {
		if _, ok := err.(*ResultError); ok {
			outcome = "result_error"
		}
		return nil, err
	}

	outcome = "success"
	return env, nil
}
