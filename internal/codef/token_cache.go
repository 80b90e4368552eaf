package codef

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultExpiryMargin はキャッシュ済みトークンを失効前に更新する余裕時間。
const DefaultExpiryMargin = 30 * time.Second

const (
	issueReasonMiss   = "miss"
	issueReasonForced = "forced"
)

// TokenIssuer はアクセストークンを発行するインターフェース。
type TokenIssuer interface {
	IssueToken(ctx context.Context) (*Token, error)
}

// TokenCache はプロセス全体で共有するCODEFアクセストークンのキャッシュ。
// 有効なトークンがあれば読み取りロックのみで返し、失効時は書き込みロック下で
// 再確認した上で1回だけ発行する。
type TokenCache struct {
	issuer  TokenIssuer
	margin  time.Duration
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time

	mu    sync.RWMutex
	token *Token
}

// TokenCacheOption はTokenCacheの設定オプション。
type TokenCacheOption func(*TokenCache)

// WithExpiryMargin は失効判定の余裕時間を設定する。0の場合は失効時刻ちょうどまで使う。
func WithExpiryMargin(margin time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if margin >= 0 {
			c.margin = margin
		}
	}
}

// WithCacheLogger はロガーを設定する。
func WithCacheLogger(logger *slog.Logger) TokenCacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// WithCacheMetrics はメトリクスの記録先を設定する。
func WithCacheMetrics(m Metrics) TokenCacheOption {
	return func(c *TokenCache) {
		c.metrics = m
	}
}

// withClock は現在時刻の取得関数を差し替える。テスト用。
func withClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// NewTokenCache はTokenCacheを生成する。
func NewTokenCache(issuer TokenIssuer, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		issuer:  issuer,
		margin:  DefaultExpiryMargin,
		logger:  slog.Default(),
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetValidToken は有効なアクセストークン文字列を返す。
// キャッシュが空または失効している場合のみ新しいトークンを発行する。
func (c *TokenCache) GetValidToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if tok := c.token; tok != nil && tok.usableAt(c.now(), c.margin) {
		c.mu.RUnlock()
		return tok.AccessToken, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// 待機中に他のゴルーチンが更新している可能性がある
	if tok := c.token; tok != nil && tok.usableAt(c.now(), c.margin) {
		return tok.AccessToken, nil
	}

	tok, err := c.issueLocked(ctx, issueReasonMiss)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// RefreshToken はキャッシュの状態に関わらず新しいトークンを発行して差し替える。
// 発行に失敗した場合、既存のキャッシュは変更しない。
func (c *TokenCache) RefreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.issueLocked(ctx, issueReasonForced)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate はキャッシュ済みトークンを破棄する。次回のGetValidTokenで再発行される。
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// issueLocked は書き込みロックを保持した状態で呼び出すこと。
func (c *TokenCache) issueLocked(ctx context.Context, reason string) (*Token, error) {
	tok, err := c.issuer.IssueToken(ctx)
	if err != nil {
		c.metrics.RecordTokenIssueFailure(reason)
		c.logger.Error("failed to issue CODEF access token",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	c.token = tok
	c.metrics.RecordTokenIssued(reason)
	c.logger.Info("CODEF access token issued",
		slog.String("reason", reason),
		slog.Int64("expires_in", tok.ExpiresIn),
	)
	return tok, nil
}
