package codef

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIssuer は発行回数を数えるTokenIssuer。
type fakeIssuer struct {
	calls    atomic.Int32
	delay    time.Duration
	lifetime int64
	now      func() time.Time
	err      error
}

func (f *fakeIssuer) IssueToken(ctx context.Context) (*Token, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	now := time.Now()
	if f.now != nil {
		now = f.now()
	}
	return &Token{
		AccessToken: fmt.Sprintf("token-%d", n),
		TokenType:   "Bearer",
		ExpiresIn:   f.lifetime,
		IssuedAt:    now,
	}, nil
}

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingMetrics は発行理由を記録するMetrics。
type recordingMetrics struct {
	mu       sync.Mutex
	issued   []string
	failures []string
}

func (m *recordingMetrics) RecordTokenIssued(reason string) {
	m.mu.Lock()
	m.issued = append(m.issued, reason)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordTokenIssueFailure(reason string) {
	m.mu.Lock()
	m.failures = append(m.failures, reason)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordUpstreamCall(string, string, string, time.Duration) {}

func newCacheForTest(issuer *fakeIssuer, clock *fakeClock, opts ...TokenCacheOption) *TokenCache {
	issuer.now = clock.Now
	opts = append(opts, withClock(clock.Now))
	return NewTokenCache(issuer, opts...)
}

func TestTokenCache_IssuesOnFirstCall(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600}
	cache := newCacheForTest(issuer, clock)

	tok, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.Equal(t, int32(1), issuer.calls.Load())
}

func TestTokenCache_WarmCacheMakesNoIssuerCalls(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600}
	cache := newCacheForTest(issuer, clock)

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		clock.Advance(time.Second)
		tok, err := cache.GetValidToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-1", tok)
	}
	assert.Equal(t, int32(1), issuer.calls.Load(), "有効なトークンがある間は再発行しないこと")
}

func TestTokenCache_WarmCacheConcurrentReadersMakeNoIssuerCalls(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600}
	cache := newCacheForTest(issuer, clock)

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	const callers = 100
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = cache.GetValidToken(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), issuer.calls.Load(), "有効なキャッシュへの同時読み取りでは発行しないこと")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "token-1", results[i])
	}
}

func TestTokenCache_ReissuesAtExpiryBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600}
	cache := newCacheForTest(issuer, clock, WithExpiryMargin(0))

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	clock.Advance(3599 * time.Second)
	tok, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok, "失効1秒前は既存トークンを返す")

	clock.Advance(time.Second)
	tok, err = cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok, "失効時刻ちょうどで再発行する")
	assert.Equal(t, int32(2), issuer.calls.Load())
}

func TestTokenCache_MarginTriggersEarlyRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600}
	cache := newCacheForTest(issuer, clock, WithExpiryMargin(30*time.Second))

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	clock.Advance(3569 * time.Second)
	tok, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	clock.Advance(time.Second)
	tok, err = cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok, "余裕時間に入ったら再発行する")
}

func TestTokenCache_ConcurrentCallersShareOneIssuance(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600, delay: 50 * time.Millisecond}
	cache := newCacheForTest(issuer, clock)

	const callers = 50
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = cache.GetValidToken(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), issuer.calls.Load(), "同時に呼び出しても発行は1回だけ")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "token-1", results[i])
	}
}

func TestTokenCache_RefreshTokenAlwaysIssues(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600}
	metrics := &recordingMetrics{}
	cache := newCacheForTest(issuer, clock, WithCacheMetrics(metrics))

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	refreshed, err := cache.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", refreshed)

	tok, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok, "強制更新後は新しいトークンが使われる")
	assert.Equal(t, []string{issueReasonMiss, issueReasonForced}, metrics.issued)
}

func TestTokenCache_FailedIssuanceKeepsCacheEmpty(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600, err: &IssuanceError{Err: errors.New("connection refused")}}
	metrics := &recordingMetrics{}
	cache := newCacheForTest(issuer, clock, WithCacheMetrics(metrics))

	_, err := cache.GetValidToken(context.Background())
	var issErr *IssuanceError
	require.ErrorAs(t, err, &issErr)

	issuer.err = nil
	tok, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok, "失敗後の呼び出しで再度発行を試みる")
	assert.Equal(t, []string{issueReasonMiss}, metrics.failures)
}

func TestTokenCache_FailedRefreshKeepsPreviousToken(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600}
	cache := newCacheForTest(issuer, clock)

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	issuer.err = &IssuanceError{Err: errors.New("boom")}
	_, err = cache.RefreshToken(context.Background())
	require.Error(t, err)

	tok, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
}

func TestTokenCache_Invalidate(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := &fakeIssuer{lifetime: 3600}
	cache := newCacheForTest(issuer, clock)

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	cache.Invalidate()

	tok, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
}
