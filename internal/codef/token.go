package codef

import "time"

// Token はCODEFのclient credentialsグラントで発行されたアクセストークン。
// 発行後は不変で、更新時は丸ごと差し替える。
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64 // 有効期間（秒）
	Scope       string
	IssuedAt    time.Time
}

// ExpiresAt はトークンの失効時刻を返す。
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// IsExpiredAt は指定時刻においてトークンが失効しているかを返す。
// now >= IssuedAt + ExpiresIn のとき失効とみなす。
func (t *Token) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// IsExpired は現在時刻においてトークンが失効しているかを返す。
func (t *Token) IsExpired() bool {
	return t.IsExpiredAt(time.Now())
}

// usableAt はmarginを差し引いた上でトークンがまだ使えるかを返す。
// marginは有効期間の半分を上限とする。
func (t *Token) usableAt(now time.Time, margin time.Duration) bool {
	if half := time.Duration(t.ExpiresIn) * time.Second / 2; margin > half {
		margin = half
	}
	return t.AccessToken != "" && !t.IsExpiredAt(now.Add(margin))
}
