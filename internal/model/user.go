// Package model はドメインモデルを定義する。
package model

import "time"

// AuthProvider はユーザーがログインに使用したIdPを表す。
type AuthProvider string

const (
	// AuthProviderGoogle はGoogleアカウントによるログイン。
	AuthProviderGoogle AuthProvider = "GOOGLE"
	// AuthProviderKakao はKakaoアカウントによるログイン。
	AuthProviderKakao AuthProvider = "KAKAO"
	// AuthProviderNaver はNaverアカウントによるログイン。
	AuthProviderNaver AuthProvider = "NAVER"
)

// Valid は定義済みのプロバイダーかどうかを返す。
func (p AuthProvider) Valid() bool {
	switch p {
	case AuthProviderGoogle, AuthProviderKakao, AuthProviderNaver:
		return true
	default:
		return false
	}
}

// User はサービス利用ユーザーを表す。
// Emailが一意な自然キーで、IDは作成時に一度だけ採番され変更されない。
// ConnectedIDはCODEFで発行された連携IDで、未連携の場合は空文字列。
type User struct {
	ID              string       `json:"id"`
	Email           string       `json:"email"`
	Name            string       `json:"name"`
	Provider        AuthProvider `json:"provider"`
	ProviderID      string       `json:"providerId"`
	ProfileImageURL string       `json:"profileImageUrl,omitempty"`
	ConnectedID     string       `json:"codefConnectedId,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// HasConnection はCODEF連携済みかどうかを返す。
func (u *User) HasConnection() bool {
	return u.ConnectedID != ""
}

// Clone はUserのコピーを返す。
// ストアの外に渡すレコードは常にコピーとし、呼び出し側の変更がストアに漏れないようにする。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Principal は認証済みリクエストのIdPクレームを表す。
// OAuthコールバック時にセッションへ保存され、以降のリクエストで復元される。
type Principal struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	Principal Principal
	ExpiresAt time.Time
	CreatedAt time.Time
}
