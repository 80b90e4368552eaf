package codef

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidResponseData はレスポンスのdataが期待する形でない場合のエラー。
	ErrInvalidResponseData = errors.New("codef: invalid response data")

	// ErrTokenRejected はBearerトークンがCODEFに拒否された（HTTP 401）場合のエラー。
	ErrTokenRejected = errors.New("codef: access token rejected")

	// ErrEmptyResponse はレスポンスボディが空の場合のエラー。
	ErrEmptyResponse = errors.New("codef: empty response body")
)

// IssuanceError はアクセストークンの発行に失敗したことを表す。
type IssuanceError struct {
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *IssuanceError) Error() string {
	return fmt.Sprintf("codef: failed to issue token: %v", e.Err)
}

// Unwrap は元のエラーを返す。
func (e *IssuanceError) Unwrap() error {
	return e.Err
}

// ResultError はCODEFが成功以外の結果コードを返したことを表す。
// コードとメッセージは加工せずに保持する。
type ResultError struct {
	Code         string
	Message      string
	ExtraMessage string
}

// Error はerrorインターフェースを実装する。
func (e *ResultError) Error() string {
	return fmt.Sprintf("CODEF API error: %s - %s", e.Code, e.Message)
}

// HTTPError はCODEFが想定外のHTTPステータスを返したことを表す。
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *HTTPError) Error() string {
	return fmt.Sprintf("codef: unexpected status %d: %s", e.StatusCode, e.Body)
}
