package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code         string // エラーコード
	Message      string // エラーメッセージ
	Category     string // カテゴリ: auth, validation, upstream, not_found, unavailable, system
	Action       string // ユーザー向け対処方法
	UpstreamCode string // 外部APIが返した結果コード（CODEFの "CF-xxxxx" 等）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.UpstreamCode != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.UpstreamCode)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput           = "INVALID_INPUT"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeNoConnection           = "CODEF_NOT_CONNECTED"
	ErrCodeCodefUnavailable       = "CODEF_UNAVAILABLE"
	ErrCodeTokenIssuance          = "CODEF_TOKEN_ISSUANCE_FAILED"
	ErrCodeCodefAPI               = "CODEF_API_ERROR"
	ErrCodeUpstreamFailed         = "UPSTREAM_FAILED"
	ErrCodeAnalysisNotImplemented = "ANALYSIS_NOT_IMPLEMENTED"
	ErrCodeCSRF                   = "CSRF_VALIDATION_FAILED"
	ErrCodeRateLimited            = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// エラーカテゴリ
const (
	CategoryAuth        = "auth"
	CategoryValidation  = "validation"
	CategoryUpstream    = "upstream"
	CategoryNotFound    = "not_found"
	CategoryUnavailable = "unavailable"
	CategorySystem      = "system"
)

// NewInvalidInputError は入力値エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ログインし直してください。",
	}
}

// NewNoConnectionError はCODEF未連携ユーザーに対する操作のエラーを生成する。
func NewNoConnectionError() *APIError {
	return &APIError{
		Code:     ErrCodeNoConnection,
		Message:  "金融機関との連携が登録されていません。",
		Category: CategoryNotFound,
		Action:   "先に金融機関の連携登録を行ってください。",
	}
}

// NewCodefUnavailableError はCODEF連携が無効な環境でのエラーを生成する。
func NewCodefUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeCodefUnavailable,
		Message:  "CODEF連携はこの環境で有効化されていません。",
		Category: CategoryUnavailable,
		Action:   "CODEF_ENABLED=true と認証情報を設定してください。",
	}
}

// NewTokenIssuanceError はCODEFアクセストークン発行失敗のエラーを生成する。
func NewTokenIssuanceError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenIssuance,
		Message:  "CODEFのアクセストークン発行に失敗しました。",
		Category: CategoryUpstream,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCodefAPIError はCODEFが失敗の結果コードを返した場合のエラーを生成する。
// 結果コードとメッセージはそのまま保持する。
func NewCodefAPIError(code, message string) *APIError {
	return &APIError{
		Code:         ErrCodeCodefAPI,
		Message:      message,
		Category:     CategoryUpstream,
		Action:       "入力した連携情報を確認してください。",
		UpstreamCode: code,
	}
}

// NewUpstreamFailedError は外部サービス呼び出し失敗のエラーを生成する。
func NewUpstreamFailedError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  fmt.Sprintf("外部サービスの呼び出しに失敗しました: %s", service),
		Category: CategoryUpstream,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAnalysisNotImplementedError は分析サービスが未実装の機能を要求された場合のエラーを生成する。
func NewAnalysisNotImplementedError() *APIError {
	return &APIError{
		Code:     ErrCodeAnalysisNotImplemented,
		Message:  "LLM分析はまだ提供されていません。",
		Category: CategoryUnavailable,
		Action:   "統計ベースの分析をご利用ください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: CategoryAuth,
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitError はレート制限超過のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: CategorySystem,
		Action:   "指定された時間が経過してから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
