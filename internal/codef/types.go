package codef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SuccessCode はCODEFの成功を表す結果コード。
const SuccessCode = "CF-00000"

// DefaultLoginType は証明書ログインを表すloginType。
const DefaultLoginType = "1"

// RegistrationRequest はConnectedID発行（金融機関アカウント登録）のリクエスト。
// 内容の妥当性はCODEF側で判定し、ここでは必須項目の有無のみ検証する。
type RegistrationRequest struct {
	Organization string `json:"organization" validate:"required"`
	LoginType    string `json:"loginType"`
	UserName     string `json:"userName" validate:"required"`
	Identity     string `json:"identity" validate:"required"` // 住民登録番号または事業者番号
	PhoneNo      string `json:"phoneNo" validate:"required"`
	CertFile     string `json:"certFile,omitempty"` // Base64エンコードされた証明書
	CertPassword string `json:"certPassword,omitempty"`
}

// ConnectedIDResponse はCODEFが発行したConnectedIDを表す。
type ConnectedIDResponse struct {
	ConnectedID  string    `json:"connectedId"`
	Organization string    `json:"organization"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Account はCODEFの口座一覧APIが返す1口座分のレコード。
// 項目は金融機関ごとに異なるため、キーと値をそのまま保持する。
type Account map[string]any

// AccountListPolicy は口座一覧レスポンスのdataが想定外の形だった場合の扱いを表す。
type AccountListPolicy string

const (
	// AccountListStrict はdataの欠落は空リスト、形の不一致はエラーとする。
	AccountListStrict AccountListPolicy = "strict"
	// AccountListLenient はdataの欠落・形の不一致をいずれも空リストとして扱う。
	AccountListLenient AccountListPolicy = "lenient"
)

// ParseAccountListPolicy は設定値をAccountListPolicyに変換する。
func ParseAccountListPolicy(s string) (AccountListPolicy, error) {
	switch AccountListPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AccountListStrict:
		return AccountListStrict, nil
	case AccountListLenient:
		return AccountListLenient, nil
	default:
		return "", fmt.Errorf("unknown account list policy: %q", s)
	}
}

// Result はCODEFレスポンスエンベロープのresult部。
type Result struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	ExtraMessage string `json:"extraMessage,omitempty"`
}

// IsSuccess は結果コードが成功かどうかを返す。
func (r Result) IsSuccess() bool {
	return r.Code == SuccessCode
}

// envelope はCODEFのレスポンスエンベロープ。
// dataは操作ごとに型が異なるため、RawMessageのまま保持して操作側でデコードする。
type envelope struct {
	Result *Result         `json:"result"`
	Data   json.RawMessage `json:"data"`
}

// connectedIDData はアカウント登録APIのdata部。
type connectedIDData struct {
	ConnectedID string `json:"connectedId"`
}

// decodeEnvelope はレスポンスボディをエンベロープにデコードし、結果コードを検証する。
// CODEFはボディをURLエンコードして返すことがあるため、JSONで始まらない場合は先にデコードする。
func decodeEnvelope(body []byte) (*envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyResponse
	}

	if body[0] != '{' {
		unescaped, err := url.QueryUnescape(string(body))
		if err != nil {
			return nil, fmt.Errorf("failed to unescape response body: %w", err)
		}
		body = []byte(unescaped)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response envelope: %w", err)
	}
	if env.Result == nil {
		return nil, fmt.Errorf("%w: missing result", ErrInvalidResponseData)
	}
	if !env.Result.IsSuccess() {
		return nil, &ResultError{
			Code:         env.Result.Code,
			Message:      env.Result.Message,
			ExtraMessage: env.Result.ExtraMessage,
		}
	}
	return &env, nil
}

// decodeConnectedID はアカウント登録APIのdataからConnectedIDを取り出す。
func decodeConnectedID(data json.RawMessage) (string, error) {
	if isNullJSON(data) {
		return "", fmt.Errorf("%w: data is absent", ErrInvalidResponseData)
	}
	var payload connectedIDData
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponseData, err)
	}
	if payload.ConnectedID == "" {
		return "", fmt.Errorf("%w: connectedId is missing", ErrInvalidResponseData)
	}
	return payload.ConnectedID, nil
}

// decodeAccounts は口座一覧APIのdataを口座レコードの列にデコードする。
func decodeAccounts(data json.RawMessage, policy AccountListPolicy) ([]Account, error) {
	if isNullJSON(data) {
		return []Account{}, nil
	}
	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		if policy == AccountListLenient {
			return []Account{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponseData, err)
	}
	if accounts == nil {
		accounts = []Account{}
	}
	return accounts, nil
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
