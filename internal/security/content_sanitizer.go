// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は分析サービスが生成したテキストからHTMLを除去し、
// ブラウザに渡す前にスクリプト注入のリスクを取り除く。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去したテキストを返す。
	// script, styleタグは中身ごと除去する。
	// HTMLエンティティは元の文字に戻す。
	Sanitize(raw string) string
	// SanitizeAll はスライスの各要素をSanitizeした新しいスライスを返す。
	SanitizeAll(raw []string) []string
}

// textSanitizer はbluemondayのStrictPolicyを使ったTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は全てのHTMLタグを除去したテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// SanitizeAll はスライスの各要素をSanitizeした新しいスライスを返す。
// nilの入力にはnilを返す。
func (s *textSanitizer) SanitizeAll(raw []string) []string {
	if raw == nil {
		return nil
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = s.Sanitize(v)
	}
	return out
}
