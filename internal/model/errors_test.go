package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "結果コードなし",
			err:  NewUnauthorizedError(),
			want: "[UNAUTHORIZED] 認証が必要です。",
		},
		{
			name: "CODEFの結果コード付き",
			err:  NewCodefAPIError("CF-04000", "잘못된 요청입니다."),
			want: "[CODEF_API_ERROR] 잘못된 요청입니다. (CF-04000)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_UnwrapWithErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("口座一覧の取得に失敗しました: %w", NewNoConnectionError())

	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("errors.As でAPIErrorを取り出せること")
	}
	if apiErr.Code != ErrCodeNoConnection {
		t.Errorf("Code = %q, want %q", apiErr.Code, ErrCodeNoConnection)
	}
	if apiErr.Category != CategoryNotFound {
		t.Errorf("Category = %q, want %q", apiErr.Category, CategoryNotFound)
	}
}

func TestNewInvalidInputError_IncludesReason(t *testing.T) {
	err := NewInvalidInputError("idは必須です")
	if err.Message != "入力内容が不正です: idは必須です" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Category != CategoryValidation {
		t.Errorf("Category = %q, want %q", err.Category, CategoryValidation)
	}
}

func TestAuthProvider_Valid(t *testing.T) {
	for _, p := range []AuthProvider{AuthProviderGoogle, AuthProviderKakao, AuthProviderNaver} {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	if AuthProvider("GITHUB").Valid() {
		t.Error("GITHUB should be invalid")
	}
}

func TestUser_CloneIsIndependent(t *testing.T) {
	var nilUser *User
	if nilUser.Clone() != nil {
		t.Error("nil の Clone は nil を返すこと")
	}

	u := &User{ID: "u1", Email: "a@example.com", ConnectedID: "cid"}
	c := u.Clone()
	c.ConnectedID = ""
	if !u.HasConnection() {
		t.Error("コピーの変更が元のUserに反映されないこと")
	}
	if c.HasConnection() {
		t.Error("ConnectedIDが空ならHasConnectionはfalse")
	}
}
