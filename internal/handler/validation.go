package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/finsight/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（証明書ファイルを含むため大きめ）。
const maxRequestBodySize = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーメッセージにはGoのフィールド名ではなくJSONのキー名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate はリクエストボディをJSONとして読み取り、validateタグで検証する。
// 失敗した場合は入力値エラーを返す。
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewInvalidInputError("リクエストボディが空です")
		}
		return model.NewInvalidInputError("JSONの形式が正しくありません")
	}
	return validateStruct(dst)
}

// validateStruct は構造体のvalidateタグを検証し、最初の違反を入力値エラーとして返す。
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("リクエストの検証に失敗しました: %w", err)
	}

	first := verrs[0]
	switch first.Tag() {
	case "required":
		return model.NewInvalidInputError(fmt.Sprintf("%s は必須です", first.Field()))
	case "max":
		return model.NewInvalidInputError(fmt.Sprintf("%s は%s文字以内で指定してください", first.Field(), first.Param()))
	default:
		return model.NewInvalidInputError(fmt.Sprintf("%s が不正です (%s)", first.Field(), first.Tag()))
	}
}
