package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/finsight/internal/agent"
	"github.com/hitoshi/finsight/internal/codef"
	"github.com/hitoshi/finsight/internal/forecast"
	"github.com/hitoshi/finsight/internal/middleware"
	"github.com/hitoshi/finsight/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// エラーの対応付けはここでのみ行い、サービス層は%wでラップして返すだけとする。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var issErr *codef.IssuanceError
	if errors.As(err, &issErr) {
		slog.Error("CODEF token issuance failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewTokenIssuanceError())
		return
	}

	var resErr *codef.ResultError
	if errors.As(err, &resErr) {
		slog.Warn("CODEF returned failure result",
			slog.String("upstream_code", resErr.Code),
			slog.String("upstream_message", resErr.Message),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewCodefAPIError(resErr.Code, resErr.Message))
		return
	}

	if errors.Is(err, agent.ErrNotImplemented) {
		writeAPIErrorResponse(w, http.StatusNotImplemented, model.NewAnalysisNotImplementedError())
		return
	}

	if service, ok := upstreamService(err); ok {
		slog.Error("upstream call failed",
			slog.String("service", service),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewUpstreamFailedError(service))
		return
	}

	// それ以外は内部エラーとして扱い、詳細はログにのみ残す
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// upstreamService はエラーが外部サービス起因であれば、そのサービス名を返す。
func upstreamService(err error) (string, bool) {
	var (
		codefHTTP    *codef.HTTPError
		agentHTTP    *agent.HTTPError
		forecastHTTP *forecast.HTTPError
		transport    *url.Error
	)
	switch {
	case errors.As(err, &codefHTTP),
		errors.Is(err, codef.ErrInvalidResponseData),
		errors.Is(err, codef.ErrTokenRejected),
		errors.Is(err, codef.ErrEmptyResponse):
		return "codef", true
	case errors.As(err, &agentHTTP), errors.Is(err, agent.ErrEmptyResponse):
		return "agent", true
	case errors.As(err, &forecastHTTP), errors.Is(err, forecast.ErrEmptyResponse):
		return "forecast", true
	case errors.As(err, &transport):
		// 接続エラー・タイムアウト
		return "upstream", true
	}
	return "", false
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeCSRF:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeNoConnection:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeCodefUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeTokenIssuance, model.ErrCodeCodefAPI, model.ErrCodeUpstreamFailed:
		return http.StatusBadGateway
	case model.ErrCodeAnalysisNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
