package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/finsight/internal/forecast"
	"github.com/hitoshi/finsight/internal/model"
)

// ForecastServiceInterface は予測ハンドラーが必要とするサービスインターフェース。
type ForecastServiceInterface interface {
	Forecast(ctx context.Context, req forecast.Request) (*forecast.Response, error)
}

// ForecastHandler は残高予測のHTTPハンドラー。予測サービスへの中継のみを行う。
type ForecastHandler struct {
	service ForecastServiceInterface
}

// NewForecastHandler はForecastHandlerを生成する。
func NewForecastHandler(service ForecastServiceInterface) *ForecastHandler {
	return &ForecastHandler{service: service}
}

// Get は口座の残高予測を返す。
// GET /api/forecast?accountId=xxx&horizonDays=7
func (h *ForecastHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := forecast.Request{AccountID: q.Get("accountId")}
	if raw := q.Get("horizonDays"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("horizonDaysは整数で指定してください"))
			return
		}
		req.HorizonDays = days
	}

	resp, err := h.service.Forecast(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
