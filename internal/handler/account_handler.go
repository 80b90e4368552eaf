package handler

import "net/http"

// sampleAccount はフロントエンドの疎通確認用の固定口座。
type sampleAccount struct {
	ID        string `json:"id"`
	OwnerName string `json:"ownerName"`
	Balance   int64  `json:"balance"`
}

// AccountHandler はCODEFを介さない口座APIの疎通確認用ハンドラー。
type AccountHandler struct{}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler() *AccountHandler {
	return &AccountHandler{}
}

// Sample は固定のサンプル口座を返す。
// GET /api/accounts/sample
func (h *AccountHandler) Sample(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sampleAccount{
		ID:        "acc_001",
		OwnerName: "Haehyuk",
		Balance:   125_000,
	})
}

// Health は認証付きAPIが到達可能であることを返す。
// GET /api/accounts/health
func (h *AccountHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "OK",
		"msg":    "[finsight] API alive",
	})
}
