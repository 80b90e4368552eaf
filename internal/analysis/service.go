// Package analysis はサンプルデータを使った支出分析とエージェントシナリオを提供する。
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/finsight/internal/agent"
	"github.com/hitoshi/finsight/internal/model"
)

// monthLayout は分析対象月の書式。
const monthLayout = "2006-01"

// Analyzer は分析サービスを呼び出すインターフェース。
type Analyzer interface {
	Analyze(ctx context.Context, req agent.AnalysisRequest, tier agent.Tier) (*agent.AnalysisResult, error)
}

// scenarios はシナリオ名と分析サービスへの依頼文の対応。
var scenarios = map[string]string{
	"monthly-analysis":   "이번 달 소비 패턴을 분석해서 HTML 리포트를 만들고 이메일로 보내줘",
	"cafe-savings":       "카페 지출이 너무 많은데, 줄일 수 있는 방법을 분석해줘",
	"budget-check":       "예산 대비 소비 현황을 확인하고 남은 예산을 알려줘",
	"category-deep-dive": "가장 많이 소비한 카테고리를 분석하고 절약 팁을 제공해줘",
}

// Service はサンプル取引データによる分析を行う。
type Service struct {
	analyzer Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(analyzer Analyzer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		analyzer: analyzer,
		logger:   logger,
		now:      time.Now,
	}
}

// AnalyzeSample は固定のサンプル取引と当月を使って分析サービスを呼び出す。
func (s *Service) AnalyzeSample(ctx context.Context, userID, userName string, tier agent.Tier) (*agent.AnalysisResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.NewInvalidInputError("userId is required")
	}

	req := agent.AnalysisRequest{
		UserID:       userID,
		UserName:     userName,
		Transactions: SampleTransactions(),
		Month:        s.now().Format(monthLayout),
	}

	result, err := s.analyzer.Analyze(ctx, req, tier)
	if err != nil {
		return nil, fmt.Errorf("サンプル分析に失敗しました: %w", err)
	}

	s.logger.Info("sample analysis completed",
		slog.String("tier", string(tier)),
		slog.String("month", req.Month),
	)
	return result, nil
}

// ScenarioRequest はシナリオ名に対応する依頼文を返す。
func ScenarioRequest(name string) (string, error) {
	req, ok := scenarios[name]
	if !ok {
		return "", model.NewInvalidInputError(fmt.Sprintf("unknown scenario: %s", name))
	}
	return req, nil
}

// Scenarios は利用可能なシナリオ名を返す。
func Scenarios() []string {
	return []string{"monthly-analysis", "cafe-savings", "budget-check", "category-deep-dive"}
}

// SampleTransactions は分析用の固定サンプル取引を返す。呼び出しごとに新しいスライスを返す。
func SampleTransactions() []agent.Transaction {
	return []agent.Transaction{
		{ID: "1", Date: "2025-10-01", Amount: 4500, Category: "카페", Merchant: "스타벅스", Description: "아메리카노"},
		{ID: "2", Date: "2025-10-03", Amount: 45000, Category: "식비", Merchant: "올리브영", Description: "생필품"},
		{ID: "3", Date: "2025-10-05", Amount: 15000, Category: "교통", Merchant: "카카오T", Description: "택시"},
		{ID: "4", Date: "2025-10-07", Amount: 89000, Category: "온라인쇼핑", Merchant: "쿠팡", Description: "전자기기"},
		{ID: "5", Date: "2025-10-10", Amount: 5500, Category: "카페", Merchant: "이디야", Description: "라떼"},
		{ID: "6", Date: "2025-10-12", Amount: 120000, Category: "구독", Merchant: "Netflix", Description: "프리미엄"},
		{ID: "7", Date: "2025-10-15", Amount: 35000, Category: "식비", Merchant: "배달의민족", Description: "치킨"},
		{ID: "8", Date: "2025-10-18", Amount: 4800, Category: "카페", Merchant: "투썸플레이스", Description: "아이스티"},
		{ID: "9", Date: "2025-10-20", Amount: 250000, Category: "온라인쇼핑", Merchant: "Apple", Description: "AirPods"},
		{ID: "10", Date: "2025-10-25", Amount: 6000, Category: "카페", Merchant: "메가커피", Description: "아메리카노"},
		{ID: "11", Date: "2025-10-27", Amount: 12000, Category: "구독", Merchant: "YouTube Premium", Description: "프리미엄"},
		{ID: "12", Date: "2025-10-28", Amount: 28000, Category: "식비", Merchant: "GS25", Description: "편의점"},
		{ID: "13", Date: "2025-10-29", Amount: 150000, Category: "온라인쇼핑", Merchant: "무신사", Description: "의류"},
		{ID: "14", Date: "2025-10-30", Amount: 7500, Category: "카페", Merchant: "할리스", Description: "카페라떼"},
	}
}
