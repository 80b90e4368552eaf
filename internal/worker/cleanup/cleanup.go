// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はクリーンアップの既定の実行間隔。
const DefaultInterval = time.Hour

// SessionExpirer は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionExpirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Recorder は削除件数の記録先。metrics.Collectorが実装する。
type Recorder interface {
	RecordSessionsExpired(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 削除は冪等であり、対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions SessionExpirer
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(sessions SessionExpirer, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は期限切れセッションを1回削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsExpired(deleted)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後に1回実行し、その後intervalごとに実行する。
// コンテキストがキャンセルされるとnilを返して終了する。
// 個々の実行の失敗はログに記録し、ジョブ自体は継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	j.logger.Info("session cleanup started", slog.Duration("interval", interval))
	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup stopped")
			return nil
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
