// Package cleanup は失効した確認コードの自動削除ジョブを提供する。
// パスワードリセット用のverification_requestsのうち、
// 保持期間（デフォルト7日）を超えて失効しているレコードを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reaper は失効済み確認コードの削除を抽象化するインターフェース。
// repository.VerificationRequestRepository が満たす。
type Reaper interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// ReapRecorder は削除件数を記録するインターフェース。
type ReapRecorder interface {
	RecordVerificationRequestsReaped(count int64)
}

// CleanupJob は失効した確認コードの自動削除ジョブ。
// 冪等な削除処理のため、何度実行しても結果は変わらない。
type CleanupJob struct {
	reaper    Reaper
	recorder  ReapRecorder
	logger    *slog.Logger
	Retention time.Duration // 失効後の保持期間（デフォルト: 7日）
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderはnilでもよい。
func NewCleanupJob(reaper Reaper, recorder ReapRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		reaper:    reaper,
		recorder:  recorder,
		logger:    logger,
		Retention: 7 * 24 * time.Hour,
		now:       time.Now,
	}
}

// Run はexpires_atが保持期間より前の確認コードを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.Add(-j.Retention)

	deleted, err := j.reaper.DeleteStale(ctx, before)
	if err != nil {
		j.logger.Error("確認コードのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("failed to reap verification requests: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordVerificationRequestsReaped(deleted)
	}

	j.logger.Info("確認コードのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後interval間隔でRunを繰り返す。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	// エラーはRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
