// Package cleanup は期限切れリフレッシュトークンの削除ジョブを提供する。
// 期限の判定は再発行時に都度行うため、このジョブは行数を抑えるための掃除にすぎない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はジョブの実行間隔のデフォルト値。
const DefaultInterval = 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れリフレッシュトークンの削除ジョブ。
// 冪等で、同時に複数プロセスから実行しても結果は変わらない。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	Interval time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:       db,
		logger:   logger,
		Interval: DefaultInterval,
	}
}

// Run はexpires_atを過ぎたリフレッシュトークンを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= now()`)
	if err != nil {
		j.logger.Error("refresh token cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get deleted count: %w", err)
	}

	j.logger.Info("refresh token cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// Start は起動直後に1回実行し、以降Intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。失敗はログに残して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
