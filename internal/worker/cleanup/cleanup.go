// Package cleanup は認証データの定期整理ジョブを提供する。
// 失効済みOTPコードの削除と、放置されたままの未終了セッションへの
// タイムアウト打刻を日次バッチで行う。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は認証データの定期整理ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な処理を保証する。
type CleanupJob struct {
	db              Executor
	logger          *slog.Logger
	SessionMaxHours int // 未終了セッションをタイムアウト扱いにするまでの時間（デフォルト: 24）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトのセッション上限は24時間。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:              db,
		logger:          logger,
		SessionMaxHours: 24,
	}
}

// Run は失効済みOTPコードの削除と未終了セッションのタイムアウト打刻を行う。
// 冪等: 対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	purged, err := j.purgeExpiredCredentials(ctx)
	if err != nil {
		return err
	}

	timedOut, err := j.stampTimedOutSessions(ctx)
	if err != nil {
		return err
	}

	duration := time.Since(start)
	j.logger.Info("認証データ整理ジョブが完了しました",
		slog.Int64("purged_credentials", purged),
		slog.Int64("timed_out_sessions", timedOut),
		slog.Int("session_max_hours", j.SessionMaxHours),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// purgeExpiredCredentials は失効時刻を過ぎたOTPコードを削除する。
// 使用済みコードも失効後は保持しない。
func (j *CleanupJob) purgeExpiredCredentials(ctx context.Context) (int64, error) {
	query := `DELETE FROM credentials WHERE expires_at < now()`
	result, err := j.db.ExecContext(ctx, query)
	if err != nil {
		j.logger.Error("失効OTPコードの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("失効OTPコードの削除に失敗: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return purged, nil
}

// stampTimedOutSessions はログアウト未打刻のままセッション上限を超過した
// レコードへ理由timeoutを設定し、is_currentを解除する。
func (j *CleanupJob) stampTimedOutSessions(ctx context.Context) (int64, error) {
	interval := fmt.Sprintf("%d hours", j.SessionMaxHours)

	query := `
		UPDATE login_history
		SET logout_at = now(), logout_reason = 'timeout', is_current = FALSE
		WHERE logout_at IS NULL AND login_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションのタイムアウト打刻に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("session_max_hours", j.SessionMaxHours),
		)
		return 0, fmt.Errorf("セッションのタイムアウト打刻に失敗: %w", err)
	}

	timedOut, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return timedOut, nil
}
