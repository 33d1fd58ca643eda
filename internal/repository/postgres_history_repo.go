package repository

import (
	"context"
	"fmt"
	"time"

	"database/sql"

	"github.com/hitoshi/passport/internal/model"
)

// PostgresLoginHistoryRepo はPostgreSQLを使用したログイン履歴リポジトリ。
type PostgresLoginHistoryRepo struct {
	db *sql.DB
}

// NewPostgresLoginHistoryRepo はPostgresLoginHistoryRepoを生成する。
func NewPostgresLoginHistoryRepo(db *sql.DB) *PostgresLoginHistoryRepo {
	return &PostgresLoginHistoryRepo{db: db}
}

// Create はログイン試行レコードを追記する。失敗した試行も監査のため記録する。
func (r *PostgresLoginHistoryRepo) Create(ctx context.Context, record *model.LoginRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_history
		  (id, account_id, session_id, login_at, origin_ip, user_agent,
		   outcome, logout_at, logout_reason, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID, record.AccountID, record.SessionID, record.LoginAt,
		record.OriginIP, record.UserAgent, record.Outcome,
		record.LogoutAt, record.LogoutReason, record.IsCurrent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert login record: %w", err)
	}
	return nil
}

// ListByAccount はログイン履歴をlogin_at降順でページ取得する。
func (r *PostgresLoginHistoryRepo) ListByAccount(ctx context.Context, accountID string, offset, limit int) ([]*model.LoginRecord, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM login_history WHERE account_id = $1`,
		accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count login records: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, session_id, login_at, origin_ip, user_agent,
		        outcome, logout_at, logout_reason, is_current
		 FROM login_history
		 WHERE account_id = $1
		 ORDER BY login_at DESC
		 LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list login records: %w", err)
	}
	defer rows.Close()

	var records []*model.LoginRecord
	for rows.Next() {
		rec := &model.LoginRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.AccountID, &rec.SessionID, &rec.LoginAt,
			&rec.OriginIP, &rec.UserAgent, &rec.Outcome,
			&rec.LogoutAt, &rec.LogoutReason, &rec.IsCurrent,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan login record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate login records: %w", err)
	}

	return records, total, nil
}

// GroupByOrigin は成功レコードを接続元IPで集約する。
// 集約はストレージ層のGROUP BYで行う。アプリケーション側で全件を読んで
// 集約するとページングと整合しないため、ここで完結させる。
// グループの「現在セッション」フラグは、接続元が呼び出し元の現在IPと一致し、
// かつlogout_at未設定のレコードを1件以上含む場合にのみ立つ。
func (r *PostgresLoginHistoryRepo) GroupByOrigin(ctx context.Context, accountID, currentOrigin string, offset, limit int) ([]*model.OriginGroup, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(DISTINCT origin_ip) FROM login_history
		 WHERE account_id = $1 AND outcome = $2`,
		accountID, model.LoginSuccess,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count origin groups: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT origin_ip,
		        count(*) AS session_count,
		        max(login_at) AS most_recent_login,
		        bool_or(logout_at IS NULL) AS has_open_session
		 FROM login_history
		 WHERE account_id = $1 AND outcome = $2
		 GROUP BY origin_ip
		 ORDER BY (origin_ip = $3) DESC, max(login_at) DESC
		 LIMIT $4 OFFSET $5`,
		accountID, model.LoginSuccess, currentOrigin, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to group login records: %w", err)
	}
	defer rows.Close()

	var groups []*model.OriginGroup
	for rows.Next() {
		g := &model.OriginGroup{}
		var hasOpen bool
		if err := rows.Scan(&g.OriginIP, &g.SessionCount, &g.MostRecentLogin, &hasOpen); err != nil {
			return nil, 0, fmt.Errorf("failed to scan origin group: %w", err)
		}
		g.IsCurrent = g.OriginIP == currentOrigin && hasOpen
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate origin groups: %w", err)
	}

	return groups, total, nil
}

// StampLogout はフィルタに一致するlogout_at未設定のレコードへ
// ログアウト時刻と理由を一括設定する。
// logout_at IS NULLで絞るため、終了済みの行に再度作用することはない（冪等）。
func (r *PostgresLoginHistoryRepo) StampLogout(ctx context.Context, filter LoginHistoryFilter, reason model.LogoutReason, at time.Time) (int64, error) {
	query := `UPDATE login_history
	          SET logout_at = $1, logout_reason = $2, is_current = false
	          WHERE account_id = $3 AND logout_at IS NULL`
	args := []interface{}{at, reason, filter.AccountID}

	if filter.OriginIP != "" {
		args = append(args, filter.OriginIP)
		query += fmt.Sprintf(" AND origin_ip = $%d", len(args))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to stamp logout: %w", err)
	}
	closed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return closed, nil
}

// StampTimedOut はcutoffより古い未終了レコードへ理由timeoutでログアウト時刻を設定する。
func (r *PostgresLoginHistoryRepo) StampTimedOut(ctx context.Context, cutoff time.Time, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE login_history
		 SET logout_at = $1, logout_reason = $2, is_current = false
		 WHERE logout_at IS NULL AND login_at < $3`,
		at, model.LogoutTimeout, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to stamp timed out sessions: %w", err)
	}
	closed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return closed, nil
}

// compile-time interface check
var _ LoginHistoryRepository = (*PostgresLoginHistoryRepo)(nil)
