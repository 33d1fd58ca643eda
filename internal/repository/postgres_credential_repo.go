package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/passport/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用したOTPコードリポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// Create はOTPコードを作成する。
// 再送時も新規レコードを追加する。既存の未使用コードは各自の期限まで有効のまま残る。
func (r *PostgresCredentialRepo) Create(ctx context.Context, credential *model.Credential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (id, email, code, expires_at, used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		credential.ID, credential.Email, credential.Code,
		credential.ExpiresAt, credential.Used, credential.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// Consume は一致するコードを単一の条件付きUPDATEで使用済みに遷移させる。
// 検証と使用済み化が同一文で行われるため、同一コードに対する並行検証は
// 合計で高々1回しか成功しない。
func (r *PostgresCredentialRepo) Consume(ctx context.Context, email, code string, now time.Time) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`UPDATE credentials
		 SET used = true
		 WHERE id = (
		   SELECT id FROM credentials
		   WHERE email = $1 AND code = $2 AND used = false AND expires_at > $3
		   ORDER BY created_at DESC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id`,
		email, code, now,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume credential: %w", err)
	}
	return true, nil
}

// DeleteExpired は失効済みコードを削除し、削除件数を返す。
func (r *PostgresCredentialRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE expires_at <= $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired credentials: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
