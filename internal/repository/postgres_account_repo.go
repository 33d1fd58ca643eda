package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/passport/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `id, name, email, avatar_url, provider, external_id,
	active, profile_completed, role,
	original_name, original_email, original_avatar_url, use_original,
	created_at, updated_at`

// scanAccount は1行をmodel.Accountへ読み込む。
func scanAccount(row *sql.Row) (*model.Account, error) {
	a := &model.Account{}
	err := row.Scan(
		&a.ID, &a.Name, &a.Email, &a.AvatarURL, &a.Provider, &a.ExternalID,
		&a.Active, &a.ProfileCompleted, &a.Role,
		&a.Original.Name, &a.Original.Email, &a.Original.AvatarURL, &a.UseOriginal,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

// FindByProviderID は(provider='delegated', external_id)でアカウントを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByProviderID(ctx context.Context, externalID string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE provider = $1 AND external_id = $2`,
		model.ProviderDelegated, externalID,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by provider ID: %w", err)
	}
	return account, nil
}

// FindByEmailOTP は(email, provider='otp')でアカウントを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmailOTP(ctx context.Context, email string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE email = $1 AND provider = $2`,
		email, model.ProviderOTP,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return account, nil
}

// FindByEmail はproviderを問わずemailでアカウントを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		email,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return account, nil
}

// Create はアカウントを作成する。
// 一意制約違反（並行した初回ログインの敗者側）はErrDuplicateAccountを返す。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, email, avatar_url, provider, external_id,
		  active, profile_completed, role,
		  original_name, original_email, original_avatar_url, use_original,
		  created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		account.ID, account.Name, account.Email, account.AvatarURL,
		account.Provider, account.ExternalID,
		account.Active, account.ProfileCompleted, account.Role,
		account.Original.Name, account.Original.Email, account.Original.AvatarURL,
		account.UseOriginal,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateAssertion はIdPの最新表明を反映する。original_*列は変更しない。
func (r *PostgresAccountRepo) UpdateAssertion(ctx context.Context, id, name, email, avatarURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET name = $2, email = $3, avatar_url = $4, updated_at = now()
		 WHERE id = $1`,
		id, name, email, avatarURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update account assertion: %w", err)
	}
	return nil
}

// UpdateProfile はプロフィール登録・編集を反映する。
func (r *PostgresAccountRepo) UpdateProfile(ctx context.Context, id, name, avatarURL string, completed bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET name = $2, avatar_url = $3, profile_completed = $4, updated_at = now()
		 WHERE id = $1`,
		id, name, avatarURL, completed,
	)
	if err != nil {
		return fmt.Errorf("failed to update account profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

// SetUseOriginal は「初期データを使用する」フラグを更新する。
func (r *PostgresAccountRepo) SetUseOriginal(ctx context.Context, id string, useOriginal bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET use_original = $2, updated_at = now() WHERE id = $1`,
		id, useOriginal,
	)
	if err != nil {
		return fmt.Errorf("failed to update use_original flag: %w", err)
	}
	return nil
}

// SetActive はアカウントの有効フラグを更新する。
func (r *PostgresAccountRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET active = $2, updated_at = now() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("failed to update active flag: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
