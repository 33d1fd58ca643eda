// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/passport/internal/model"
)

// ErrDuplicateAccount は一意制約違反による作成失敗を表す。
// 同一IDの初回ログインが並行した場合、負けた側はこのエラーを受けて
// 検索にフォールバックする（致命的エラーとして扱わない）。
var ErrDuplicateAccount = errors.New("account already exists for identity")

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByProviderID は(provider='delegated', external_id)でアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderID(ctx context.Context, externalID string) (*model.Account, error)

	// FindByEmailOTP は(email, provider='otp')でアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByEmailOTP(ctx context.Context, email string) (*model.Account, error)

	// FindByEmail はproviderを問わずemailでアカウントを検索する。
	// 認証経路の競合（IdentityConflict）検出に使用する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// Create はアカウントを作成する。
	// 一意制約違反の場合はErrDuplicateAccountを返す。
	Create(ctx context.Context, account *model.Account) error

	// UpdateAssertion はIdPの最新表明（名前・メール・アバター）を反映する。
	// 初回観測スナップショット（original_*）は変更しない。
	UpdateAssertion(ctx context.Context, id, name, email, avatarURL string) error

	// UpdateProfile はプロフィール登録・編集を反映し、profile_completedを更新する。
	UpdateProfile(ctx context.Context, id, name, avatarURL string, completed bool) error

	// SetUseOriginal は「初期データを使用する」フラグを更新する。
	SetUseOriginal(ctx context.Context, id string, useOriginal bool) error

	// SetActive はアカウントの有効フラグを更新する。
	SetActive(ctx context.Context, id string, active bool) error
}

// CredentialRepository はOTPコードの永続化インターフェース。
type CredentialRepository interface {
	// Create はOTPコードを作成する。
	Create(ctx context.Context, credential *model.Credential) error

	// Consume は(email, code, 未使用, 未失効)に一致するコードを
	// 単一の条件付きUPDATEで使用済みに遷移させる。
	// 一致しない場合はfalseを返す。検証と使用済み化の間に競合窓は存在しない。
	Consume(ctx context.Context, email, code string, now time.Time) (bool, error)

	// DeleteExpired は指定時刻より前に失効したコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// LoginHistoryFilter はログイン履歴の絞り込み条件を表す。
// 文字列キーのアドホックなフィルタではなく、操作ごとに型付きで指定する。
type LoginHistoryFilter struct {
	AccountID string
	OriginIP  string // 空の場合は条件に含めない
	SessionID string // 空の場合は条件に含めない
}

// LoginHistoryRepository はログイン履歴の永続化インターフェース。
// 追記専用。ログアウト関連フィールドのみ一度だけ更新される。
type LoginHistoryRepository interface {
	// Create はログイン試行レコードを追記する。失敗した試行も記録する。
	Create(ctx context.Context, record *model.LoginRecord) error

	// ListByAccount はアカウントのログイン履歴をlogin_at降順でページ取得する。
	// 2番目の戻り値は総件数。
	ListByAccount(ctx context.Context, accountID string, offset, limit int) ([]*model.LoginRecord, int, error)

	// GroupByOrigin は成功レコードを接続元IPで集約する。
	// グループ順序は呼び出し元の現在IPを先頭に、以降は最新ログイン降順。
	// ページングはレコードではなくグループに対して行う。2番目の戻り値は総グループ数。
	GroupByOrigin(ctx context.Context, accountID, currentOrigin string, offset, limit int) ([]*model.OriginGroup, int, error)

	// StampLogout はフィルタに一致しlogout_at未設定のレコードへ
	// ログアウト時刻と理由を一括設定し、is_currentを解除する。
	// 更新件数を返す。既に終了済みの行には作用しない（冪等）。
	StampLogout(ctx context.Context, filter LoginHistoryFilter, reason model.LogoutReason, at time.Time) (int64, error)

	// StampTimedOut はlogout_at未設定のままcutoffより古いレコードへ
	// 理由timeoutでログアウト時刻を設定する。ワーカーから使用する。
	StampTimedOut(ctx context.Context, cutoff time.Time, at time.Time) (int64, error)
}
