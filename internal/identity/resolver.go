// Package identity はID表明からアカウントへの解決ロジックを提供する。
// 委任ログイン・OTPログインのどちらで認証しても単一の内部アカウントへ収束させる。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/passport/internal/auth"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

// Sanitizer はプロフィール入力のサニタイズに必要なインターフェース。
// security.ProfileSanitizerServiceの部分集合として定義する。
type Sanitizer interface {
	SanitizeName(raw string) string
}

// Resolver はID表明を内部アカウントへ解決するサービス。
type Resolver struct {
	accountRepo repository.AccountRepository
	sanitizer   Sanitizer
}

// NewResolver はResolverを生成する。
func NewResolver(accountRepo repository.AccountRepository, sanitizer Sanitizer) *Resolver {
	return &Resolver{
		accountRepo: accountRepo,
		sanitizer:   sanitizer,
	}
}

// ResolveDelegated は外部IdPの表明を内部アカウントへ解決する。
// 既存アカウントがある場合、表明が変化していれば現在値を更新する。
// ただし初回観測スナップショット（original_*）は作成後一切上書きしない。
// 未登録の場合は新規アカウントを作成する。並行した初回ログインで
// 一意制約違反が起きた敗者側は検索に切り替えて同じアカウントを返す。
func (r *Resolver) ResolveDelegated(ctx context.Context, assertion *auth.Assertion) (*model.Account, error) {
	if err := validateAssertion(assertion); err != nil {
		return nil, err
	}

	account, err := r.accountRepo.FindByProviderID(ctx, assertion.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by provider ID: %w", err)
	}

	if account != nil {
		if !account.Active {
			return nil, model.NewAccountSuspendedError()
		}
		return r.refreshAssertion(ctx, account, assertion)
	}

	// メールアドレスが別の認証経路に紐づいていないか確認
	existing, err := r.accountRepo.FindByEmail(ctx, assertion.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email conflict: %w", err)
	}
	if existing != nil {
		slog.Warn("delegated login rejected: email bound to another provider",
			slog.String("provider", string(existing.Provider)),
		)
		return nil, model.NewIdentityConflictError()
	}

	account, err = r.createDelegated(ctx, assertion)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ResolveOTP はOTP検証済みのメールアドレスを内部アカウントへ解決する。
// アカウント未登録は失敗ではなく「新規ユーザー」を意味し、センチネルを返す。
// 呼び出し側はセンチネルを受けてプロフィール登録ステップへ分岐する。
func (r *Resolver) ResolveOTP(ctx context.Context, email string) (*model.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	account, err := r.accountRepo.FindByEmailOTP(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	if account != nil {
		if !account.Active {
			return nil, model.NewAccountSuspendedError()
		}
		return account, nil
	}

	// メールアドレスが委任ログインに紐づいている場合は新規作成させない
	existing, err := r.accountRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email conflict: %w", err)
	}
	if existing != nil {
		return nil, model.NewIdentityConflictError()
	}

	return model.NewUserSentinel(email), nil
}

// CompleteProfile はOTPフローの新規ユーザー（センチネル）または
// プロフィール未完了アカウントを、実アカウントへ昇格させる。
// 不完全なOTPフローの途中ではアカウントを一切作成しないため、
// アカウントの作成はこの時点で初めて行われる。
func (r *Resolver) CompleteProfile(ctx context.Context, email, name, avatarURL string) (*model.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	name = r.sanitizer.SanitizeName(name)
	if name == "" {
		return nil, model.NewInvalidIdentityError("表示名が空です")
	}

	account, err := r.accountRepo.FindByEmailOTP(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}

	if account != nil {
		if account.ProfileCompleted {
			// 既に完了済みのプロフィールをこの経路で上書きさせない
			return nil, model.NewInvalidIdentityError("プロフィールは登録済みです")
		}
		if err := r.accountRepo.UpdateProfile(ctx, account.ID, name, avatarURL, true); err != nil {
			return nil, fmt.Errorf("failed to complete profile: %w", err)
		}
		return r.accountRepo.FindByID(ctx, account.ID)
	}

	now := time.Now()
	newAccount := &model.Account{
		ID:               uuid.New().String(),
		Name:             name,
		Email:            email,
		AvatarURL:        avatarURL,
		Provider:         model.ProviderOTP,
		Active:           true,
		ProfileCompleted: true,
		Role:             model.RoleUser,
		Original: model.ProfileSnapshot{
			Name:      name,
			Email:     email,
			AvatarURL: avatarURL,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.accountRepo.Create(ctx, newAccount); err != nil {
		if errors.Is(err, repository.ErrDuplicateAccount) {
			// 同一メールの登録が並行した場合、敗者側は検索へフォールバック
			return r.accountRepo.FindByEmailOTP(ctx, email)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("new otp account created",
		slog.String("account_id", newAccount.ID),
	)
	return newAccount, nil
}

// SetUseOriginal は「初期データを使用する」フラグを切り替え、更新後のアカウントを返す。
func (r *Resolver) SetUseOriginal(ctx context.Context, accountID string, useOriginal bool) (*model.Account, error) {
	account, err := r.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError()
	}

	if err := r.accountRepo.SetUseOriginal(ctx, accountID, useOriginal); err != nil {
		return nil, fmt.Errorf("failed to set use_original: %w", err)
	}
	return r.accountRepo.FindByID(ctx, accountID)
}

// refreshAssertion はIdPの最新表明と保存値の差分を現在値へ反映する。
// original_*は変更しない。
func (r *Resolver) refreshAssertion(ctx context.Context, account *model.Account, assertion *auth.Assertion) (*model.Account, error) {
	if account.Name == assertion.Name &&
		account.Email == assertion.Email &&
		account.AvatarURL == assertion.AvatarURL {
		return account, nil
	}

	if err := r.accountRepo.UpdateAssertion(ctx, account.ID, assertion.Name, assertion.Email, assertion.AvatarURL); err != nil {
		return nil, fmt.Errorf("failed to refresh assertion: %w", err)
	}

	slog.Info("delegated profile refreshed from assertion",
		slog.String("account_id", account.ID),
	)
	return r.accountRepo.FindByID(ctx, account.ID)
}

// createDelegated は委任ログインの新規アカウントを作成する。
// スナップショット = 現在値 = 初回表明。
func (r *Resolver) createDelegated(ctx context.Context, assertion *auth.Assertion) (*model.Account, error) {
	now := time.Now()
	account := &model.Account{
		ID:               uuid.New().String(),
		Name:             assertion.Name,
		Email:            assertion.Email,
		AvatarURL:        assertion.AvatarURL,
		Provider:         model.ProviderDelegated,
		ExternalID:       assertion.ExternalID,
		Active:           true,
		ProfileCompleted: true,
		Role:             model.RoleUser,
		Original: model.ProfileSnapshot{
			Name:      assertion.Name,
			Email:     assertion.Email,
			AvatarURL: assertion.AvatarURL,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.accountRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateAccount) {
			// 並行した初回ログインの敗者側は検索へフォールバック
			return r.accountRepo.FindByProviderID(ctx, assertion.ExternalID)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("new delegated account created",
		slog.String("account_id", account.ID),
		slog.String("provider", assertion.Provider),
	)
	return account, nil
}

// validateAssertion はリポジトリ呼び出し前に表明の形式を検証する。
func validateAssertion(assertion *auth.Assertion) error {
	if assertion == nil {
		return model.NewInvalidIdentityError("表明が空です")
	}
	if strings.TrimSpace(assertion.ExternalID) == "" {
		return model.NewInvalidIdentityError("外部IDが空です")
	}
	return validateEmail(assertion.Email)
}

// validateEmail はメールアドレスの形式を最低限検証する。
func validateEmail(email string) error {
	if email == "" {
		return model.NewInvalidIdentityError("メールアドレスが空です")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return model.NewInvalidIdentityError("メールアドレスの形式が不正です")
	}
	return nil
}
