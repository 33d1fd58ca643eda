// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はアカウントの認証経路を表す。
type Provider string

const (
	// ProviderDelegated は外部IdPによる委任ログインを示す。
	ProviderDelegated Provider = "delegated"
	// ProviderOTP はメールOTPによるログインを示す。
	ProviderOTP Provider = "otp"
)

// Role はアカウントの権限ロールを表す。
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// ProfileSnapshot はIdPから最初に観測したプロフィールを表す。
// 「初期データに戻す」機能のために作成後は上書きしない。
type ProfileSnapshot struct {
	Name      string
	Email     string
	AvatarURL string
}

// Account はログイン経路によらない単一の内部アカウントを表す。
// 一意性: delegatedは(provider, external_id)、otpは(email, provider)で一意。
type Account struct {
	ID               string
	Name             string
	Email            string
	AvatarURL        string
	Provider         Provider
	ExternalID       string // delegatedでは必須、otpでは空
	Active           bool
	ProfileCompleted bool
	Role             Role
	Original         ProfileSnapshot
	UseOriginal      bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsNewUser はOTPフローで未登録を示すセンチネルかどうかを返す。
// センチネルはIDを持たない。
func (a *Account) IsNewUser() bool {
	return a.ID == ""
}

// EffectiveProfile は表示に使用するプロフィールを返す。
// use_originalが立っている場合は初回観測スナップショットを返す。
func (a *Account) EffectiveProfile() ProfileSnapshot {
	if a.UseOriginal {
		return a.Original
	}
	return ProfileSnapshot{Name: a.Name, Email: a.Email, AvatarURL: a.AvatarURL}
}

// NewUserSentinel はOTP検証成功後にアカウント未登録を示すセンチネルを返す。
// 呼び出し側はエラーではなくプロフィール登録ステップへ分岐する。
func NewUserSentinel(email string) *Account {
	return &Account{
		Email:    email,
		Provider: ProviderOTP,
		Active:   true,
		Role:     RoleUser,
	}
}
