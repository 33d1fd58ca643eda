// Package session はセッションクレームの構築と署名付きトークンの管理を提供する。
// クレームはログイン経路ごとのタグ付き型として表現し、本パッケージ以外では構築しない。
package session

import "github.com/hitoshi/passport/internal/model"

// BaseClaims は全ログイン経路に共通する最小クレームセット。
// 現在のAccountレコードから純粋に再導出可能でなければならない。
type BaseClaims struct {
	AccountID  string
	Provider   model.Provider
	Name       string
	AvatarURL  string
	Incomplete bool // 新規ユーザーまたはプロフィール未完了
}

// Claims はログイン経路でタグ付けされたクレームのインターフェース。
type Claims interface {
	// Base は共通クレームを返す。
	Base() BaseClaims
}

// DelegatedClaims は委任ログインのクレーム。
type DelegatedClaims struct {
	BaseClaims
	ExternalID string
}

// Base は共通クレームを返す。
func (c DelegatedClaims) Base() BaseClaims { return c.BaseClaims }

// OtpClaims はOTPログインのクレーム。
type OtpClaims struct {
	BaseClaims
	Email string
}

// Base は共通クレームを返す。
func (c OtpClaims) Base() BaseClaims { return c.BaseClaims }
