// Package auth は外部IdPによる委任ログインのプロバイダー抽象を提供する。
package auth

import "context"

// Assertion はIdPが表明したユーザー情報を表す。
type Assertion struct {
	ExternalID string // IdP側のサブジェクトID
	Email      string
	Name       string
	AvatarURL  string
	Provider   string // "google", "github" 等
}

// DelegatedProvider は委任ログインプロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type DelegatedProvider interface {
	// GetLoginURL は認可URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、表明されたユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*Assertion, error)
}
