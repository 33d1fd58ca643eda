// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredential = "INVALID_CREDENTIAL"
	ErrCodeIdentityConflict  = "IDENTITY_CONFLICT"
	ErrCodeAccountSuspended  = "ACCOUNT_SUSPENDED"
	ErrCodeIncompleteProfile = "INCOMPLETE_PROFILE"
	ErrCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	ErrCodeInvalidIdentity   = "INVALID_IDENTITY"
	ErrCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
)

// NewInvalidCredentialError はOTP検証失敗エラーを生成する。
// 不正・期限切れ・使用済みのいずれであるかは外部に開示しない（列挙攻撃対策）。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "認証コードが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "新しい認証コードをリクエストしてください。",
	}
}

// NewIdentityConflictError はメールアドレスが別の認証経路に紐づいている場合のエラーを生成する。
func NewIdentityConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityConflict,
		Message:  "このメールアドレスは別のログイン方法で登録されています。",
		Category: "auth",
		Action:   "最初に登録したログイン方法でログインしてください。",
	}
}

// NewAccountSuspendedError はアカウント停止エラーを生成する。
func NewAccountSuspendedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountSuspended,
		Message:  "このアカウントは利用停止されています。",
		Category: "auth",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewIncompleteProfileError はプロフィール未登録状態を表すエラーを生成する。
// 失敗ではなく構造的な状態であり、呼び出し側はプロフィール登録へ分岐する。
func NewIncompleteProfileError() *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteProfile,
		Message:  "プロフィールの登録が完了していません。",
		Category: "auth",
		Action:   "名前を入力してプロフィール登録を完了してください。",
	}
}

// NewStoreUnavailableError はリポジトリ障害エラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidIdentityError は不正なID表明入力のエラーを生成する。
func NewInvalidIdentityError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIdentity,
		Message:  fmt.Sprintf("不正なID情報です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "アカウントが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
