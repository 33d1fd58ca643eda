// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizerService はユーザー入力のプロフィール文字列（表示名など）を
// サニタイズし、格納型XSSからユーザーを保護する。
// bluemondayライブラリのStrictPolicyを使用し、HTMLタグを一切許可しない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService はプロフィール入力のサニタイズ機能のインターフェースを定義する。
// プロフィール登録・編集の保存前に使用される。
type ProfileSanitizerService interface {
	// SanitizeName は表示名からHTMLタグを全て除去し、前後の空白を取り除く。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeName(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
// 表示名はプレーンテキストとして扱うため、タグを一切許可しないStrictPolicyを使用する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeName は表示名からHTMLタグを全て除去し、前後の空白を取り除く。
func (s *profileSanitizer) SanitizeName(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
