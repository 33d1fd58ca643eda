package model

import "time"

// Credential はメールアドレスに紐づく単回使用のOTPコードを表す。
// 検証時に同一操作で使用済みに遷移させ、二重使用を防ぐ。
type Credential struct {
	ID        string
	Email     string
	Code      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Expired は指定時刻において有効期限切れかどうかを返す。
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
