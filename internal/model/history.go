package model

import "time"

// LoginOutcome はログイン試行の結果を表す。
type LoginOutcome string

const (
	LoginSuccess LoginOutcome = "success"
	LoginFailed  LoginOutcome = "failed"
)

// LogoutReason はセッション終了の理由を表す。
type LogoutReason string

const (
	LogoutUserRequest   LogoutReason = "user_request"
	LogoutTimeout       LogoutReason = "timeout"
	LogoutSecurityAlert LogoutReason = "security_alert"
	LogoutAdminAction   LogoutReason = "admin_action"
	LogoutSystem        LogoutReason = "system"
)

// LoginRecord はログイン試行1件の監査レコードを表す。
// 書き込み後は不変。ただしログアウト関連フィールドのみ
// 未設定から設定済みへ一度だけ遷移する。
type LoginRecord struct {
	ID           string
	AccountID    string
	SessionID    string
	LoginAt      time.Time
	OriginIP     string
	UserAgent    string
	Outcome      LoginOutcome
	LogoutAt     *time.Time
	LogoutReason *LogoutReason
	IsCurrent    bool
}

// OriginGroup はログイン履歴を接続元IPで集約したグループを表す。
type OriginGroup struct {
	OriginIP        string
	SessionCount    int
	MostRecentLogin time.Time
	IsCurrent       bool
}
