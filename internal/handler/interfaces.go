// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"

	"github.com/hitoshi/passport/internal/auth"
	"github.com/hitoshi/passport/internal/history"
	"github.com/hitoshi/passport/internal/liveness"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
	"github.com/hitoshi/passport/internal/session"
)

// IdentityResolverInterface はハンドラーが必要とするID解決サービスのインターフェース。
type IdentityResolverInterface interface {
	ResolveDelegated(ctx context.Context, assertion *auth.Assertion) (*model.Account, error)
	ResolveOTP(ctx context.Context, email string) (*model.Account, error)
	CompleteProfile(ctx context.Context, email, name, avatarURL string) (*model.Account, error)
	SetUseOriginal(ctx context.Context, accountID string, useOriginal bool) (*model.Account, error)
}

// SessionServiceInterface はハンドラーが必要とするセッションクレームサービスのインターフェース。
type SessionServiceInterface interface {
	Mint(account *model.Account) session.Claims
	Refresh(ctx context.Context, accountID string, reason session.RefreshReason) (session.Claims, error)
	IssueToken(claims session.Claims) (token string, sessionID string, err error)
	ParseToken(token string) (session.Claims, string, error)
}

// OTPServiceInterface はハンドラーが必要とするOTPサービスのインターフェース。
type OTPServiceInterface interface {
	Issue(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) error
}

// HistoryServiceInterface はハンドラーが必要とするログイン履歴サービスのインターフェース。
type HistoryServiceInterface interface {
	Record(ctx context.Context, input history.RecordInput) (*model.LoginRecord, error)
	Query(ctx context.Context, accountID string, opts history.QueryOptions) (*history.QueryResult, error)
	CloseSession(ctx context.Context, filter repository.LoginHistoryFilter, reason model.LogoutReason) (int64, error)
}

// LivenessGuardInterface はハンドラーが必要とする有効状態確認のインターフェース。
type LivenessGuardInterface interface {
	Check(ctx context.Context, accountID string) liveness.Status
}

// MetricsRecorder はハンドラーが記録するメトリクスのインターフェース。
// metrics.MetricsCollectorの部分集合として定義する。
type MetricsRecorder interface {
	RecordLogin(provider string, outcome string)
	RecordOTPIssued()
	RecordOTPVerified(success bool)
	RecordClaimsRefreshed(reason string)
	RecordLivenessCheck()
}

// noopMetrics はメトリクス未設定時のフォールバック。
type noopMetrics struct{}

func (noopMetrics) RecordLogin(string, string)   {}
func (noopMetrics) RecordOTPIssued()             {}
func (noopMetrics) RecordOTPVerified(bool)       {}
func (noopMetrics) RecordClaimsRefreshed(string) {}
func (noopMetrics) RecordLivenessCheck()         {}
