// Package liveness はアカウントの有効状態の確認と定期監視を提供する。
package liveness

import (
	"context"
	"log/slog"

	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

// Status はアカウントの現在状態を表す。
type Status struct {
	Active bool       `json:"active"`
	Role   model.Role `json:"role"`
}

// Guard はアカウントの有効状態を確認する。
// 確認は純粋な読み取りであり、Accountレコードを一切変更しない。
type Guard struct {
	accountRepo repository.AccountRepository
	logger      *slog.Logger
}

// NewGuard はGuardを生成する。
func NewGuard(accountRepo repository.AccountRepository, logger *slog.Logger) *Guard {
	return &Guard{
		accountRepo: accountRepo,
		logger:      logger,
	}
}

// Check はアカウントの有効状態とロールを返す。
// ストレージ障害時はフェイルオープン: 有効として報告し警告ログを残す。
// 一時的な障害で全ユーザーを強制ログアウトさせないための例外であり、
// 他の操作はすべてフェイルクローズドのまま。
// アカウントが存在しない場合は無効として報告する。
func (g *Guard) Check(ctx context.Context, accountID string) Status {
	account, err := g.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		g.logger.Warn("有効状態の確認に失敗したため有効として扱います",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return Status{Active: true, Role: model.RoleUser}
	}
	if account == nil {
		return Status{Active: false, Role: model.RoleUser}
	}

	return Status{Active: account.Active, Role: account.Role}
}
