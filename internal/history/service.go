// Package history はログイン履歴の記録・照会・一括終了のドメインロジックを提供する。
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

const (
	// DefaultPageSize は1ページあたりの既定件数。
	DefaultPageSize = 20
	// MaxPageSize は1ページあたりの最大件数。
	MaxPageSize = 100
)

// RecordInput はログイン試行の記録入力を表す。
type RecordInput struct {
	AccountID string
	SessionID string
	OriginIP  string
	UserAgent string
	Outcome   model.LoginOutcome
}

// QueryOptions は履歴照会の条件を表す。
// 「現在の接続元」は暗黙のグローバル状態から読まず、必ず呼び出し側が明示的に渡す。
type QueryOptions struct {
	Page          int
	PageSize      int
	GroupByOrigin bool
	CurrentOrigin string
}

// Pagination はページング結果のメタデータを表す。
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// QueryResult は履歴照会の結果を表す。
// GroupByOriginの有無に応じてRecordsまたはGroupsの一方のみが設定される。
type QueryResult struct {
	Records    []*model.LoginRecord
	Groups     []*model.OriginGroup
	Pagination Pagination
}

// Service はログイン履歴のサービス層。
type Service struct {
	historyRepo repository.LoginHistoryRepository
}

// NewService はServiceを生成する。
func NewService(historyRepo repository.LoginHistoryRepository) *Service {
	return &Service{historyRepo: historyRepo}
}

// Record はログイン試行を追記する。監査のため失敗した試行も常に記録する。
func (s *Service) Record(ctx context.Context, input RecordInput) (*model.LoginRecord, error) {
	record := &model.LoginRecord{
		ID:        uuid.New().String(),
		AccountID: input.AccountID,
		SessionID: input.SessionID,
		LoginAt:   time.Now(),
		OriginIP:  input.OriginIP,
		UserAgent: input.UserAgent,
		Outcome:   input.Outcome,
		IsCurrent: input.Outcome == model.LoginSuccess,
	}

	if err := s.historyRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record login attempt: %w", err)
	}
	return record, nil
}

// Query はログイン履歴を照会する。
// GroupByOrigin=falseの場合はlogin_at降順の個別レコードページを返す。
// GroupByOrigin=trueの場合は接続元IPごとの集約グループを返し、
// ページングはグループに対して行う。
func (s *Service) Query(ctx context.Context, accountID string, opts QueryOptions) (*QueryResult, error) {
	if accountID == "" {
		return nil, model.NewInvalidIdentityError("アカウントIDが空です")
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	offset := (page - 1) * pageSize

	if opts.GroupByOrigin {
		groups, total, err := s.historyRepo.GroupByOrigin(ctx, accountID, opts.CurrentOrigin, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to query grouped history: %w", err)
		}
		return &QueryResult{
			Groups:     groups,
			Pagination: paginate(page, pageSize, total),
		}, nil
	}

	records, total, err := s.historyRepo.ListByAccount(ctx, accountID, offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return &QueryResult{
		Records:    records,
		Pagination: paginate(page, pageSize, total),
	}, nil
}

// CloseSession は接続元IPまたはセッションIDで絞った未終了レコードへ
// ログアウト時刻と理由を一括設定し、終了件数を返す。
// 時刻範囲ではなく明示的なIP・セッションIDでの絞り込みのみを受け付ける。
// 再実行しても終了済みの行には作用しない（冪等）。
func (s *Service) CloseSession(ctx context.Context, filter repository.LoginHistoryFilter, reason model.LogoutReason) (int64, error) {
	if filter.AccountID == "" {
		return 0, model.NewInvalidIdentityError("アカウントIDが空です")
	}
	if filter.OriginIP == "" && filter.SessionID == "" {
		return 0, model.NewInvalidIdentityError("接続元IPまたはセッションIDの指定が必要です")
	}

	closed, err := s.historyRepo.StampLogout(ctx, filter, reason, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to close sessions: %w", err)
	}

	if closed > 0 {
		slog.Info("sessions closed",
			slog.String("account_id", filter.AccountID),
			slog.String("reason", string(reason)),
			slog.Int64("closed", closed),
		)
	}
	return closed, nil
}

// paginate はページングメタデータを計算する。
func paginate(page, pageSize, total int) Pagination {
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}
}
