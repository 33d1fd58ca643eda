package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

// RefreshReason はクレーム再発行の契機を表す。
type RefreshReason string

const (
	// RefreshProfileCompleted はプロフィール登録完了による再発行。
	RefreshProfileCompleted RefreshReason = "profile_completed"
	// RefreshProfileEdited はプロフィール編集による再発行。
	RefreshProfileEdited RefreshReason = "profile_edited"
	// RefreshUseOriginalToggled は「初期データを使用」切り替えによる再発行。
	RefreshUseOriginalToggled RefreshReason = "use_original_toggled"
)

// Service はセッションクレームの構築サービス。
// クレームの構築はこのサービスに集約し、他所でのアドホックな加工を許さない。
type Service struct {
	accountRepo repository.AccountRepository
	tokens      *TokenManager
}

// NewService はServiceを生成する。
func NewService(accountRepo repository.AccountRepository, tokens *TokenManager) *Service {
	return &Service{
		accountRepo: accountRepo,
		tokens:      tokens,
	}
}

// Mint はログイン成功時にアカウントからクレーム一式を構築する。
// ロール・権限はクレームに含めない。特権操作は毎回Accountを再読する。
func (s *Service) Mint(account *model.Account) Claims {
	profile := account.EffectiveProfile()
	base := BaseClaims{
		AccountID:  account.ID,
		Provider:   account.Provider,
		Name:       profile.Name,
		AvatarURL:  profile.AvatarURL,
		Incomplete: account.IsNewUser() || !account.ProfileCompleted,
	}

	if account.Provider == model.ProviderDelegated {
		return DelegatedClaims{BaseClaims: base, ExternalID: account.ExternalID}
	}
	return OtpClaims{BaseClaims: base, Email: account.Email}
}

// Refresh は現在のAccountレコードからクレームを丸ごと再導出する。
// 既存クレームのフィールドを部分的に引き継ぐことはない。
// 契機はプロフィール完了・編集・「初期データを使用」切り替えなど、
// 呼び出し側の明示的なトリガーに限る。
func (s *Service) Refresh(ctx context.Context, accountID string, reason RefreshReason) (Claims, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload account for refresh: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError()
	}
	if !account.Active {
		return nil, model.NewAccountSuspendedError()
	}

	slog.Info("session claims refreshed",
		slog.String("account_id", accountID),
		slog.String("reason", string(reason)),
	)
	return s.Mint(account), nil
}

// IssueToken はクレームを署名済みトークンへ変換する。
func (s *Service) IssueToken(claims Claims) (token string, sessionID string, err error) {
	return s.tokens.Sign(claims)
}

// ParseToken はトークンを検証してクレームとセッションIDを返す。
func (s *Service) ParseToken(token string) (Claims, string, error) {
	return s.tokens.Parse(token)
}
