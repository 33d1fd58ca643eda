package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/passport/internal/auth"
	"github.com/hitoshi/passport/internal/history"
	"github.com/hitoshi/passport/internal/liveness"
	"github.com/hitoshi/passport/internal/middleware"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
	"github.com/hitoshi/passport/internal/session"
)

// --- モック定義 ---

type mockResolver struct {
	resolveDelegatedFn func(ctx context.Context, assertion *auth.Assertion) (*model.Account, error)
	resolveOTPFn       func(ctx context.Context, email string) (*model.Account, error)
	completeProfileFn  func(ctx context.Context, email, name, avatarURL string) (*model.Account, error)
	setUseOriginalFn   func(ctx context.Context, accountID string, useOriginal bool) (*model.Account, error)
}

func (m *mockResolver) ResolveDelegated(ctx context.Context, assertion *auth.Assertion) (*model.Account, error) {
	if m.resolveDelegatedFn != nil {
		return m.resolveDelegatedFn(ctx, assertion)
	}
	return nil, errors.New("not configured")
}

func (m *mockResolver) ResolveOTP(ctx context.Context, email string) (*model.Account, error) {
	if m.resolveOTPFn != nil {
		return m.resolveOTPFn(ctx, email)
	}
	return nil, errors.New("not configured")
}

func (m *mockResolver) CompleteProfile(ctx context.Context, email, name, avatarURL string) (*model.Account, error) {
	if m.completeProfileFn != nil {
		return m.completeProfileFn(ctx, email, name, avatarURL)
	}
	return nil, errors.New("not configured")
}

func (m *mockResolver) SetUseOriginal(ctx context.Context, accountID string, useOriginal bool) (*model.Account, error) {
	if m.setUseOriginalFn != nil {
		return m.setUseOriginalFn(ctx, accountID, useOriginal)
	}
	return nil, errors.New("not configured")
}

type mockSessionService struct {
	mintFn       func(account *model.Account) session.Claims
	refreshFn    func(ctx context.Context, accountID string, reason session.RefreshReason) (session.Claims, error)
	issueTokenFn func(claims session.Claims) (string, string, error)
	parseTokenFn func(token string) (session.Claims, string, error)
}

func (m *mockSessionService) Mint(account *model.Account) session.Claims {
	if m.mintFn != nil {
		return m.mintFn(account)
	}
	base := session.BaseClaims{
		AccountID:  account.ID,
		Provider:   account.Provider,
		Name:       account.Name,
		Incomplete: account.IsNewUser() || !account.ProfileCompleted,
	}
	if account.Provider == model.ProviderDelegated {
		return session.DelegatedClaims{BaseClaims: base, ExternalID: account.ExternalID}
	}
	return session.OtpClaims{BaseClaims: base, Email: account.Email}
}

func (m *mockSessionService) Refresh(ctx context.Context, accountID string, reason session.RefreshReason) (session.Claims, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, accountID, reason)
	}
	return nil, errors.New("not configured")
}

func (m *mockSessionService) IssueToken(claims session.Claims) (string, string, error) {
	if m.issueTokenFn != nil {
		return m.issueTokenFn(claims)
	}
	return "issued-token", "sess-1", nil
}

func (m *mockSessionService) ParseToken(token string) (session.Claims, string, error) {
	if m.parseTokenFn != nil {
		return m.parseTokenFn(token)
	}
	return nil, "", errors.New("invalid token")
}

type mockOTPService struct {
	issueFn  func(ctx context.Context, email string) error
	verifyFn func(ctx context.Context, email, code string) error
}

func (m *mockOTPService) Issue(ctx context.Context, email string) error {
	if m.issueFn != nil {
		return m.issueFn(ctx, email)
	}
	return nil
}

func (m *mockOTPService) Verify(ctx context.Context, email, code string) error {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, email, code)
	}
	return nil
}

type mockHistoryService struct {
	recordFn       func(ctx context.Context, input history.RecordInput) (*model.LoginRecord, error)
	queryFn        func(ctx context.Context, accountID string, opts history.QueryOptions) (*history.QueryResult, error)
	closeSessionFn func(ctx context.Context, filter repository.LoginHistoryFilter, reason model.LogoutReason) (int64, error)

	recorded []history.RecordInput
}

func (m *mockHistoryService) Record(ctx context.Context, input history.RecordInput) (*model.LoginRecord, error) {
	m.recorded = append(m.recorded, input)
	if m.recordFn != nil {
		return m.recordFn(ctx, input)
	}
	return &model.LoginRecord{ID: "rec-1", AccountID: input.AccountID}, nil
}

func (m *mockHistoryService) Query(ctx context.Context, accountID string, opts history.QueryOptions) (*history.QueryResult, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, accountID, opts)
	}
	return &history.QueryResult{}, nil
}

func (m *mockHistoryService) CloseSession(ctx context.Context, filter repository.LoginHistoryFilter, reason model.LogoutReason) (int64, error) {
	if m.closeSessionFn != nil {
		return m.closeSessionFn(ctx, filter, reason)
	}
	return 0, nil
}

type mockGuard struct {
	checkFn func(ctx context.Context, accountID string) liveness.Status
}

func (m *mockGuard) Check(ctx context.Context, accountID string) liveness.Status {
	if m.checkFn != nil {
		return m.checkFn(ctx, accountID)
	}
	return liveness.Status{Active: true, Role: model.RoleUser}
}

type mockProvider struct {
	loginURLFn     func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*auth.Assertion, error)
}

func (m *mockProvider) GetLoginURL(state string) string {
	if m.loginURLFn != nil {
		return m.loginURLFn(state)
	}
	return "https://idp.example.com/authorize?state=" + state
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (*auth.Assertion, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, errors.New("not configured")
}

// --- compile-time interface checks ---
var (
	_ IdentityResolverInterface = (*mockResolver)(nil)
	_ SessionServiceInterface   = (*mockSessionService)(nil)
	_ OTPServiceInterface       = (*mockOTPService)(nil)
	_ HistoryServiceInterface   = (*mockHistoryService)(nil)
	_ LivenessGuardInterface    = (*mockGuard)(nil)
	_ auth.DelegatedProvider    = (*mockProvider)(nil)
	_ middleware.TokenParser    = (*mockSessionService)(nil)
)

func testSetToken(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.ClaimsCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
}
