package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/passport/internal/auth"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

// --- モック定義 ---

type mockAccountRepo struct {
	findByIDFn         func(ctx context.Context, id string) (*model.Account, error)
	findByProviderIDFn func(ctx context.Context, externalID string) (*model.Account, error)
	findByEmailOTPFn   func(ctx context.Context, email string) (*model.Account, error)
	findByEmailFn      func(ctx context.Context, email string) (*model.Account, error)
	createFn           func(ctx context.Context, account *model.Account) error
	updateAssertionFn  func(ctx context.Context, id, name, email, avatarURL string) error
	updateProfileFn    func(ctx context.Context, id, name, avatarURL string, completed bool) error
	setUseOriginalFn   func(ctx context.Context, id string, useOriginal bool) error
	setActiveFn        func(ctx context.Context, id string, active bool) error
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockAccountRepo) FindByProviderID(ctx context.Context, externalID string) (*model.Account, error) {
	if m.findByProviderIDFn != nil {
		return m.findByProviderIDFn(ctx, externalID)
	}
	return nil, nil
}

func (m *mockAccountRepo) FindByEmailOTP(ctx context.Context, email string) (*model.Account, error) {
	if m.findByEmailOTPFn != nil {
		return m.findByEmailOTPFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAccountRepo) Create(ctx context.Context, account *model.Account) error {
	if m.createFn != nil {
		return m.createFn(ctx, account)
	}
	return nil
}

func (m *mockAccountRepo) UpdateAssertion(ctx context.Context, id, name, email, avatarURL string) error {
	if m.updateAssertionFn != nil {
		return m.updateAssertionFn(ctx, id, name, email, avatarURL)
	}
	return nil
}

func (m *mockAccountRepo) UpdateProfile(ctx context.Context, id, name, avatarURL string, completed bool) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, name, avatarURL, completed)
	}
	return nil
}

func (m *mockAccountRepo) SetUseOriginal(ctx context.Context, id string, useOriginal bool) error {
	if m.setUseOriginalFn != nil {
		return m.setUseOriginalFn(ctx, id, useOriginal)
	}
	return nil
}

func (m *mockAccountRepo) SetActive(ctx context.Context, id string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	return nil
}

// passthroughSanitizer はサニタイズをせず入力をそのまま返すテスト用実装。
type passthroughSanitizer struct{}

func (passthroughSanitizer) SanitizeName(raw string) string { return raw }

// --- compile-time interface checks ---
var _ repository.AccountRepository = (*mockAccountRepo)(nil)
var _ Sanitizer = passthroughSanitizer{}

func newTestResolver(repo *mockAccountRepo) *Resolver {
	return NewResolver(repo, passthroughSanitizer{})
}

// --- テスト ---

func TestResolveDelegated_NewAssertion_CreatesAccount(t *testing.T) {
	ctx := context.Background()

	var created *model.Account
	repo := &mockAccountRepo{
		createFn: func(ctx context.Context, account *model.Account) error {
			created = account
			return nil
		},
	}

	resolver := newTestResolver(repo)
	account, err := resolver.ResolveDelegated(ctx, &auth.Assertion{
		ExternalID: "U123",
		Email:      "taro@example.com",
		Name:       "Taro",
		AvatarURL:  "https://example.com/a.png",
		Provider:   "google",
	})
	if err != nil {
		t.Fatalf("ResolveDelegated() error = %v", err)
	}

	if created == nil {
		t.Fatal("expected account to be created")
	}
	if account.Provider != model.ProviderDelegated {
		t.Errorf("provider = %q, want %q", account.Provider, model.ProviderDelegated)
	}
	if account.ExternalID != "U123" {
		t.Errorf("externalID = %q, want %q", account.ExternalID, "U123")
	}
	if !account.Active {
		t.Error("expected new account to be active")
	}
	// スナップショット = 現在値 = 初回表明
	if account.Original.Name != "Taro" || account.Original.Email != "taro@example.com" {
		t.Errorf("original snapshot = %+v, want first assertion", account.Original)
	}
}

func TestResolveDelegated_ChangedName_UpdatesCurrentButKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	stored := &model.Account{
		ID:         "acc1",
		Name:       "Taro",
		Email:      "taro@example.com",
		Provider:   model.ProviderDelegated,
		ExternalID: "U123",
		Active:     true,
		Original:   model.ProfileSnapshot{Name: "Taro", Email: "taro@example.com"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var updatedName string
	repo := &mockAccountRepo{
		findByProviderIDFn: func(ctx context.Context, externalID string) (*model.Account, error) {
			return stored, nil
		},
		updateAssertionFn: func(ctx context.Context, id, name, email, avatarURL string) error {
			updatedName = name
			stored.Name = name
			stored.Email = email
			stored.AvatarURL = avatarURL
			return nil
		},
		findByIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			return stored, nil
		},
	}

	resolver := newTestResolver(repo)
	account, err := resolver.ResolveDelegated(ctx, &auth.Assertion{
		ExternalID: "U123",
		Email:      "taro@example.com",
		Name:       "Taro Renamed",
		Provider:   "google",
	})
	if err != nil {
		t.Fatalf("ResolveDelegated() error = %v", err)
	}

	if updatedName != "Taro Renamed" {
		t.Errorf("updated name = %q, want %q", updatedName, "Taro Renamed")
	}
	// 初回観測スナップショットは保持される
	if account.Original.Name != "Taro" {
		t.Errorf("original name = %q, want %q", account.Original.Name, "Taro")
	}
}

func TestResolveDelegated_UnchangedAssertion_NoUpdate(t *testing.T) {
	ctx := context.Background()

	stored := &model.Account{
		ID:         "acc1",
		Name:       "Taro",
		Email:      "taro@example.com",
		Provider:   model.ProviderDelegated,
		ExternalID: "U123",
		Active:     true,
	}

	updateCalled := false
	repo := &mockAccountRepo{
		findByProviderIDFn: func(ctx context.Context, externalID string) (*model.Account, error) {
			return stored, nil
		},
		updateAssertionFn: func(ctx context.Context, id, name, email, avatarURL string) error {
			updateCalled = true
			return nil
		},
	}

	resolver := newTestResolver(repo)
	_, err := resolver.ResolveDelegated(ctx, &auth.Assertion{
		ExternalID: "U123",
		Email:      "taro@example.com",
		Name:       "Taro",
		Provider:   "google",
	})
	if err != nil {
		t.Fatalf("ResolveDelegated() error = %v", err)
	}

	if updateCalled {
		t.Error("expected no update for unchanged assertion")
	}
}

func TestResolveDelegated_DuplicateKeyRace_FallsBackToLookup(t *testing.T) {
	ctx := context.Background()

	winner := &model.Account{
		ID:         "acc-winner",
		Provider:   model.ProviderDelegated,
		ExternalID: "U123",
		Active:     true,
	}

	lookupCount := 0
	repo := &mockAccountRepo{
		findByProviderIDFn: func(ctx context.Context, externalID string) (*model.Account, error) {
			lookupCount++
			if lookupCount == 1 {
				// 最初の検索時点ではまだ存在しない
				return nil, nil
			}
			return winner, nil
		},
		createFn: func(ctx context.Context, account *model.Account) error {
			// 並行した勝者側が先に作成済み
			return repository.ErrDuplicateAccount
		},
	}

	resolver := newTestResolver(repo)
	account, err := resolver.ResolveDelegated(ctx, &auth.Assertion{
		ExternalID: "U123",
		Email:      "taro@example.com",
		Name:       "Taro",
		Provider:   "google",
	})
	if err != nil {
		t.Fatalf("ResolveDelegated() error = %v, want fallback lookup", err)
	}

	if account.ID != "acc-winner" {
		t.Errorf("account ID = %q, want winner's %q", account.ID, "acc-winner")
	}
}

func TestResolveDelegated_SuspendedAccount_ReturnsError(t *testing.T) {
	ctx := context.Background()

	repo := &mockAccountRepo{
		findByProviderIDFn: func(ctx context.Context, externalID string) (*model.Account, error) {
			return &model.Account{ID: "acc1", Active: false}, nil
		},
	}

	resolver := newTestResolver(repo)
	_, err := resolver.ResolveDelegated(ctx, &auth.Assertion{
		ExternalID: "U123",
		Email:      "taro@example.com",
		Provider:   "google",
	})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAccountSuspended {
		t.Fatalf("error = %v, want ACCOUNT_SUSPENDED", err)
	}
}

func TestResolveDelegated_EmailBoundToOtherProvider_Conflict(t *testing.T) {
	ctx := context.Background()

	repo := &mockAccountRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.Account, error) {
			return &model.Account{ID: "acc-otp", Provider: model.ProviderOTP, Email: email}, nil
		},
	}

	resolver := newTestResolver(repo)
	_, err := resolver.ResolveDelegated(ctx, &auth.Assertion{
		ExternalID: "U123",
		Email:      "taro@example.com",
		Provider:   "google",
	})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeIdentityConflict {
		t.Fatalf("error = %v, want IDENTITY_CONFLICT", err)
	}
}

func TestResolveDelegated_MalformedAssertion_RejectedBeforeRepository(t *testing.T) {
	ctx := context.Background()

	repoCalled := false
	repo := &mockAccountRepo{
		findByProviderIDFn: func(ctx context.Context, externalID string) (*model.Account, error) {
			repoCalled = true
			return nil, nil
		},
	}

	resolver := newTestResolver(repo)

	tests := []struct {
		name      string
		assertion *auth.Assertion
	}{
		{"nil assertion", nil},
		{"empty externalID", &auth.Assertion{Email: "a@x.com"}},
		{"empty email", &auth.Assertion{ExternalID: "U123"}},
		{"malformed email", &auth.Assertion{ExternalID: "U123", Email: "not-an-email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.ResolveDelegated(ctx, tt.assertion)
			if err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if repoCalled {
		t.Error("repository must not be called for malformed input")
	}
}

func TestResolveOTP_UnknownEmail_ReturnsNewUserSentinel(t *testing.T) {
	ctx := context.Background()

	resolver := newTestResolver(&mockAccountRepo{})
	account, err := resolver.ResolveOTP(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("ResolveOTP() error = %v", err)
	}

	if !account.IsNewUser() {
		t.Error("expected new-user sentinel for unknown email")
	}
	if account.Email != "new@example.com" {
		t.Errorf("sentinel email = %q, want %q", account.Email, "new@example.com")
	}
}

func TestResolveOTP_KnownEmail_ReturnsAccount(t *testing.T) {
	ctx := context.Background()

	repo := &mockAccountRepo{
		findByEmailOTPFn: func(ctx context.Context, email string) (*model.Account, error) {
			return &model.Account{ID: "acc1", Email: email, Provider: model.ProviderOTP, Active: true}, nil
		},
	}

	resolver := newTestResolver(repo)
	account, err := resolver.ResolveOTP(ctx, "taro@example.com")
	if err != nil {
		t.Fatalf("ResolveOTP() error = %v", err)
	}

	if account.IsNewUser() {
		t.Error("expected real account, got sentinel")
	}
	if account.ID != "acc1" {
		t.Errorf("account ID = %q, want %q", account.ID, "acc1")
	}
}

func TestResolveOTP_EmailBoundToDelegated_Conflict(t *testing.T) {
	ctx := context.Background()

	repo := &mockAccountRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.Account, error) {
			return &model.Account{ID: "acc1", Provider: model.ProviderDelegated}, nil
		},
	}

	resolver := newTestResolver(repo)
	_, err := resolver.ResolveOTP(ctx, "taro@example.com")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeIdentityConflict {
		t.Fatalf("error = %v, want IDENTITY_CONFLICT", err)
	}
}

func TestCompleteProfile_NewUser_CreatesCompletedAccount(t *testing.T) {
	ctx := context.Background()

	var created *model.Account
	repo := &mockAccountRepo{
		createFn: func(ctx context.Context, account *model.Account) error {
			created = account
			return nil
		},
	}

	resolver := newTestResolver(repo)
	account, err := resolver.CompleteProfile(ctx, "new@example.com", "Taro", "")
	if err != nil {
		t.Fatalf("CompleteProfile() error = %v", err)
	}

	if created == nil {
		t.Fatal("expected account to be created")
	}
	if !account.ProfileCompleted {
		t.Error("expected completed profile")
	}
	if account.Provider != model.ProviderOTP {
		t.Errorf("provider = %q, want %q", account.Provider, model.ProviderOTP)
	}
}

func TestCompleteProfile_EmptyNameAfterSanitize_Rejected(t *testing.T) {
	ctx := context.Background()

	resolver := newTestResolver(&mockAccountRepo{})
	_, err := resolver.CompleteProfile(ctx, "new@example.com", "   ", "")
	if err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestCompleteProfile_AlreadyCompleted_Rejected(t *testing.T) {
	ctx := context.Background()

	repo := &mockAccountRepo{
		findByEmailOTPFn: func(ctx context.Context, email string) (*model.Account, error) {
			return &model.Account{ID: "acc1", ProfileCompleted: true}, nil
		},
	}

	resolver := newTestResolver(repo)
	_, err := resolver.CompleteProfile(ctx, "taro@example.com", "Taro", "")
	if err == nil {
		t.Fatal("expected error for already-completed profile")
	}
}

func TestCompleteProfile_DuplicateKeyRace_FallsBackToLookup(t *testing.T) {
	ctx := context.Background()

	winner := &model.Account{ID: "acc-winner", Provider: model.ProviderOTP, ProfileCompleted: true}

	lookupCount := 0
	repo := &mockAccountRepo{
		findByEmailOTPFn: func(ctx context.Context, email string) (*model.Account, error) {
			lookupCount++
			if lookupCount == 1 {
				return nil, nil
			}
			return winner, nil
		},
		createFn: func(ctx context.Context, account *model.Account) error {
			return repository.ErrDuplicateAccount
		},
	}

	resolver := newTestResolver(repo)
	account, err := resolver.CompleteProfile(ctx, "taro@example.com", "Taro", "")
	if err != nil {
		t.Fatalf("CompleteProfile() error = %v", err)
	}
	if account.ID != "acc-winner" {
		t.Errorf("account ID = %q, want %q", account.ID, "acc-winner")
	}
}

func TestSetUseOriginal_UnknownAccount_ReturnsNotFound(t *testing.T) {
	ctx := context.Background()

	resolver := newTestResolver(&mockAccountRepo{})
	_, err := resolver.SetUseOriginal(ctx, "missing", true)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAccountNotFound {
		t.Fatalf("error = %v, want ACCOUNT_NOT_FOUND", err)
	}
}
