package handler

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/passport/internal/auth"
	"github.com/hitoshi/passport/internal/history"
	"github.com/hitoshi/passport/internal/middleware"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
	"github.com/hitoshi/passport/internal/session"
)

const oauthStateCookie = "oauth_state"

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // クレームCookieの有効期間（秒）
}

// AuthHandler は委任ログインとセッション管理のHTTPハンドラー。
type AuthHandler struct {
	providers map[string]auth.DelegatedProvider
	resolver  IdentityResolverInterface
	sessions  SessionServiceInterface
	ledger    HistoryServiceInterface
	guard     LivenessGuardInterface
	metrics   MetricsRecorder
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// providersは委任ログインのパスセグメント（"google" 等）をキーとする。
func NewAuthHandler(
	providers map[string]auth.DelegatedProvider,
	resolver IdentityResolverInterface,
	sessions SessionServiceInterface,
	ledger HistoryServiceInterface,
	guard LivenessGuardInterface,
	metrics MetricsRecorder,
	config AuthHandlerConfig,
) *AuthHandler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &AuthHandler{
		providers: providers,
		resolver:  resolver,
		sessions:  sessions,
		ledger:    ledger,
		guard:     guard,
		metrics:   metrics,
		config:    config,
	}
}

// Login は委任ログインフローを開始する。
// GET /auth/{provider}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback は委任ログインのコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	provider, ok := h.providers[providerName]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("provider", providerName),
		)
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	// 3. 表明の取得とアカウント解決
	assertion, err := provider.ExchangeCode(r.Context(), code)
	if err != nil {
		slog.Error("code exchange failed",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
		h.recordAttempt(r, "", model.LoginFailed)
		h.metrics.RecordLogin(string(model.ProviderDelegated), string(model.LoginFailed))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	account, err := h.resolver.ResolveDelegated(r.Context(), assertion)
	if err != nil {
		h.recordAttempt(r, "", model.LoginFailed)
		h.metrics.RecordLogin(string(model.ProviderDelegated), string(model.LoginFailed))
		writeError(w, err)
		return
	}

	// 4. クレームを発行してCookieを設定
	token, sessionID, err := h.sessions.IssueToken(h.sessions.Mint(account))
	if err != nil {
		writeError(w, err)
		return
	}
	h.setClaimsCookie(w, token)

	// 5. 履歴へ成功を追記
	h.recordAttemptWithSession(r, account.ID, sessionID, model.LoginSuccess)
	h.metrics.RecordLogin(string(model.ProviderDelegated), string(model.LoginSuccess))

	// 6. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はクレームCookieを破棄し、対応する履歴レコードへ
// ログアウト（user_request）を打刻する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.ClaimsCookieName)
	if err == nil && cookie.Value != "" {
		claims, sessionID, parseErr := h.sessions.ParseToken(cookie.Value)
		if parseErr == nil && claims.Base().AccountID != "" {
			if _, closeErr := h.ledger.CloseSession(r.Context(), repository.LoginHistoryFilter{
				AccountID: claims.Base().AccountID,
				SessionID: sessionID,
			}, model.LogoutUserRequest); closeErr != nil {
				slog.Error("failed to stamp logout", slog.String("error", closeErr.Error()))
				// 打刻に失敗してもCookieはクリアする
			}
		}
	}

	h.clearClaimsCookie(w)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Me は現在のクレームを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, err := h.parseCookie(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, newClaimsResponse(claims))
}

// Liveness はアカウントの現在の有効状態とロールを返す。
// クレームには権限を含めないため、毎回ストアの現在値を読む。
// GET /auth/liveness
func (h *AuthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	claims, err := h.parseCookie(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	accountID := claims.Base().AccountID
	if accountID == "" {
		// プロフィール未完了の新規ユーザーはまだアカウントを持たない
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	status := h.guard.Check(r.Context(), accountID)
	h.metrics.RecordLivenessCheck()

	writeJSON(w, http.StatusOK, status)
}

// parseCookie はクレームCookieを検証してクレームを返す。
func (h *AuthHandler) parseCookie(r *http.Request) (session.Claims, error) {
	cookie, err := r.Cookie(middleware.ClaimsCookieName)
	if err != nil || cookie.Value == "" {
		return nil, fmt.Errorf("missing claims cookie")
	}
	claims, _, err := h.sessions.ParseToken(cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid claims token: %w", err)
	}
	return claims, nil
}

// recordAttempt はセッションIDなしでログイン試行を追記する。
func (h *AuthHandler) recordAttempt(r *http.Request, accountID string, outcome model.LoginOutcome) {
	h.recordAttemptWithSession(r, accountID, "", outcome)
}

// recordAttemptWithSession はログイン試行を履歴へ追記する。
// 監査ログであり、追記失敗でログイン自体は失敗させない。
func (h *AuthHandler) recordAttemptWithSession(r *http.Request, accountID, sessionID string, outcome model.LoginOutcome) {
	if _, err := h.ledger.Record(r.Context(), history.RecordInput{
		AccountID: accountID,
		SessionID: sessionID,
		OriginIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Outcome:   outcome,
	}); err != nil {
		slog.Error("failed to record login attempt",
			slog.String("error", err.Error()),
		)
	}
}

// setClaimsCookie はクレームトークンをHTTP Only Cookieへ設定する。
func (h *AuthHandler) setClaimsCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.ClaimsCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearClaimsCookie はクレームCookieを削除する。
func (h *AuthHandler) clearClaimsCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.ClaimsCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
