package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/passport/internal/history"
	"github.com/hitoshi/passport/internal/middleware"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/session"
)

// ProfileHandler はプロフィール登録・編集とクレーム再発行のHTTPハンドラー。
// クレームミドルウェアの後段に配置する。
type ProfileHandler struct {
	resolver IdentityResolverInterface
	sessions SessionServiceInterface
	ledger   HistoryServiceInterface
	metrics  MetricsRecorder
	setToken func(w http.ResponseWriter, token string)
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(
	resolver IdentityResolverInterface,
	sessions SessionServiceInterface,
	ledger HistoryServiceInterface,
	metrics MetricsRecorder,
	setToken func(w http.ResponseWriter, token string),
) *ProfileHandler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ProfileHandler{
		resolver: resolver,
		sessions: sessions,
		ledger:   ledger,
		metrics:  metrics,
		setToken: setToken,
	}
}

type completeProfileBody struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type useOriginalBody struct {
	UseOriginal bool `json:"use_original"`
}

type refreshClaimsBody struct {
	Reason string `json:"reason"`
}

// CompleteProfile は新規ユーザーのプロフィールを登録し、アカウントを作成する。
// OTP検証済みのクレーム（メールアドレス入り）が前提。
// 完了後はアカウントID入りのクレームを再発行する。
// POST /auth/profile/complete
func (h *ProfileHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	otpClaims, ok := claims.(session.OtpClaims)
	if !ok {
		// 委任ログインのプロフィールはIdPの表明から取り込むため、この経路は使わない
		writeError(w, model.NewInvalidIdentityError("OTPログインのユーザーのみ利用できます"))
		return
	}

	var body completeProfileBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidIdentityError("リクエストボディが不正です"))
		return
	}

	account, err := h.resolver.CompleteProfile(r.Context(), otpClaims.Email, body.Name, body.AvatarURL)
	if err != nil {
		writeError(w, err)
		return
	}

	token, sessionID, err := h.sessions.IssueToken(h.sessions.Mint(account))
	if err != nil {
		writeError(w, err)
		return
	}
	h.setToken(w, token)
	h.metrics.RecordClaimsRefreshed(string(session.RefreshProfileCompleted))

	// 昇格したアカウントの最初の履歴レコードをここで作成する
	if _, err := h.ledger.Record(r.Context(), history.RecordInput{
		AccountID: account.ID,
		SessionID: sessionID,
		OriginIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Outcome:   model.LoginSuccess,
	}); err != nil {
		slog.Error("failed to record login attempt", slog.String("error", err.Error()))
	}
	h.metrics.RecordLogin(string(model.ProviderOTP), string(model.LoginSuccess))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": newAccountResponse(account),
	})
}

// SetUseOriginal は「初期データを使用する」フラグを切り替え、
// 切り替え後のアカウントからクレームを再発行する。
// POST /auth/profile/use-original
func (h *ProfileHandler) SetUseOriginal(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body useOriginalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidIdentityError("リクエストボディが不正です"))
		return
	}

	account, err := h.resolver.SetUseOriginal(r.Context(), accountID, body.UseOriginal)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.reissue(w, r, accountID, session.RefreshUseOriginalToggled); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": newAccountResponse(account),
	})
}

// RefreshClaims は現在のAccountレコードからクレームを丸ごと再発行する。
// POST /auth/claims/refresh
func (h *ProfileHandler) RefreshClaims(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body refreshClaimsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidIdentityError("リクエストボディが不正です"))
		return
	}
	reason := session.RefreshReason(body.Reason)
	switch reason {
	case session.RefreshProfileCompleted, session.RefreshProfileEdited, session.RefreshUseOriginalToggled:
	default:
		writeError(w, model.NewInvalidIdentityError("再発行の契機が不正です"))
		return
	}

	claims, err := h.sessions.Refresh(r.Context(), accountID, reason)
	if err != nil {
		writeError(w, err)
		return
	}

	token, _, err := h.sessions.IssueToken(claims)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setToken(w, token)
	h.metrics.RecordClaimsRefreshed(string(reason))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claims": newClaimsResponse(claims),
	})
}

// reissue は指定契機でクレームを再発行してCookieを更新する。
func (h *ProfileHandler) reissue(w http.ResponseWriter, r *http.Request, accountID string, reason session.RefreshReason) error {
	claims, err := h.sessions.Refresh(r.Context(), accountID, reason)
	if err != nil {
		return err
	}
	token, _, err := h.sessions.IssueToken(claims)
	if err != nil {
		return err
	}
	h.setToken(w, token)
	h.metrics.RecordClaimsRefreshed(string(reason))
	return nil
}
