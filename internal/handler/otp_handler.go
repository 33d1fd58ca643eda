package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/passport/internal/history"
	"github.com/hitoshi/passport/internal/middleware"
	"github.com/hitoshi/passport/internal/model"
)

// OTPHandler はメールOTPログインのHTTPハンドラー。
type OTPHandler struct {
	otp      OTPServiceInterface
	resolver IdentityResolverInterface
	sessions SessionServiceInterface
	ledger   HistoryServiceInterface
	metrics  MetricsRecorder
	setToken func(w http.ResponseWriter, token string)
}

// NewOTPHandler はOTPHandlerを生成する。
// setTokenはクレームCookieの設定処理（AuthHandlerと共有）。
func NewOTPHandler(
	otp OTPServiceInterface,
	resolver IdentityResolverInterface,
	sessions SessionServiceInterface,
	ledger HistoryServiceInterface,
	metrics MetricsRecorder,
	setToken func(w http.ResponseWriter, token string),
) *OTPHandler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &OTPHandler{
		otp:      otp,
		resolver: resolver,
		sessions: sessions,
		ledger:   ledger,
		metrics:  metrics,
		setToken: setToken,
	}
}

type otpRequestBody struct {
	Email string `json:"email"`
}

type otpVerifyBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// RequestCode は認証コードを発行してメール送信する。
// メールアドレスの登録有無を応答から推測させないため、
// 形式エラー以外は常に {ok:true} を返す。
// POST /auth/otp/request
func (h *OTPHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var body otpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidIdentityError("リクエストボディが不正です"))
		return
	}

	if err := h.otp.Issue(r.Context(), body.Email); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidIdentity {
			writeError(w, err)
			return
		}
		// 送信失敗・ストア障害は詳細を開示しない
		slog.Error("failed to issue otp code", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	h.metrics.RecordOTPIssued()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// VerifyCode は認証コードを検証し、アカウントまたは新規ユーザーの
// クレームを発行する。
// 未登録メールの検証成功は失敗ではなく、プロフィール登録へ誘導する
// new_user=true のレスポンスになる。
// POST /auth/otp/verify
func (h *OTPHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidIdentityError("リクエストボディが不正です"))
		return
	}

	if err := h.otp.Verify(r.Context(), body.Email, body.Code); err != nil {
		h.metrics.RecordOTPVerified(false)
		h.metrics.RecordLogin(string(model.ProviderOTP), string(model.LoginFailed))
		h.recordAttempt(r, "", "", model.LoginFailed)
		writeError(w, err)
		return
	}
	h.metrics.RecordOTPVerified(true)

	account, err := h.resolver.ResolveOTP(r.Context(), body.Email)
	if err != nil {
		h.metrics.RecordLogin(string(model.ProviderOTP), string(model.LoginFailed))
		h.recordAttempt(r, "", "", model.LoginFailed)
		writeError(w, err)
		return
	}

	token, sessionID, err := h.sessions.IssueToken(h.sessions.Mint(account))
	if err != nil {
		writeError(w, err)
		return
	}
	h.setToken(w, token)

	// 新規ユーザー（センチネル）はまだアカウントを持たないため履歴に載せない。
	// 初回の履歴レコードはプロフィール登録完了後のログインで作成される。
	if !account.IsNewUser() {
		h.recordAttempt(r, account.ID, sessionID, model.LoginSuccess)
		h.metrics.RecordLogin(string(model.ProviderOTP), string(model.LoginSuccess))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": newAccountResponse(account),
	})
}

// recordAttempt はログイン試行を履歴へ追記する。追記失敗で応答は変えない。
func (h *OTPHandler) recordAttempt(r *http.Request, accountID, sessionID string, outcome model.LoginOutcome) {
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
