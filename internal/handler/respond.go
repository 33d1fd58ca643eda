package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/passport/internal/middleware"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/session"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeError はエラーを統一フォーマットのレスポンスへ変換する。
// APIErrorはコードに応じたステータスで返し、それ以外は詳細をログに残して
// 一般的な500を返す。
func writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, statusForCode(apiErr.Code), apiErr)
		return
	}

	slog.Error("request failed", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// statusForCode はエラーコードをHTTPステータスへ対応付ける。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeInvalidCredential:
		return http.StatusUnauthorized
	case model.ErrCodeIdentityConflict:
		return http.StatusConflict
	case model.ErrCodeAccountSuspended:
		return http.StatusForbidden
	case model.ErrCodeIncompleteProfile:
		return http.StatusConflict
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeInvalidIdentity:
		return http.StatusBadRequest
	case model.ErrCodeAccountNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// claimsResponse はクレームのAPI表現。
type claimsResponse struct {
	AccountID  string `json:"account_id,omitempty"`
	Provider   string `json:"provider"`
	Name       string `json:"name,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Incomplete bool   `json:"incomplete"`
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// newClaimsResponse はクレームをAPI表現へ変換する。
func newClaimsResponse(claims session.Claims) claimsResponse {
	base := claims.Base()
	resp := claimsResponse{
		AccountID:  base.AccountID,
		Provider:   string(base.Provider),
		Name:       base.Name,
		AvatarURL:  base.AvatarURL,
		Incomplete: base.Incomplete,
	}

	switch c := claims.(type) {
	case session.DelegatedClaims:
		resp.ExternalID = c.ExternalID
	case session.OtpClaims:
		resp.Email = c.Email
	}
	return resp
}

// accountResponse はアカウントのAPI表現。
// 有効表示プロフィール（use_original反映後）を返す。
type accountResponse struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	AvatarURL        string `json:"avatar_url,omitempty"`
	Provider         string `json:"provider"`
	ProfileCompleted bool   `json:"profile_completed"`
	UseOriginal      bool   `json:"use_original"`
	NewUser          bool   `json:"new_user"`
}

// newAccountResponse はアカウントをAPI表現へ変換する。
func newAccountResponse(account *model.Account) accountResponse {
	profile := account.EffectiveProfile()
	return accountResponse{
		ID:               account.ID,
		Name:             profile.Name,
		Email:            account.Email,
		AvatarURL:        profile.AvatarURL,
		Provider:         string(account.Provider),
		ProfileCompleted: account.ProfileCompleted,
		UseOriginal:      account.UseOriginal,
		NewUser:          account.IsNewUser(),
	}
}
