package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/passport/internal/history"
	"github.com/hitoshi/passport/internal/middleware"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

// HistoryMetricsRecorder は履歴照会レイテンシの記録インターフェース。
type HistoryMetricsRecorder interface {
	RecordHistoryQueryLatency(duration time.Duration)
}

type noopHistoryMetrics struct{}

func (noopHistoryMetrics) RecordHistoryQueryLatency(time.Duration) {}

// HistoryHandler はログイン履歴のHTTPハンドラー。
// クレームミドルウェアの後段に配置する。
type HistoryHandler struct {
	ledger  HistoryServiceInterface
	metrics HistoryMetricsRecorder
}

// NewHistoryHandler はHistoryHandlerを生成する。
func NewHistoryHandler(ledger HistoryServiceInterface, metrics HistoryMetricsRecorder) *HistoryHandler {
	if metrics == nil {
		metrics = noopHistoryMetrics{}
	}
	return &HistoryHandler{
		ledger:  ledger,
		metrics: metrics,
	}
}

// List はログイン履歴を返す。
// group_by_origin=true の場合は接続元IPごとの集約グループを返し、
// リクエストの接続元を「現在の接続元」として先頭に並べる。
// GET /api/history?page=&page_size=&group_by_origin=
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	groupByOrigin := query.Get("group_by_origin") == "true"

	start := time.Now()
	result, err := h.ledger.Query(r.Context(), accountID, history.QueryOptions{
		Page:          page,
		PageSize:      pageSize,
		GroupByOrigin: groupByOrigin,
		CurrentOrigin: middleware.ClientIP(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.metrics.RecordHistoryQueryLatency(time.Since(start))

	body := map[string]interface{}{
		"pagination": result.Pagination,
	}
	if groupByOrigin {
		body["groups"] = groupsResponse(result.Groups)
	} else {
		body["records"] = recordsResponse(result.Records)
	}
	writeJSON(w, http.StatusOK, body)
}

type closeSessionBody struct {
	OriginIP  string `json:"origin_ip"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// Close は接続元IPまたはセッションIDで絞った未終了セッションを一括終了する。
// 時刻範囲での絞り込みは受け付けない。
// POST /api/history/close
func (h *HistoryHandler) Close(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body closeSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidIdentityError("リクエストボディが不正です"))
		return
	}

	reason := model.LogoutReason(body.Reason)
	if reason == "" {
		reason = model.LogoutUserRequest
	}
	switch reason {
	case model.LogoutUserRequest, model.LogoutSecurityAlert:
	default:
		// timeout/admin_action/system はサーバー側プロセス専用の理由
		writeError(w, model.NewInvalidIdentityError("終了理由が不正です"))
		return
	}

	closed, err := h.ledger.CloseSession(r.Context(), repository.LoginHistoryFilter{
		AccountID: accountID,
		OriginIP:  body.OriginIP,
		SessionID: body.SessionID,
	}, reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"closed_count": closed})
}

// recordResponse はログインレコードのAPI表現。
type recordResponse struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id,omitempty"`
	LoginAt      time.Time  `json:"login_at"`
	OriginIP     string     `json:"origin_ip"`
	UserAgent    string     `json:"user_agent,omitempty"`
	Outcome      string     `json:"outcome"`
	LogoutAt     *time.Time `json:"logout_at,omitempty"`
	LogoutReason string     `json:"logout_reason,omitempty"`
	IsCurrent    bool       `json:"is_current"`
}

func recordsResponse(records []*model.LoginRecord) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp := recordResponse{
			ID:        rec.ID,
			SessionID: rec.SessionID,
			LoginAt:   rec.LoginAt,
			OriginIP:  rec.OriginIP,
			UserAgent: rec.UserAgent,
			Outcome:   string(rec.Outcome),
			LogoutAt:  rec.LogoutAt,
			IsCurrent: rec.IsCurrent,
		}
		if rec.LogoutReason != nil {
			resp.LogoutReason = string(*rec.LogoutReason)
		}
		out = append(out, resp)
	}
	return out
}

// groupResponse は接続元IP集約グループのAPI表現。
type groupResponse struct {
	OriginIP        string    `json:"origin_ip"`
	SessionCount    int       `json:"session_count"`
	MostRecentLogin time.Time `json:"most_recent_login"`
	IsCurrent       bool      `json:"is_current"`
}

func groupsResponse(groups []*model.OriginGroup) []groupResponse {
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupResponse{
			OriginIP:        g.OriginIP,
			SessionCount:    g.SessionCount,
			MostRecentLogin: g.MostRecentLogin,
			IsCurrent:       g.IsCurrent,
		})
	}
	return out
}
