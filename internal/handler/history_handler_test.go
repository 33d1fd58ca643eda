package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/passport/internal/history"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

// TestHistoryHandler_List_Flat は個別レコードのページを返すことを検証する。
func TestHistoryHandler_List_Flat(t *testing.T) {
	loginAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger := &mockHistoryService{
		queryFn: func(ctx context.Context, accountID string, opts history.QueryOptions) (*history.QueryResult, error) {
			if accountID != "acc-1" {
				t.Errorf("accountID = %q, want %q", accountID, "acc-1")
			}
			if opts.GroupByOrigin {
				t.Error("GroupByOrigin = true, want false")
			}
			if opts.Page != 2 || opts.PageSize != 10 {
				t.Errorf("page/pageSize = %d/%d, want 2/10", opts.Page, opts.PageSize)
			}
			return &history.QueryResult{
				Records: []*model.LoginRecord{
					{
						ID:        "rec-1",
						AccountID: accountID,
						SessionID: "sess-1",
						LoginAt:   loginAt,
						OriginIP:  "1.1.1.1",
						Outcome:   model.LoginSuccess,
						IsCurrent: true,
					},
				},
				Pagination: history.Pagination{Page: 2, PageSize: 10, TotalItems: 11, TotalPages: 2},
			}, nil
		},
	}
	h := NewHistoryHandler(ledger, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/history?page=2&page_size=10", nil)
	req = req.WithContext(otpClaimsContext(req.Context(), "acc-1", "taro@example.com"))
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Records    []recordResponse   `json:"records"`
		Pagination history.Pagination `json:"pagination"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(resp.Records))
	}
	if resp.Records[0].ID != "rec-1" || !resp.Records[0].IsCurrent {
		t.Errorf("record = %+v, want rec-1 current", resp.Records[0])
	}
	if resp.Pagination.TotalItems != 11 || resp.Pagination.TotalPages != 2 {
		t.Errorf("pagination = %+v, want 11 items / 2 pages", resp.Pagination)
	}
}

// TestHistoryHandler_List_GroupedByOrigin は接続元IP集約とリクエスト元IPの
// 「現在の接続元」指定が渡されることを検証する。
func TestHistoryHandler_List_GroupedByOrigin(t *testing.T) {
	mostRecent := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	ledger := &mockHistoryService{
		queryFn: func(ctx context.Context, accountID string, opts history.QueryOptions) (*history.QueryResult, error) {
			if !opts.GroupByOrigin {
				t.Error("GroupByOrigin = false, want true")
			}
			if opts.CurrentOrigin != "203.0.113.7" {
				t.Errorf("CurrentOrigin = %q, want %q", opts.CurrentOrigin, "203.0.113.7")
			}
			return &history.QueryResult{
				Groups: []*model.OriginGroup{
					{OriginIP: "203.0.113.7", SessionCount: 3, MostRecentLogin: mostRecent, IsCurrent: true},
					{OriginIP: "198.51.100.9", SessionCount: 1, MostRecentLogin: mostRecent.Add(-time.Hour)},
				},
				Pagination: history.Pagination{Page: 1, PageSize: 20, TotalItems: 2, TotalPages: 1},
			}, nil
		},
	}
	h := NewHistoryHandler(ledger, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/history?group_by_origin=true", nil)
	req = req.WithContext(otpClaimsContext(req.Context(), "acc-1", "taro@example.com"))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Groups []groupResponse `json:"groups"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(resp.Groups))
	}
	if resp.Groups[0].OriginIP != "203.0.113.7" || !resp.Groups[0].IsCurrent {
		t.Errorf("first group = %+v, want current 203.0.113.7", resp.Groups[0])
	}
	if resp.Groups[0].SessionCount != 3 {
		t.Errorf("session_count = %d, want 3", resp.Groups[0].SessionCount)
	}
}

// TestHistoryHandler_List_Unauthorized はクレームなしで401を返すことを検証する。
func TestHistoryHandler_List_Unauthorized(t *testing.T) {
	h := NewHistoryHandler(&mockHistoryService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestHistoryHandler_Close_ByOrigin は接続元IP指定の一括終了を検証する。
func TestHistoryHandler_Close_ByOrigin(t *testing.T) {
	var gotFilter repository.LoginHistoryFilter
	var gotReason model.LogoutReason
	ledger := &mockHistoryService{
		closeSessionFn: func(ctx context.Context, filter repository.LoginHistoryFilter, reason model.LogoutReason) (int64, error) {
			gotFilter = filter
			gotReason = reason
			return 2, nil
		},
	}
	h := NewHistoryHandler(ledger, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/history/close",
		strings.NewReader(`{"origin_ip":"198.51.100.9","reason":"security_alert"}`))
	req = req.WithContext(otpClaimsContext(req.Context(), "acc-1", "taro@example.com"))
	w := httptest.NewRecorder()
	h.Close(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if gotFilter.AccountID != "acc-1" || gotFilter.OriginIP != "198.51.100.9" {
		t.Errorf("filter = %+v, want acc-1 / 198.51.100.9", gotFilter)
	}
	if gotReason != model.LogoutSecurityAlert {
		t.Errorf("reason = %q, want %q", gotReason, model.LogoutSecurityAlert)
	}

	var resp map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["closed_count"] != 2 {
		t.Errorf("closed_count = %d, want 2", resp["closed_count"])
	}
}

// TestHistoryHandler_Close_DefaultReason は理由未指定でuser_requestになることを検証する。
func TestHistoryHandler_Close_DefaultReason(t *testing.T) {
	var gotReason model.LogoutReason
	ledger := &mockHistoryService{
		closeSessionFn: func(ctx context.Context, filter repository.LoginHistoryFilter, reason model.LogoutReason) (int64, error) {
			gotReason = reason
			return 1, nil
		},
	}
	h := NewHistoryHandler(ledger, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/history/close",
		strings.NewReader(`{"session_id":"sess-1"}`))
	req = req.WithContext(otpClaimsContext(req.Context(), "acc-1", "taro@example.com"))
	w := httptest.NewRecorder()
	h.Close(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotReason != model.LogoutUserRequest {
		t.Errorf("reason = %q, want %q", gotReason, model.LogoutUserRequest)
	}
}

// TestHistoryHandler_Close_ReservedReasons はサーバー側プロセス専用の
// 終了理由をAPIから受け付けないことを検証する。
func TestHistoryHandler_Close_ReservedReasons(t *testing.T) {
	for _, reason := range []string{"timeout", "admin_action", "system", "bogus"} {
		t.Run(reason, func(t *testing.T) {
			ledger := &mockHistoryService{
				closeSessionFn: func(ctx context.Context, filter repository.LoginHistoryFilter, r model.LogoutReason) (int64, error) {
					t.Errorf("CloseSession should not be called for reason %q", r)
					return 0, nil
				},
			}
			h := NewHistoryHandler(ledger, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/history/close",
				strings.NewReader(`{"session_id":"sess-1","reason":"`+reason+`"}`))
			req = req.WithContext(otpClaimsContext(req.Context(), "acc-1", "taro@example.com"))
			w := httptest.NewRecorder()
			h.Close(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

// TestHistoryHandler_Close_MissingScope は絞り込み指定のない終了要求が
// サービス層で拒否され400になることを検証する。
func TestHistoryHandler_Close_MissingScope(t *testing.T) {
	ledger := &mockHistoryService{
		closeSessionFn: func(ctx context.Context, filter repository.LoginHistoryFilter, reason model.LogoutReason) (int64, error) {
			return 0, model.NewInvalidIdentityError("接続元IPまたはセッションIDの指定が必要です")
		},
	}
	h := NewHistoryHandler(ledger, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/history/close", strings.NewReader(`{}`))
	req = req.WithContext(otpClaimsContext(req.Context(), "acc-1", "taro@example.com"))
	w := httptest.NewRecorder()
	h.Close(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
