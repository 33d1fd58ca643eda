package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/passport/internal/auth"
	"github.com/hitoshi/passport/internal/middleware"
)

// HealthChecker はDB接続の死活確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	HealthChecker HealthChecker

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// ドメインサービス
	Providers      map[string]auth.DelegatedProvider
	Resolver       IdentityResolverInterface
	Sessions       SessionServiceInterface
	OTP            OTPServiceInterface
	History        HistoryServiceInterface
	Guard          LivenessGuardInterface
	Metrics        MetricsRecorder
	HistoryMetrics HistoryMetricsRecorder

	AuthConfig AuthHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → ClaimsMiddleware → CSRFMiddleware → RateLimitMiddleware(General)
//
// 認証ルート（/auth/*）のうちログイン開始系はミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(
		deps.Providers, deps.Resolver, deps.Sessions, deps.History,
		deps.Guard, deps.Metrics, deps.AuthConfig,
	)
	otpHandler := NewOTPHandler(
		deps.OTP, deps.Resolver, deps.Sessions, deps.History,
		deps.Metrics, authHandler.setClaimsCookie,
	)
	profileHandler := NewProfileHandler(
		deps.Resolver, deps.Sessions, deps.History,
		deps.Metrics, authHandler.setClaimsCookie,
	)
	historyHandler := NewHistoryHandler(deps.History, deps.HistoryMetrics)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		// 委任ログインフロー
		r.Get("/{provider}/login", authHandler.Login)
		r.Get("/{provider}/callback", authHandler.Callback)

		// OTPフロー（コード発行は接続元ごとの専用レート制限）
		r.With(deps.RateLimiter.OTPIssueMiddleware()).Post("/otp/request", otpHandler.RequestCode)
		r.Post("/otp/verify", otpHandler.VerifyCode)

		// セッション管理（Cookie自体を検証するためチェーン外）
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
		r.Get("/liveness", authHandler.Liveness)

		// CSRFトークン取得
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// プロフィール登録・クレーム再発行（検証済みクレームが必要）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewClaimsMiddleware(deps.Sessions))
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Post("/profile/complete", profileHandler.CompleteProfile)
			r.Post("/profile/use-original", profileHandler.SetUseOriginal)
			r.Post("/claims/refresh", profileHandler.RefreshClaims)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Claims → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClaimsMiddleware(deps.Sessions))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ログイン履歴
		r.Route("/api/history", func(r chi.Router) {
			r.Get("/", historyHandler.List)
			r.Post("/close", historyHandler.Close)
		})
	})

	return r
}
