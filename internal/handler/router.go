package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	Verifier          middleware.TokenVerifier
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	// TrustProxyHeaders がtrueの場合はX-Forwarded-For等からクライアントIPを決定する。
	TrustProxyHeaders bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ワークショップ
	WorkshopService WorkshopServiceInterface

	// 運用
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → (RealIP) → Logging → SecurityHeaders → CORS
//
// /auth/* にはIP単位のレート制限を追加し、セッションが必要なルートにはSessionミドルウェアを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "The requested resource was not found.",
			Category: "system",
			Action:   "Check the request path.",
		})
	})

	var resendLimiter ResendLimiter
	if deps.RateLimiter != nil {
		resendLimiter = deps.RateLimiter
	}
	authHandler := NewAuthHandler(deps.AuthService, deps.Verifier, resendLimiter, deps.AuthConfig)
	workshopHandler := NewWorkshopHandler(deps.WorkshopService)
	requireFull := middleware.NewSessionMiddleware(deps.Verifier, session.StageFull)

	// --- 運用ルート ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート ---
	// 確認コードの総当たりを抑えるためIP単位でレート制限する
	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.AuthMiddleware())
		}

		r.Post("/register", authHandler.Register)
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.Post("/resend-verification", authHandler.ResendVerification)
		r.Post("/login", authHandler.Login)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/reset-password", authHandler.ResetPassword)
		r.With(requireFull).Get("/me", authHandler.Me)
	})

	// --- ワークショップ ---
	r.Route("/api/workshops", func(r chi.Router) {
		r.Get("/", workshopHandler.List)
		r.Get("/{id}", workshopHandler.Get)

		// 作成・更新・削除は講師のみ
		r.Group(func(r chi.Router) {
			r.Use(requireFull)
			r.Use(middleware.NewRequireRoleMiddleware(model.RoleInstructor))

			r.Post("/", workshopHandler.Create)
			r.Put("/{id}", workshopHandler.Update)
			r.Delete("/{id}", workshopHandler.Delete)
		})
	})

	return r
}
