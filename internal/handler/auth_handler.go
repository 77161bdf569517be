// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/mail"
	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/session"
)

// legacyVerifyOnlyPassword は旧クライアントがコード確認のみを要求する際に
// newPasswordへ入れていた値。入口でverify段階に読み替える。
const legacyVerifyOnlyPassword = "temporary-verification-only"

// forgotPasswordMessage はパスワード再設定要求に対する固定の応答文言。
const forgotPasswordMessage = "If an account exists for this email, a reset code has been sent."

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Result, error)
	VerifyEmail(ctx context.Context, pendingToken, code string) (*auth.Result, error)
	ResendVerification(ctx context.Context, pendingToken, locale string) error
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	ForgotPassword(ctx context.Context, email, locale string)
	Reset(ctx context.Context, in auth.ResetInput) error
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// ResendLimiter は確認コード再送信の間隔制限インターフェース。
type ResendLimiter interface {
	AllowResend(subjectID string) (bool, time.Duration)
	ReleaseResend(subjectID string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	DefaultLocale string
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	verifier  middleware.TokenVerifier
	limiter   ResendLimiter
	validator *requestValidator
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, verifier middleware.TokenVerifier, limiter ResendLimiter, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		verifier:  verifier,
		limiter:   limiter,
		validator: newRequestValidator(),
		config:    config,
	}
}

// --- リクエスト・レスポンス ---

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
	Role     string `json:"role" validate:"omitempty,oneof=standard instructor"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Bio      string `json:"bio" validate:"omitempty,max=2000"`
	Locale   string `json:"locale"`
}

type verifyEmailRequest struct {
	PendingToken string `json:"pendingToken"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
}

type resendVerificationRequest struct {
	PendingToken string `json:"pendingToken"`
	Locale       string `json:"locale"`
}

// pendingRequest はボディにpendingトークンを持てるリクエスト。
type pendingRequest interface {
	bodyToken() string
}

func (r *verifyEmailRequest) bodyToken() string { return r.PendingToken }
func (r *resendVerificationRequest) bodyToken() string { return r.PendingToken }

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Locale string `json:"locale"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	Phase       string `json:"phase" validate:"omitempty,oneof=verify commit"`
	NewPassword string `json:"newPassword"`
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュと確認コードは含めない。
type userResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	Role       string    `json:"role"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

type registerResponse struct {
	Token             string       `json:"token"`
	PendingUser       userResponse `json:"pendingUser"`
	NeedsVerification bool         `json:"needsVerification"`
}

type sessionResponse struct {
	Token             string       `json:"token"`
	User              userResponse `json:"user"`
	NeedsVerification bool         `json:"needsVerification"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Phone:      u.Phone,
		Bio:        u.Bio,
		Role:       string(u.Role),
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

// --- ハンドラー ---

// Register はユーザー登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.bind(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Bio:      req.Bio,
		Role:     model.Role(req.Role),
		Locale:   h.locale(r, req.Locale),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Token:             res.Token,
		PendingUser:       toUserResponse(res.User),
		NeedsVerification: true,
	})
}

// VerifyEmail はメールアドレス確認コードを検証する。
// POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	token, _, ok := h.bindPending(w, r, &req)
	if !ok {
		return
	}

	res, err := h.service.VerifyEmail(r.Context(), token, req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Token: res.Token,
		User:  toUserResponse(res.User),
	})
}

// ResendVerification は確認コードを再送信する。主体ごとに送信間隔を制限する。
// POST /auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	token, claims, ok := h.bindPending(w, r, &req)
	if !ok {
		return
	}

	if h.limiter != nil {
		if ok, retryAfter := h.limiter.AllowResend(claims.SubjectID()); !ok {
			slog.Warn("resend cooldown active", slog.String("subject_id", claims.SubjectID()))
			middleware.WriteRateLimitResponse(w, retryAfter)
			return
		}
	}

	if err := h.service.ResendVerification(r.Context(), token, h.locale(r, req.Locale)); err != nil {
		// 送信に至らなかったので枠を返す
		if h.limiter != nil {
			h.limiter.ReleaseResend(claims.SubjectID())
		}
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.bind(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:             res.Token,
		User:              toUserResponse(res.User),
		NeedsVerification: res.NeedsVerification,
	})
}

// ForgotPassword はパスワード再設定コードの送信を要求する。
// メールアドレスの登録有無にかかわらず同じ応答を返す。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.bind(w, r, &req) {
		return
	}

	h.service.ForgotPassword(r.Context(), req.Email, h.locale(r, req.Locale))

	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: forgotPasswordMessage})
}

// ResetPassword はphaseに応じて再設定コードの確認またはパスワードの確定を行う。
// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.bind(w, r, &req) {
		return
	}

	phase, err := resolveResetPhase(req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	in := auth.ResetInput{Email: req.Email, Code: req.Code, Phase: phase}
	if phase == auth.ResetPhaseCommit {
		in.NewPassword = req.NewPassword
	}
	if err := h.service.Reset(r.Context(), in); err != nil {
		handleServiceError(w, r, err)
		return
	}

	msg := "Code verified."
	if phase == auth.ResetPhaseCommit {
		msg = "Password has been reset."
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: msg})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims.SubjectID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]userResponse{"user": toUserResponse(user)})
}

// bind はリクエストボディのデコードと検証を行う。失敗時はエラーレスポンスを書き込みfalseを返す。
func (h *AuthHandler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		handleServiceError(w, r, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		handleServiceError(w, r, err)
		return false
	}
	return true
}

// bindPending はpendingトークンを要求するリクエストを読み込む。
// トークンの検証を入力値の検証より先に行い、無効なセッションには常に401を返す。
func (h *AuthHandler) bindPending(w http.ResponseWriter, r *http.Request, dst pendingRequest) (string, *session.Claims, bool) {
	if err := decodeJSON(w, r, dst); err != nil {
		handleServiceError(w, r, err)
		return "", nil, false
	}
	token := pendingToken(r, dst.bodyToken())
	claims, err := h.verifier.Verify(token, session.StagePending)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
		return "", nil, false
	}
	if err := h.validator.Struct(dst); err != nil {
		handleServiceError(w, r, err)
		return "", nil, false
	}
	return token, claims, true
}

// locale はボディの指定、Accept-Languageの順にメールのロケールを決定する。
func (h *AuthHandler) locale(r *http.Request, requested string) string {
	if requested != "" {
		return mail.NegotiateLocale(requested, h.config.DefaultLocale)
	}
	return mail.NegotiateLocale(r.Header.Get("Accept-Language"), h.config.DefaultLocale)
}

// pendingToken はAuthorizationヘッダーのBearerトークンを優先し、なければボディの値を返す。
func pendingToken(r *http.Request, fromBody string) string {
	if token := middleware.BearerToken(r); token != "" {
		return token
	}
	return fromBody
}

// resolveResetPhase はリクエストから再設定の段階を決定する。
// phase未指定の場合は旧クライアントの形式として解釈する。
func resolveResetPhase(req resetPasswordRequest) (auth.ResetPhase, error) {
	if req.Phase != "" {
		phase, err := auth.ParseResetPhase(req.Phase)
		if err != nil {
			return "", err
		}
		if phase == auth.ResetPhaseCommit && req.NewPassword == legacyVerifyOnlyPassword {
			return "", model.NewValidationError("newPassword is not allowed")
		}
		return phase, nil
	}

	switch req.NewPassword {
	case legacyVerifyOnlyPassword:
		return auth.ResetPhaseVerify, nil
	case "":
		return "", model.NewValidationError("phase is required")
	default:
		return auth.ResetPhaseCommit, nil
	}
}
