// Package auth は登録・メール認証・ログイン・パスワード再設定の認証フローを提供する。
//
// ユーザーごとの状態は Anonymous → PendingVerification → Verified と遷移し、
// パスワード再設定は RequestIssued → CodeVerified → Completed と独立に遷移する。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/atelier/internal/credential"
	"github.com/hitoshi/atelier/internal/mail"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/repository"
	"github.com/hitoshi/atelier/internal/session"
	"github.com/hitoshi/atelier/internal/verification"
)

// パスワードの長さ制約。上限はbcryptの制約による。
const (
	MinPasswordLength = 8
	MaxPasswordBytes  = 72
)

// 操作名（メトリクスのoperationラベル）
const (
	OpRegister           = "register"
	OpVerifyEmail        = "verify_email"
	OpResendVerification = "resend_verification"
	OpLogin              = "login"
	OpForgotPassword     = "forgot_password"
	OpVerifyResetCode    = "verify_reset_code"
	OpResetPassword      = "reset_password"
)

// 操作結果（メトリクスのoutcomeラベル）
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeError   = "error"
	// outcomeIgnored は未登録メールアドレスへのパスワード再設定要求。呼び出し元には成功を返す。
	outcomeIgnored = "ignored"
	// outcomeDispatchFailure はコードの保存後にメール送信だけが失敗したことを表す。
	outcomeDispatchFailure = "dispatch_failure"
)

// ResetPhase はパスワード再設定リクエストの段階を表す。
type ResetPhase string

const (
	// ResetPhaseVerify はコードの確認のみを行う段階。同じコードを何度でも確認できる。
	ResetPhaseVerify ResetPhase = "verify"
	// ResetPhaseCommit は新しいパスワードを確定する段階。コードは1回だけ使用できる。
	ResetPhaseCommit ResetPhase = "commit"
)

// Valid は定義済みの段階かどうかを返す。
func (p ResetPhase) Valid() bool {
	return p == ResetPhaseVerify || p == ResetPhaseCommit
}

// ParseResetPhase は文字列をResetPhaseに変換する。未定義の値はValidationエラーを返す。
func ParseResetPhase(s string) (ResetPhase, error) {
	p := ResetPhase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", model.NewValidationError("phase must be either verify or commit")
	}
	return p, nil
}

// ResetInput はパスワード再設定リクエストの入力。NewPasswordはcommit段階でのみ使用する。
type ResetInput struct {
	Email       string
	Code        string
	Phase       ResetPhase
	NewPassword string
}

// TokenIssuer はセッショントークンの発行・検証インターフェース。
type TokenIssuer interface {
	Issue(user *model.User, stage session.Stage) (string, error)
	Verify(token string, want session.Stage) (*session.Claims, error)
}

// OutcomeRecorder は認証操作の結果を記録するインターフェース。
type OutcomeRecorder interface {
	RecordAuthOperation(operation, outcome string)
}

// Config は認証フローの設定。
type Config struct {
	VerificationCodeTTL time.Duration
	ResetCodeTTL        time.Duration
}

// Deps は認証サービスの依存コンポーネント。
type Deps struct {
	Credentials *credential.Store
	Requests    repository.VerificationRequestRepository
	Tokens      TokenIssuer
	Mailer      mail.Dispatcher
	Recorder    OutcomeRecorder
}

// Service は認証フローのビジネスロジックを提供する。
type Service struct {
	credentials *credential.Store
	requests    repository.VerificationRequestRepository
	tokens      TokenIssuer
	mailer      mail.Dispatcher
	recorder    OutcomeRecorder
	config      Config

	now     func() time.Time
	newCode func() (string, error)
}

// NewService はServiceを生成する。
func NewService(deps Deps, config Config) *Service {
	return &Service{
		credentials: deps.Credentials,
		requests:    deps.Requests,
		tokens:      deps.Tokens,
		mailer:      deps.Mailer,
		recorder:    deps.Recorder,
		config:      config,
		now:         time.Now,
		newCode:     verification.NewCode,
	}
}

// RegisterInput は登録リクエストの入力。
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
	Bio      string
	Role     model.Role
	Locale   string
}

// Result はトークンを発行する操作の結果。
type Result struct {
	Token             string
	User              *model.User
	NeedsVerification bool
}

// Register はユーザーを未認証状態で作成し、確認コードを送信してpendingトークンを発行する。
// メール送信に失敗した場合もユーザーは作成済みのまま残り、DispatchFailureを返す。
// この場合はログインでpendingトークンを取得し、再送信できる。
func (s *Service) Register(ctx context.Context, in RegisterInput) (res *Result, err error) {
	defer func() { s.record(OpRegister, err) }()

	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	user, err := s.credentials.Create(ctx, credential.CreateParams{
		Email:    in.Email,
		Name:     in.Name,
		Password: in.Password,
		Role:     in.Role,
		Phone:    in.Phone,
		Bio:      in.Bio,
	})
	if err != nil {
		return nil, err
	}

	code, expiresAt, err := s.issueVerificationCode(ctx, user)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(user, session.StagePending)
	if err != nil {
		return nil, fmt.Errorf("failed to issue pending token: %w", err)
	}

	if err := s.dispatch(ctx, mail.Message{
		To:        user.Email,
		Kind:      mail.KindEmailVerification,
		Code:      code,
		Locale:    in.Locale,
		ExpiresIn: expiresAt.Sub(s.now()),
	}); err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)

	return &Result{Token: token, User: user, NeedsVerification: true}, nil
}

// VerifyEmail はpendingトークンと確認コードを検証し、ユーザーを認証済みにしてfullトークンを再発行する。
// 認証済みユーザーによる再送信はAlreadyVerifiedを返す。
func (s *Service) VerifyEmail(ctx context.Context, pendingToken, code string) (res *Result, err error) {
	defer func() { s.record(OpVerifyEmail, err) }()

	user, err := s.pendingUser(ctx, pendingToken)
	if err != nil {
		return nil, err
	}
	if user.IsVerified {
		return nil, model.NewAlreadyVerifiedError()
	}

	if !codeMatches(user.VerificationCode, code) || !s.now().Before(user.VerificationCodeExpiresAt) {
		return nil, model.NewInvalidOrExpiredCodeError()
	}

	if err := s.credentials.MarkVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	user.IsVerified = true
	user.VerificationCode = ""
	user.VerificationCodeExpiresAt = time.Time{}

	token, err := s.tokens.Issue(user, session.StageFull)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	slog.Info("email verified", slog.String("user_id", user.ID))
	return &Result{Token: token, User: user}, nil
}

// ResendVerification は新しい確認コードで既存のコードを上書きして送信する。
// 上書き後は以前のコードは使用できない。送信間隔の制限は呼び出し側で行う。
func (s *Service) ResendVerification(ctx context.Context, pendingToken, locale string) (err error) {
	defer func() { s.record(OpResendVerification, err) }()

	user, err := s.pendingUser(ctx, pendingToken)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return model.NewAlreadyVerifiedError()
	}

	code, expiresAt, err := s.issueVerificationCode(ctx, user)
	if err != nil {
		return err
	}

	return s.dispatch(ctx, mail.Message{
		To:        user.Email,
		Kind:      mail.KindEmailVerification,
		Code:      code,
		Locale:    locale,
		ExpiresIn: expiresAt.Sub(s.now()),
	})
}

// Login はメールアドレスとパスワードを照合する。
// 未登録とパスワード不一致は同じInvalidCredentialsを返し、照合時間も揃える。
// 未認証ユーザーにはpendingトークンを発行し、NeedsVerificationをtrueにする。
func (s *Service) Login(ctx context.Context, email, password string) (res *Result, err error) {
	defer func() { s.record(OpLogin, err) }()

	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.credentials.DummyCheck(password)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.credentials.CheckPassword(user, password) {
		return nil, model.NewInvalidCredentialsError()
	}

	stage := session.StageFull
	if user.IsPending() {
		stage = session.StagePending
	}
	token, err := s.tokens.Issue(user, stage)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	return &Result{Token: token, User: user, NeedsVerification: user.IsPending()}, nil
}

// ForgotPassword はメールアドレスが登録済みであれば再設定コードを発行して送信する。
// 呼び出し元には登録有無・内部エラー・送信失敗のいずれも伝えない。
// 失敗はログとメトリクスにのみ記録する。
func (s *Service) ForgotPassword(ctx context.Context, email, locale string) {
	outcome := outcomeSuccess
	defer func() { s.recordOutcome(OpForgotPassword, outcome) }()

	email = credential.NormalizeEmail(email)
	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		outcome = outcomeError
		slog.Error("forgot password lookup failed", slog.String("error", err.Error()))
		return
	}
	if user == nil {
		outcome = outcomeIgnored
		return
	}

	code, err := s.newCode()
	if err != nil {
		outcome = outcomeError
		slog.Error("failed to generate reset code", slog.String("error", err.Error()))
		return
	}
	if _, err := s.requests.Upsert(ctx, user.Email, code, s.now().Add(s.config.ResetCodeTTL)); err != nil {
		outcome = outcomeError
		slog.Error("failed to store reset code",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.mailer.Send(ctx, mail.Message{
		To:        user.Email,
		Kind:      mail.KindPasswordReset,
		Code:      code,
		Locale:    locale,
		ExpiresIn: s.config.ResetCodeTTL,
	}); err != nil {
		outcome = outcomeDispatchFailure
		slog.Error("failed to dispatch reset code",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	slog.Info("password reset requested", slog.String("user_id", user.ID))
}

// Reset はPhaseに応じてコード確認またはパスワード確定を行う。
func (s *Service) Reset(ctx context.Context, in ResetInput) error {
	switch in.Phase {
	case ResetPhaseVerify:
		return s.VerifyResetCode(ctx, in.Email, in.Code)
	case ResetPhaseCommit:
		return s.ResetPassword(ctx, in.Email, in.Code, in.NewPassword)
	default:
		return model.NewValidationError("phase must be either verify or commit")
	}
}

// VerifyResetCode は再設定コードが有効かどうかだけを確認する。使用済みフラグは変更しない。
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) (err error) {
	defer func() { s.record(OpVerifyResetCode, err) }()

	req, err := s.requests.FindActive(ctx, credential.NormalizeEmail(email), code, s.now(), false)
	if err != nil {
		return fmt.Errorf("failed to look up reset code: %w", err)
	}
	if req == nil {
		return model.NewInvalidOrExpiredCodeError()
	}
	return nil
}

// ResetPassword は未使用の再設定コードを条件付き更新で使用済みにし、パスワードを置き換える。
// 同じコードでの同時リクエストは1件だけが成功する。
// パスワードの書き込みに失敗した場合はコードを未使用に戻し、同じコードで再試行できる。
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) (err error) {
	defer func() { s.record(OpResetPassword, err) }()

	if err := validatePassword(newPassword); err != nil {
		return err
	}
	// コードを消費する前にハッシュ化しておく
	hash, err := s.credentials.HashPassword(newPassword)
	if err != nil {
		return err
	}

	email = credential.NormalizeEmail(email)
	now := s.now()

	req, err := s.requests.FindActive(ctx, email, code, now, true)
	if err != nil {
		return fmt.Errorf("failed to look up reset code: %w", err)
	}
	if req == nil {
		return model.NewInvalidOrExpiredCodeError()
	}

	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		slog.Error("reset code exists for unknown user")
		return model.NewUserNotFoundError()
	}

	consumed, err := s.requests.MarkUsed(ctx, req, now)
	if err != nil {
		return fmt.Errorf("failed to consume reset code: %w", err)
	}
	if !consumed {
		return model.NewInvalidOrExpiredCodeError()
	}

	if err := s.credentials.SetPasswordHash(ctx, user.ID, hash); err != nil {
		// リクエストのキャンセルに関係なく取り消す
		if relErr := s.requests.ReleaseUsed(context.WithoutCancel(ctx), req); relErr != nil {
			slog.Error("failed to release reset code",
				slog.String("user_id", user.ID),
				slog.String("error", relErr.Error()),
			)
		}
		return err
	}

	slog.Info("password reset completed", slog.String("user_id", user.ID))
	return nil
}

// CurrentUser は指定IDのユーザーを取得する。存在しない場合はUserNotFoundを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.credentials.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// pendingUser はpendingトークンを検証し、対象ユーザーを返す。
func (s *Service) pendingUser(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Verify(token, session.StagePending)
	if err != nil {
		return nil, model.NewInvalidSessionError()
	}
	user, err := s.credentials.FindByID(ctx, claims.SubjectID())
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewInvalidSessionError()
	}
	return user, nil
}

// issueVerificationCode は新しいメール認証コードを生成してユーザーに保存する。
func (s *Service) issueVerificationCode(ctx context.Context, user *model.User) (string, time.Time, error) {
	code, err := s.newCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate verification code: %w", err)
	}
	expiresAt := s.now().Add(s.config.VerificationCodeTTL)
	if err := s.credentials.SetVerificationCode(ctx, user.ID, code, expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return code, expiresAt, nil
}

// dispatch はメールを送信し、失敗時はDispatchFailureを返す。
func (s *Service) dispatch(ctx context.Context, msg mail.Message) error {
	if err := s.mailer.Send(ctx, msg); err != nil {
		slog.Error("failed to dispatch verification code",
			slog.String("kind", string(msg.Kind)),
			slog.String("error", err.Error()),
		)
		return model.NewDispatchFailureError()
	}
	return nil
}

func (s *Service) record(op string, err error) {
	s.recordOutcome(op, outcomeOf(err))
}

func (s *Service) recordOutcome(op, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordAuthOperation(op, outcome)
	}
}

// outcomeOf はエラーをメトリクスのoutcomeラベルに変換する。
func outcomeOf(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == model.ErrCodeDispatchFailure {
			return outcomeDispatchFailure
		}
		return outcomeFailure
	}
	return outcomeError
}

// codeMatches は確認コードを定数時間で比較する。保存済みコードが空の場合は常に不一致。
func codeMatches(stored, submitted string) bool {
	if stored == "" || !verification.ValidFormat(submitted) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// validatePassword はパスワードの長さを検証する。
func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}
	return nil
}
