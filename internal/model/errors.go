// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, workshop, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is は同一コードのAPIErrorをerrors.Isで一致させる。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateEmail       = "DUPLICATE_EMAIL"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeInvalidOrExpiredCode = "INVALID_OR_EXPIRED_CODE"
	ErrCodeInvalidSession       = "INVALID_SESSION"
	ErrCodeAlreadyVerified      = "ALREADY_VERIFIED"
	ErrCodeDispatchFailure      = "DISPATCH_FAILURE"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeWorkshopNotFound     = "WORKSHOP_NOT_FOUND"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewDuplicateEmailError は登録済みメールアドレスでの再登録エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Sign in instead, or use the forgot password flow.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレス未登録とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password and try again.",
	}
}

// NewInvalidOrExpiredCodeError は確認コードの不一致・失効・使用済みエラーを生成する。
func NewInvalidOrExpiredCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredCode,
		Message:  "The code is invalid or has expired.",
		Category: "auth",
		Action:   "Request a new code and try again.",
	}
}

// NewInvalidSessionError はトークン不正・失効エラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "Your session is invalid or has expired.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewAlreadyVerifiedError は認証済みユーザーへの再認証エラーを生成する。
func NewAlreadyVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyVerified,
		Message:  "This email address is already verified.",
		Category: "auth",
		Action:   "Sign in to continue.",
	}
}

// NewDispatchFailureError はメール送信失敗エラーを生成する。
func NewDispatchFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeDispatchFailure,
		Message:  "We could not send the verification email.",
		Category: "system",
		Action:   "Wait a moment and request a new code.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewValidationError は入力値不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("Invalid input: %s", reason),
		Category: "validation",
		Action:   "Correct the highlighted fields and try again.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "You do not have permission to perform this action.",
		Category: "auth",
		Action:   "Sign in with an instructor account.",
	}
}

// NewWorkshopNotFoundError はワークショップ未検出エラーを生成する。
func NewWorkshopNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeWorkshopNotFound,
		Message:  fmt.Sprintf("Workshop not found: %s", id),
		Category: "workshop",
		Action:   "Check the workshop ID.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Wait and retry after the time given in Retry-After.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Wait a moment and try again.",
	}
}
