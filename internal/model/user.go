// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す。認可判定に使用する。
type Role string

const (
	// RoleStandard は一般の受講者。
	RoleStandard Role = "standard"
	// RoleInstructor はワークショップを主催できる講師。
	RoleInstructor Role = "instructor"
)

// Valid は定義済みのRoleかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleInstructor
}

// User は認証情報を持つユーザーを表す。
// PasswordHashは一方向ハッシュのみを保持し、平文は保持しない。
type User struct {
	ID           string
	Email        string // 小文字に正規化済み
	Name         string
	Phone        string
	Bio          string
	Role         Role
	PasswordHash string
	IsVerified   bool

	// メール認証コード。1ユーザーにつき常に1件のみ保持する。
	VerificationCode          string
	VerificationCodeExpiresAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPending は登録済みかつメール未認証の状態かどうかを返す。
func (u *User) IsPending() bool {
	return !u.IsVerified
}

// VerificationRequest はパスワードリセット用の確認コードレコードを表す。
// メールアドレスごとに最大1件で、新規リクエストは既存レコードを置き換える。
type VerificationRequest struct {
	ID        string
	Email     string
	Code      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive は指定時刻において未失効かどうかを返す。
func (v *VerificationRequest) IsActive(now time.Time) bool {
	return v.ExpiresAt.After(now)
}
