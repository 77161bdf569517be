// Package credential はユーザー認証情報の作成・照合・更新を提供する。
// パスワードは書き込み時に1回だけハッシュ化し、平文は保持しない。
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/repository"
	"github.com/hitoshi/atelier/internal/security"
)

// ErrPasswordTooLong はbcryptで扱えない長さのパスワードを表す。
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// CreateParams はユーザー作成時の入力。
type CreateParams struct {
	Email    string
	Name     string
	Password string
	Role     model.Role
	Phone    string
	Bio      string
}

// Store はUserRepositoryの上に正規化・ハッシュ化・重複検出を提供する。
type Store struct {
	users     repository.UserRepository
	hasher    *Hasher
	sanitizer security.Sanitizer
	now       func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(users repository.UserRepository, hasher *Hasher, sanitizer security.Sanitizer) *Store {
	return &Store{
		users:     users,
		hasher:    hasher,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// NormalizeEmail はメールアドレスを比較用の正規形（前後空白除去・小文字化）にする。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create はユーザーを作成する。
// 正規化後のメールアドレスが登録済みの場合はDuplicateEmailエラーを返す。
func (s *Store) Create(ctx context.Context, p CreateParams) (*model.User, error) {
	email := NormalizeEmail(p.Email)
	if email == "" {
		return nil, model.NewValidationError("email is required")
	}

	role := p.Role
	if role == "" {
		role = model.RoleStandard
	}
	if !role.Valid() {
		return nil, model.NewValidationError("role must be standard or instructor")
	}

	name := s.sanitizer.PlainText(p.Name)
	if name == "" {
		return nil, model.NewValidationError("name is required")
	}

	hash, err := s.hasher.Hash(p.Password)
	if errors.Is(err, ErrPasswordTooLong) {
		return nil, model.NewValidationError("password is too long")
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Phone:        strings.TrimSpace(p.Phone),
		Bio:          s.sanitizer.PlainText(p.Bio),
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// FindByEmail はメールアドレスを正規化してユーザーを取得する。見つからない場合はnilを返す。
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *Store) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// MarkVerified はユーザーを認証済みにする。冪等で、保持中のメール認証コードは破棄される。
func (s *Store) MarkVerified(ctx context.Context, id string) error {
	return s.mapNotFound(s.users.MarkVerified(ctx, id), "mark verified")
}

// UpdatePassword は新しいパスワードをハッシュ化して置き換える。
func (s *Store) UpdatePassword(ctx context.Context, id, plain string) error {
	hash, err := s.HashPassword(plain)
	if err != nil {
		return err
	}
	return s.SetPasswordHash(ctx, id, hash)
}

// HashPassword は平文パスワードをハッシュ化する。書き込みは行わない。
func (s *Store) HashPassword(plain string) (string, error) {
	hash, err := s.hasher.Hash(plain)
	if errors.Is(err, ErrPasswordTooLong) {
		return "", model.NewValidationError("password is too long")
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// SetPasswordHash はHashPasswordで得たハッシュをそのまま保存する。
func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.mapNotFound(s.users.UpdatePasswordHash(ctx, id, hash), "update password")
}

// SetVerificationCode はメール認証コードを上書き保存する。
func (s *Store) SetVerificationCode(ctx context.Context, id, code string, expiresAt time.Time) error {
	return s.mapNotFound(s.users.SetVerificationCode(ctx, id, code, expiresAt), "set verification code")
}

// CheckPassword は平文パスワードがユーザーのハッシュと一致するかを返す。
func (s *Store) CheckPassword(user *model.User, plain string) bool {
	return s.hasher.Compare(user.PasswordHash, plain)
}

// DummyCheck は存在しないユーザーに対して照合と同等の時間を消費する。
func (s *Store) DummyCheck(plain string) {
	s.hasher.CompareDummy(plain)
}

func (s *Store) mapNotFound(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewUserNotFoundError()
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
