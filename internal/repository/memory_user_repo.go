package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
// 開発環境とテストで使用する。取得結果はコピーを返す。
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*model.User
	byEmail map[string]string // email -> id
	now     func() time.Time
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// Create はユーザーを作成する。emailが既に存在する場合はErrDuplicateKeyを返す。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return ErrDuplicateKey
	}
	if _, exists := r.byID[user.ID]; exists {
		return ErrDuplicateKey
	}

	u := *user
	r.byID[u.ID] = &u
	r.byEmail[u.Email] = u.ID
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// MarkVerified はユーザーを認証済みにし、メール認証コードを破棄する。
func (r *MemoryUserRepo) MarkVerified(_ context.Context, id string) error {
	return r.update(id, func(u *model.User) {
		u.IsVerified = true
		u.VerificationCode = ""
		u.VerificationCodeExpiresAt = time.Time{}
	})
}

// UpdatePasswordHash はパスワードハッシュを置き換える。
func (r *MemoryUserRepo) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	return r.update(id, func(u *model.User) {
		u.PasswordHash = passwordHash
	})
}

// SetVerificationCode はメール認証コードを上書き保存する。
func (r *MemoryUserRepo) SetVerificationCode(_ context.Context, id, code string, expiresAt time.Time) error {
	return r.update(id, func(u *model.User) {
		u.VerificationCode = code
		u.VerificationCodeExpiresAt = expiresAt
	})
}

func (r *MemoryUserRepo) update(id string, fn func(u *model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = r.now()
	return nil
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
