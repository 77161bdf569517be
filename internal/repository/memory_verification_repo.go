package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/atelier/internal/model"
)

// MemoryVerificationRepo はプロセス内メモリを使用した確認コードリポジトリ。
// すべての操作を1つのミューテックスで直列化するため、MarkUsedの条件判定と更新は不可分。
type MemoryVerificationRepo struct {
	mu      sync.Mutex
	byEmail map[string]*model.VerificationRequest
	now     func() time.Time
}

// NewMemoryVerificationRepo はMemoryVerificationRepoを生成する。
func NewMemoryVerificationRepo() *MemoryVerificationRepo {
	return &MemoryVerificationRepo{
		byEmail: make(map[string]*model.VerificationRequest),
		now:     time.Now,
	}
}

// Upsert はメールアドレス単位で確認コードを作成または置換する。
func (r *MemoryVerificationRepo) Upsert(_ context.Context, email, code string, expiresAt time.Time) (*model.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	req, ok := r.byEmail[email]
	if !ok {
		req = &model.VerificationRequest{
			ID:        uuid.New().String(),
			Email:     email,
			CreatedAt: now,
		}
		r.byEmail[email] = req
	}
	req.Code = code
	req.ExpiresAt = expiresAt
	req.Used = false
	req.UpdatedAt = now

	cp := *req
	return &cp, nil
}

// FindActive はemailとcodeが一致する未失効のレコードを取得する。見つからない場合はnilを返す。
func (r *MemoryVerificationRepo) FindActive(_ context.Context, email, code string, now time.Time, requireUnused bool) (*model.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.byEmail[email]
	if !ok || req.Code != code || !req.IsActive(now) {
		return nil, nil
	}
	if requireUnused && req.Used {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

// MarkUsed はレコードが未使用・コード一致・未失効の場合のみ使用済みにする。
func (r *MemoryVerificationRepo) MarkUsed(_ context.Context, target *model.VerificationRequest, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.byEmail[target.Email]
	if !ok || req.ID != target.ID || req.Code != target.Code || req.Used || !req.IsActive(now) {
		return false, nil
	}
	req.Used = true
	req.UpdatedAt = r.now()
	return true, nil
}

// ReleaseUsed はidとcodeが一致する使用済みレコードを未使用に戻す。
func (r *MemoryVerificationRepo) ReleaseUsed(_ context.Context, target *model.VerificationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.byEmail[target.Email]
	if !ok || req.ID != target.ID || req.Code != target.Code || !req.Used {
		return nil
	}
	req.Used = false
	req.UpdatedAt = r.now()
	return nil
}

// DeleteStale はexpires_atがbeforeより前のレコードを削除する。
func (r *MemoryVerificationRepo) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for email, req := range r.byEmail {
		if req.ExpiresAt.Before(before) {
			delete(r.byEmail, email)
			deleted++
		}
	}
	return deleted, nil
}

// compile-time interface check
var _ VerificationRequestRepository = (*MemoryVerificationRepo)(nil)
