package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/atelier/internal/model"
)

// MemoryWorkshopRepo はプロセス内メモリを使用したワークショップリポジトリ。
type MemoryWorkshopRepo struct {
	mu        sync.RWMutex
	workshops map[string]*model.Workshop
}

// NewMemoryWorkshopRepo はMemoryWorkshopRepoを生成する。
func NewMemoryWorkshopRepo() *MemoryWorkshopRepo {
	return &MemoryWorkshopRepo{workshops: make(map[string]*model.Workshop)}
}

// List は開始日時の昇順でワークショップ一覧を返す。
func (r *MemoryWorkshopRepo) List(_ context.Context, params WorkshopListParams) ([]*model.Workshop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Workshop, 0, len(r.workshops))
	for _, w := range r.workshops {
		if !params.From.IsZero() && w.StartsAt.Before(params.From) {
			continue
		}
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartsAt.Equal(result[j].StartsAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartsAt.Before(result[j].StartsAt)
	})
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

// FindByID は指定IDのワークショップを取得する。見つからない場合はnilを返す。
func (r *MemoryWorkshopRepo) FindByID(_ context.Context, id string) (*model.Workshop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workshops[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// Create はワークショップを作成する。
func (r *MemoryWorkshopRepo) Create(_ context.Context, w *model.Workshop) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workshops[w.ID]; exists {
		return ErrDuplicateKey
	}
	cp := *w
	r.workshops[w.ID] = &cp
	return nil
}

// Update はワークショップを上書き更新する。
func (r *MemoryWorkshopRepo) Update(_ context.Context, w *model.Workshop) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.workshops[w.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *w
	cp.InstructorID = existing.InstructorID
	cp.CreatedAt = existing.CreatedAt
	r.workshops[w.ID] = &cp
	return nil
}

// Delete は指定IDのワークショップを削除する。
func (r *MemoryWorkshopRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workshops[id]; !ok {
		return ErrNotFound
	}
	delete(r.workshops, id)
	return nil
}

// compile-time interface check
var _ WorkshopRepository = (*MemoryWorkshopRepo)(nil)
