// Package workshop はワークショップの公開一覧と講師による管理を提供する。
package workshop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/repository"
	"github.com/hitoshi/atelier/internal/security"
)

// 一覧取得件数
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// 入力値の上限
const (
	maxTitleLength    = 200
	maxLocationLength = 200
)

// Actor は操作を行う認証済みユーザー。
type Actor struct {
	UserID string
	Role   model.Role
}

// Input はワークショップ作成・更新の入力。
type Input struct {
	Title       string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	Capacity    int
}

// Service はワークショップ管理のサービス層。
type Service struct {
	repo      repository.WorkshopRepository
	sanitizer security.Sanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.WorkshopRepository, sanitizer security.Sanitizer) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List は開始日時の昇順でワークショップ一覧を返す。
// limitが0以下の場合はDefaultListLimit、MaxListLimitを超える場合はMaxListLimitに丸める。
func (s *Service) List(ctx context.Context, from time.Time, limit int) ([]*model.Workshop, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	workshops, err := s.repo.List(ctx, repository.WorkshopListParams{From: from, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list workshops: %w", err)
	}
	return workshops, nil
}

// Get は指定IDのワークショップを返す。UUID形式でないIDは存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, id string) (*model.Workshop, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewWorkshopNotFoundError(id)
	}
	w, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find workshop: %w", err)
	}
	if w == nil {
		return nil, model.NewWorkshopNotFoundError(id)
	}
	return w, nil
}

// Create は講師を主催者としてワークショップを作成する。
func (s *Service) Create(ctx context.Context, actor Actor, in Input) (*model.Workshop, error) {
	if actor.Role != model.RoleInstructor {
		return nil, model.NewForbiddenError()
	}
	in, err := s.clean(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	w := &model.Workshop{
		ID:           uuid.New().String(),
		Title:        in.Title,
		Description:  in.Description,
		Location:     in.Location,
		StartsAt:     in.StartsAt.UTC(),
		EndsAt:       in.EndsAt.UTC(),
		Capacity:     in.Capacity,
		InstructorID: actor.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create workshop: %w", err)
	}

	slog.Info("workshop created",
		slog.String("workshop_id", w.ID),
		slog.String("instructor_id", actor.UserID),
	)
	return w, nil
}

// Update は主催者本人によるワークショップの更新を行う。
func (s *Service) Update(ctx context.Context, actor Actor, id string, in Input) (*model.Workshop, error) {
	existing, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	in, err = s.clean(in)
	if err != nil {
		return nil, err
	}

	existing.Title = in.Title
	existing.Description = in.Description
	existing.Location = in.Location
	existing.StartsAt = in.StartsAt.UTC()
	existing.EndsAt = in.EndsAt.UTC()
	existing.Capacity = in.Capacity
	existing.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, existing); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewWorkshopNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to update workshop: %w", err)
	}
	return existing, nil
}

// Delete は主催者本人によるワークショップの削除を行う。
func (s *Service) Delete(ctx context.Context, actor Actor, id string) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewWorkshopNotFoundError(id)
		}
		return fmt.Errorf("failed to delete workshop: %w", err)
	}

	slog.Info("workshop deleted",
		slog.String("workshop_id", id),
		slog.String("instructor_id", actor.UserID),
	)
	return nil
}

// owned は講師ロールかつ主催者本人であることを確認して対象を返す。
func (s *Service) owned(ctx context.Context, actor Actor, id string) (*model.Workshop, error) {
	if actor.Role != model.RoleInstructor {
		return nil, model.NewForbiddenError()
	}
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.InstructorID != actor.UserID {
		return nil, model.NewForbiddenError()
	}
	return w, nil
}

// clean は入力をサニタイズして検証する。
func (s *Service) clean(in Input) (Input, error) {
	in.Title = s.sanitizer.PlainText(in.Title)
	in.Location = s.sanitizer.PlainText(in.Location)
	in.Description = s.sanitizer.RichText(in.Description)

	switch {
	case in.Title == "":
		return in, model.NewValidationError("title is required")
	case utf8.RuneCountInString(in.Title) > maxTitleLength:
		return in, model.NewValidationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	case utf8.RuneCountInString(in.Location) > maxLocationLength:
		return in, model.NewValidationError(fmt.Sprintf("location must be at most %d characters", maxLocationLength))
	case in.StartsAt.IsZero() || in.EndsAt.IsZero():
		return in, model.NewValidationError("starts_at and ends_at are required")
	case !in.EndsAt.After(in.StartsAt):
		return in, model.NewValidationError("ends_at must be after starts_at")
	case in.Capacity < 1:
		return in, model.NewValidationError("capacity must be at least 1")
	}
	return in, nil
}
