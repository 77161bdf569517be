package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

func TestMemoryWorkshopRepo_List_SortedAndFiltered(t *testing.T) {
	repo := NewMemoryWorkshopRepo()
	ctx := context.Background()
	base := time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC)

	for i, offset := range []int{48, 0, 24} {
		repo.Create(ctx, &model.Workshop{
			ID:           string(rune('a' + i)),
			Title:        "Workshop",
			StartsAt:     base.Add(time.Duration(offset) * time.Hour),
			EndsAt:       base.Add(time.Duration(offset+2) * time.Hour),
			Capacity:     5,
			InstructorID: "inst",
		})
	}

	all, err := repo.List(ctx, WorkshopListParams{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartsAt.Before(all[i-1].StartsAt) {
			t.Errorf("workshops not sorted by StartsAt")
		}
	}

	upcoming, _ := repo.List(ctx, WorkshopListParams{From: base.Add(time.Hour), Limit: 1})
	if len(upcoming) != 1 || !upcoming[0].StartsAt.Equal(base.Add(24*time.Hour)) {
		t.Errorf("filtered list = %+v", upcoming)
	}
}

func TestMemoryWorkshopRepo_UpdateKeepsOwner(t *testing.T) {
	repo := NewMemoryWorkshopRepo()
	ctx := context.Background()
	repo.Create(ctx, &model.Workshop{ID: "w1", Title: "Old", InstructorID: "inst-1"})

	if err := repo.Update(ctx, &model.Workshop{ID: "w1", Title: "New", InstructorID: "someone-else"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	w, _ := repo.FindByID(ctx, "w1")
	if w.Title != "New" {
		t.Errorf("Title = %q, want %q", w.Title, "New")
	}
	if w.InstructorID != "inst-1" {
		t.Errorf("InstructorID = %q, want %q", w.InstructorID, "inst-1")
	}
}

func TestMemoryWorkshopRepo_MissingReturnsNotFound(t *testing.T) {
	repo := NewMemoryWorkshopRepo()
	ctx := context.Background()

	if err := repo.Update(ctx, &model.Workshop{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update err = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete err = %v, want ErrNotFound", err)
	}
	if w, err := repo.FindByID(ctx, "missing"); w != nil || err != nil {
		t.Errorf("FindByID = %v, %v; want nil, nil", w, err)
	}
}
