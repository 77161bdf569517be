package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/atelier/internal/model"
)

// PostgresWorkshopRepo はPostgreSQLを使用したワークショップリポジトリ。
type PostgresWorkshopRepo struct {
	db *sql.DB
}

// NewPostgresWorkshopRepo はPostgresWorkshopRepoを生成する。
func NewPostgresWorkshopRepo(db *sql.DB) *PostgresWorkshopRepo {
	return &PostgresWorkshopRepo{db: db}
}

const workshopColumns = `id, title, description, location, starts_at, ends_at, capacity, instructor_id, created_at, updated_at`

// List は開始日時の昇順でワークショップ一覧を返す。
func (r *PostgresWorkshopRepo) List(ctx context.Context, params WorkshopListParams) ([]*model.Workshop, error) {
	query := `SELECT ` + workshopColumns + ` FROM workshops`
	var args []any
	if !params.From.IsZero() {
		args = append(args, params.From)
		query += fmt.Sprintf(` WHERE starts_at >= $%d`, len(args))
	}
	query += ` ORDER BY starts_at ASC, id ASC`
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workshops: %w", err)
	}
	defer rows.Close()

	var workshops []*model.Workshop
	for rows.Next() {
		w := &model.Workshop{}
		if err := rows.Scan(&w.ID, &w.Title, &w.Description, &w.Location, &w.StartsAt, &w.EndsAt,
			&w.Capacity, &w.InstructorID, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workshop: %w", err)
		}
		workshops = append(workshops, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workshops: %w", err)
	}
	return workshops, nil
}

// FindByID は指定IDのワークショップを取得する。見つからない場合はnilを返す。
func (r *PostgresWorkshopRepo) FindByID(ctx context.Context, id string) (*model.Workshop, error) {
	w := &model.Workshop{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+workshopColumns+` FROM workshops WHERE id = $1`,
		id,
	).Scan(&w.ID, &w.Title, &w.Description, &w.Location, &w.StartsAt, &w.EndsAt,
		&w.Capacity, &w.InstructorID, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workshop: %w", err)
	}
	return w, nil
}

// Create はワークショップを作成する。
func (r *PostgresWorkshopRepo) Create(ctx context.Context, w *model.Workshop) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workshops (`+workshopColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.Title, w.Description, w.Location, w.StartsAt, w.EndsAt,
		w.Capacity, w.InstructorID, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workshop: %w", err)
	}
	return nil
}

// Update はワークショップを上書き更新する。
func (r *PostgresWorkshopRepo) Update(ctx context.Context, w *model.Workshop) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workshops
		 SET title = $2, description = $3, location = $4, starts_at = $5, ends_at = $6,
		     capacity = $7, updated_at = $8
		 WHERE id = $1`,
		w.ID, w.Title, w.Description, w.Location, w.StartsAt, w.EndsAt, w.Capacity, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update workshop: %w", err)
	}
	return requireOneRow(result)
}

// Delete は指定IDのワークショップを削除する。
func (r *PostgresWorkshopRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workshops WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workshop: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ WorkshopRepository = (*PostgresWorkshopRepo)(nil)
