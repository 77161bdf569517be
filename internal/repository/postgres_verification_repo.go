package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/atelier/internal/model"
)

// PostgresVerificationRepo はPostgreSQLを使用したパスワードリセット確認コードリポジトリ。
type PostgresVerificationRepo struct {
	db *sql.DB
}

// NewPostgresVerificationRepo はPostgresVerificationRepoを生成する。
func NewPostgresVerificationRepo(db *sql.DB) *PostgresVerificationRepo {
	return &PostgresVerificationRepo{db: db}
}

const verificationColumns = `id, email, code, expires_at, used, created_at, updated_at`

// Upsert はメールアドレス単位で確認コードを作成または置換する。
// 既存レコードがある場合はcode・expires_atを置き換え、usedをfalseに戻す。
func (r *PostgresVerificationRepo) Upsert(ctx context.Context, email, code string, expiresAt time.Time) (*model.VerificationRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO verification_requests (id, email, code, expires_at, used, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, false, now(), now())
		 ON CONFLICT (email) DO UPDATE
		 SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at, used = false, updated_at = now()
		 RETURNING `+verificationColumns,
		uuid.New().String(), email, code, expiresAt,
	)
	req, err := scanVerificationRequest(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert verification request: %w", err)
	}
	return req, nil
}

// FindActive はemailとcodeが一致する未失効のレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresVerificationRepo) FindActive(ctx context.Context, email, code string, now time.Time, requireUnused bool) (*model.VerificationRequest, error) {
	query := `SELECT ` + verificationColumns + `
		 FROM verification_requests
		 WHERE email = $1 AND code = $2 AND expires_at > $3`
	if requireUnused {
		query += ` AND used = false`
	}

	req, err := scanVerificationRequest(r.db.QueryRowContext(ctx, query, email, code, now))
	if err != nil {
		return nil, fmt.Errorf("failed to find verification request: %w", err)
	}
	return req, nil
}

// MarkUsed は条件付きUPDATEでレコードを使用済みにする。
// 他のリクエストが先に使用済みにした場合や置換・失効した場合はfalseを返す。
func (r *PostgresVerificationRepo) MarkUsed(ctx context.Context, req *model.VerificationRequest, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE verification_requests
		 SET used = true, updated_at = now()
		 WHERE id = $1 AND code = $2 AND used = false AND expires_at > $3`,
		req.ID, req.Code, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark verification request used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ReleaseUsed は使用済みフラグを未使用に戻す。
func (r *PostgresVerificationRepo) ReleaseUsed(ctx context.Context, req *model.VerificationRequest) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE verification_requests
		 SET used = false, updated_at = now()
		 WHERE id = $1 AND code = $2 AND used = true`,
		req.ID, req.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to release verification request: %w", err)
	}
	return nil
}

// DeleteStale はexpires_atがbeforeより前のレコードを削除する。
func (r *PostgresVerificationRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_requests WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale verification requests: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func scanVerificationRequest(row *sql.Row) (*model.VerificationRequest, error) {
	req := &model.VerificationRequest{}
	err := row.Scan(&req.ID, &req.Email, &req.Code, &req.ExpiresAt, &req.Used, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// compile-time interface check
var _ VerificationRequestRepository = (*PostgresVerificationRepo)(nil)
