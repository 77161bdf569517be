package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, phone, bio, role, password_hash, is_verified,
	verification_code, verification_code_expires_at, created_at, updated_at`

// Create はユーザーを作成する。emailの一意制約違反はErrDuplicateKeyを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		user.ID, user.Email, user.Name, user.Phone, user.Bio, string(user.Role), user.PasswordHash,
		user.IsVerified, nullString(user.VerificationCode), nullTime(user.VerificationCodeExpiresAt),
		user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// MarkVerified はユーザーを認証済みにし、メール認証コードを破棄する。
func (r *PostgresUserRepo) MarkVerified(ctx context.Context, id string) error {
	return r.execUpdate(ctx, "mark user verified",
		`UPDATE users
		 SET is_verified = true, verification_code = NULL, verification_code_expires_at = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
}

// UpdatePasswordHash はパスワードハッシュを置き換える。
func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	return r.execUpdate(ctx, "update password hash",
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
}

// SetVerificationCode はメール認証コードを上書き保存する。
func (r *PostgresUserRepo) SetVerificationCode(ctx context.Context, id, code string, expiresAt time.Time) error {
	return r.execUpdate(ctx, "set verification code",
		`UPDATE users
		 SET verification_code = $2, verification_code_expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, code, expiresAt,
	)
}

// execUpdate は1行を対象とするUPDATEを実行し、対象がなければErrNotFoundを返す。
func (r *PostgresUserRepo) execUpdate(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return requireOneRow(result)
}

// scanUser は1行をUserにスキャンする。行がない場合はnil, nilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var (
		role      string
		code      sql.NullString
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.Phone, &user.Bio, &role, &user.PasswordHash,
		&user.IsVerified, &code, &expiresAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	user.VerificationCode = code.String
	if expiresAt.Valid {
		user.VerificationCodeExpiresAt = expiresAt.Time
	}
	return user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
