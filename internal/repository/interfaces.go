// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

var (
	// ErrDuplicateKey は一意制約違反を表す。
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound は更新・削除対象のレコードが存在しないことを表す。
	ErrNotFound = errors.New("record not found")
)

// UserRepository はユーザー認証情報の永続化インターフェース。
// パスワードはハッシュ済みの値のみを受け取る。ハッシュ化は呼び出し側で1回だけ行う。
type UserRepository interface {
	// Create はユーザーを作成する。emailが既に存在する場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// MarkVerified はユーザーを認証済みにし、メール認証コードを破棄する。冪等。
	MarkVerified(ctx context.Context, id string) error

	// UpdatePasswordHash はパスワードハッシュを置き換える。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error

	// SetVerificationCode はメール認証コードを上書き保存する。
	// 以前のコードは即座に使用不能になる。
	SetVerificationCode(ctx context.Context, id, code string, expiresAt time.Time) error
}

// VerificationRequestRepository はパスワードリセット用確認コードの永続化インターフェース。
type VerificationRequestRepository interface {
	// Upsert はメールアドレス単位で確認コードを作成または置換し、usedをfalseに戻す。
	Upsert(ctx context.Context, email, code string, expiresAt time.Time) (*model.VerificationRequest, error)

	// FindActive はemailとcodeが一致し、expires_at > now のレコードを取得する。
	// requireUnusedがtrueの場合はused = falseも条件に含める。
	// 見つからない場合はnilを返す。
	FindActive(ctx context.Context, email, code string, now time.Time, requireUnused bool) (*model.VerificationRequest, error)

	// MarkUsed はレコードを使用済みにする。
	// used = false かつ code一致かつ未失効の場合のみ更新する条件付き更新で、
	// この呼び出しで使用済みにできた場合にtrueを返す。
	// 同一コードでの同時コミットはいずれか1件のみがtrueを得る。
	MarkUsed(ctx context.Context, req *model.VerificationRequest, now time.Time) (bool, error)

	// ReleaseUsed はMarkUsedで使用済みにしたレコードを未使用に戻す。
	// idとcodeが一致する場合のみ更新するため、置換後の新しいコードには影響しない。
	// 使用済み化の後続処理が失敗した場合の取り消しに使う。
	ReleaseUsed(ctx context.Context, req *model.VerificationRequest) error

	// DeleteStale はexpires_atがbeforeより前のレコードを削除し、削除件数を返す。
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// WorkshopListParams はワークショップ一覧の取得条件。
type WorkshopListParams struct {
	// From 以降に開始するワークショップのみを返す。ゼロ値の場合は全件。
	From  time.Time
	Limit int
}

// WorkshopRepository はワークショップの永続化インターフェース。
type WorkshopRepository interface {
	// List は開始日時の昇順でワークショップ一覧を返す。
	List(ctx context.Context, params WorkshopListParams) ([]*model.Workshop, error)

	// FindByID は指定IDのワークショップを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Workshop, error)

	// Create はワークショップを作成する。
	Create(ctx context.Context, workshop *model.Workshop) error

	// Update はワークショップを上書き更新する。存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, workshop *model.Workshop) error

	// Delete は指定IDのワークショップを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error
}
