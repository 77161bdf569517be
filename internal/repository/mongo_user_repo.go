package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/atelier/internal/model"
)

const mongoUsersCollection = "users"

// userDocument はusersコレクションのドキュメント表現。
type userDocument struct {
	ID                        string     `bson:"_id"`
	Email                     string     `bson:"email"`
	Name                      string     `bson:"name"`
	Phone                     string     `bson:"phone"`
	Bio                       string     `bson:"bio"`
	Role                      string     `bson:"role"`
	PasswordHash              string     `bson:"password_hash"`
	IsVerified                bool       `bson:"is_verified"`
	VerificationCode          string     `bson:"verification_code,omitempty"`
	VerificationCodeExpiresAt *time.Time `bson:"verification_code_expires_at,omitempty"`
	CreatedAt                 time.Time  `bson:"created_at"`
	UpdatedAt                 time.Time  `bson:"updated_at"`
}

func newUserDocument(u *model.User) *userDocument {
	doc := &userDocument{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Phone:            u.Phone,
		Bio:              u.Bio,
		Role:             string(u.Role),
		PasswordHash:     u.PasswordHash,
		IsVerified:       u.IsVerified,
		VerificationCode: u.VerificationCode,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
	if !u.VerificationCodeExpiresAt.IsZero() {
		t := u.VerificationCodeExpiresAt
		doc.VerificationCodeExpiresAt = &t
	}
	return doc
}

func (d *userDocument) toModel() *model.User {
	u := &model.User{
		ID:               d.ID,
		Email:            d.Email,
		Name:             d.Name,
		Phone:            d.Phone,
		Bio:              d.Bio,
		Role:             model.Role(d.Role),
		PasswordHash:     d.PasswordHash,
		IsVerified:       d.IsVerified,
		VerificationCode: d.VerificationCode,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.VerificationCodeExpiresAt != nil {
		u.VerificationCodeExpiresAt = *d.VerificationCodeExpiresAt
	}
	return u
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
// emailの一意性はコレクションの一意インデックスで保証する。
type MongoUserRepo struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection(mongoUsersCollection), now: time.Now}
}

// Create はユーザーを作成する。emailの重複はErrDuplicateKeyを返す。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.coll.InsertOne(ctx, newUserDocument(user))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// MarkVerified はユーザーを認証済みにし、メール認証コードを破棄する。
func (r *MongoUserRepo) MarkVerified(ctx context.Context, id string) error {
	return r.updateOne(ctx, "mark user verified", id, bson.M{
		"$set":   bson.M{"is_verified": true, "updated_at": r.now()},
		"$unset": bson.M{"verification_code": "", "verification_code_expires_at": ""},
	})
}

// UpdatePasswordHash はパスワードハッシュを置き換える。
func (r *MongoUserRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	return r.updateOne(ctx, "update password hash", id, bson.M{
		"$set": bson.M{"password_hash": passwordHash, "updated_at": r.now()},
	})
}

// SetVerificationCode はメール認証コードを上書き保存する。
func (r *MongoUserRepo) SetVerificationCode(ctx context.Context, id, code string, expiresAt time.Time) error {
	return r.updateOne(ctx, "set verification code", id, bson.M{
		"$set": bson.M{
			"verification_code":            code,
			"verification_code_expires_at": expiresAt,
			"updated_at":                   r.now(),
		},
	})
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toModel(), nil
}

func (r *MongoUserRepo) updateOne(ctx context.Context, op, id string, update bson.M) error {
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
