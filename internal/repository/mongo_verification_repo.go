package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/atelier/internal/model"
)

const mongoVerificationRequestsCollection = "verification_requests"

type verificationRequestDocument struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Code      string    `bson:"code"`
	ExpiresAt time.Time `bson:"expires_at"`
	Used      bool      `bson:"used"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d *verificationRequestDocument) toModel() *model.VerificationRequest {
	return &model.VerificationRequest{
		ID:        d.ID,
		Email:     d.Email,
		Code:      d.Code,
		ExpiresAt: d.ExpiresAt,
		Used:      d.Used,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// MongoVerificationRepo はMongoDBを使用したパスワードリセット確認コードリポジトリ。
type MongoVerificationRepo struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoVerificationRepo はMongoVerificationRepoを生成する。
func NewMongoVerificationRepo(db *mongo.Database) *MongoVerificationRepo {
	return &MongoVerificationRepo{coll: db.Collection(mongoVerificationRequestsCollection), now: time.Now}
}

// Upsert はemailをキーにFindOneAndUpdate(upsert)で確認コードを作成または置換する。
// 同一emailへの同時upsertで一意インデックス違反が起きた場合は1回だけ再試行する。
func (r *MongoVerificationRepo) Upsert(ctx context.Context, email, code string, expiresAt time.Time) (*model.VerificationRequest, error) {
	doc, err := r.upsert(ctx, email, code, expiresAt)
	if mongo.IsDuplicateKeyError(err) {
		doc, err = r.upsert(ctx, email, code, expiresAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert verification request: %w", err)
	}
	return doc.toModel(), nil
}

func (r *MongoVerificationRepo) upsert(ctx context.Context, email, code string, expiresAt time.Time) (*verificationRequestDocument, error) {
	now := r.now()
	update := bson.M{
		"$set": bson.M{
			"code":       code,
			"expires_at": expiresAt,
			"used":       false,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":        uuid.New().String(),
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc verificationRequestDocument
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"email": email}, update, opts).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindActive はemailとcodeが一致する未失効のドキュメントを取得する。見つからない場合はnilを返す。
func (r *MongoVerificationRepo) FindActive(ctx context.Context, email, code string, now time.Time, requireUnused bool) (*model.VerificationRequest, error) {
	filter := bson.M{
		"email":      email,
		"code":       code,
		"expires_at": bson.M{"$gt": now},
	}
	if requireUnused {
		filter["used"] = false
	}

	var doc verificationRequestDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find verification request: %w", err)
	}
	return doc.toModel(), nil
}

// MarkUsed は条件付きUpdateOneでドキュメントを使用済みにする。
// 条件に一致して更新できた場合のみtrueを返す。
func (r *MongoVerificationRepo) MarkUsed(ctx context.Context, req *model.VerificationRequest, now time.Time) (bool, error) {
	filter := bson.M{
		"_id":        req.ID,
		"code":       req.Code,
		"used":       false,
		"expires_at": bson.M{"$gt": now},
	}
	result, err := r.coll.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"used": true, "updated_at": r.now()},
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark verification request used: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

// ReleaseUsed は使用済みフラグを未使用に戻す。
func (r *MongoVerificationRepo) ReleaseUsed(ctx context.Context, req *model.VerificationRequest) error {
	filter := bson.M{"_id": req.ID, "code": req.Code, "used": true}
	_, err := r.coll.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"used": false, "updated_at": r.now()},
	})
	if err != nil {
		return fmt.Errorf("failed to release verification request: %w", err)
	}
	return nil
}

// DeleteStale はexpires_atがbeforeより前のドキュメントを削除する。
func (r *MongoVerificationRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale verification requests: %w", err)
	}
	return result.DeletedCount, nil
}

// compile-time interface check
var _ VerificationRequestRepository = (*MongoVerificationRepo)(nil)
