package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDBのコレクション名
const (
	UsersCollection                = "users"
	VerificationRequestsCollection = "verification_requests"
	WorkshopsCollection            = "workshops"
)

const mongoConnectTimeout = 10 * time.Second

// ConnectMongo はMongoDBへ接続し、Pingで疎通を確認する。
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return client, nil
}

// mongoIndexes はコレクションごとに作成するインデックス定義を返す。
// emailの一意インデックスが重複登録とリセットコードの置換を保証する。
func mongoIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		UsersCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("users_email_unique"),
			},
		},
		VerificationRequestsCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("verification_requests_email_unique"),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetName("verification_requests_expires_at"),
			},
		},
		WorkshopsCollection: {
			{
				Keys:    bson.D{{Key: "starts_at", Value: 1}},
				Options: options.Index().SetName("workshops_starts_at"),
			},
			{
				Keys:    bson.D{{Key: "instructor_id", Value: 1}},
				Options: options.Index().SetName("workshops_instructor_id"),
			},
		},
	}
}

// EnsureMongoIndexes は必要なインデックスを作成する。既存の場合は何もしない。
// PostgreSQLのマイグレーションに相当する。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	for collection, models := range mongoIndexes() {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
