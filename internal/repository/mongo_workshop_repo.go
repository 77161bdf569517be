package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/atelier/internal/model"
)

const mongoWorkshopsCollection = "workshops"

type workshopDocument struct {
	ID           string    `bson:"_id"`
	Title        string    `bson:"title"`
	Description  string    `bson:"description"`
	Location     string    `bson:"location"`
	StartsAt     time.Time `bson:"starts_at"`
	EndsAt       time.Time `bson:"ends_at"`
	Capacity     int       `bson:"capacity"`
	InstructorID string    `bson:"instructor_id"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func newWorkshopDocument(w *model.Workshop) *workshopDocument {
	return &workshopDocument{
		ID:           w.ID,
		Title:        w.Title,
		Description:  w.Description,
		Location:     w.Location,
		StartsAt:     w.StartsAt,
		EndsAt:       w.EndsAt,
		Capacity:     w.Capacity,
		InstructorID: w.InstructorID,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

func (d *workshopDocument) toModel() *model.Workshop {
	return &model.Workshop{
		ID:           d.ID,
		Title:        d.Title,
		Description:  d.Description,
		Location:     d.Location,
		StartsAt:     d.StartsAt,
		EndsAt:       d.EndsAt,
		Capacity:     d.Capacity,
		InstructorID: d.InstructorID,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoWorkshopRepo はMongoDBを使用したワークショップリポジトリ。
type MongoWorkshopRepo struct {
	coll *mongo.Collection
}

// NewMongoWorkshopRepo はMongoWorkshopRepoを生成する。
func NewMongoWorkshopRepo(db *mongo.Database) *MongoWorkshopRepo {
	return &MongoWorkshopRepo{coll: db.Collection(mongoWorkshopsCollection)}
}

// List は開始日時の昇順でワークショップ一覧を返す。
func (r *MongoWorkshopRepo) List(ctx context.Context, params WorkshopListParams) ([]*model.Workshop, error) {
	filter := bson.M{}
	if !params.From.IsZero() {
		filter["starts_at"] = bson.M{"$gte": params.From}
	}
	opts := options.Find().SetSort(bson.D{{Key: "starts_at", Value: 1}, {Key: "_id", Value: 1}})
	if params.Limit > 0 {
		opts.SetLimit(int64(params.Limit))
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workshops: %w", err)
	}
	var docs []workshopDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode workshops: %w", err)
	}

	workshops := make([]*model.Workshop, 0, len(docs))
	for i := range docs {
		workshops = append(workshops, docs[i].toModel())
	}
	return workshops, nil
}

// FindByID は指定IDのワークショップを取得する。見つからない場合はnilを返す。
func (r *MongoWorkshopRepo) FindByID(ctx context.Context, id string) (*model.Workshop, error) {
	var doc workshopDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workshop: %w", err)
	}
	return doc.toModel(), nil
}

// Create はワークショップを作成する。
func (r *MongoWorkshopRepo) Create(ctx context.Context, w *model.Workshop) error {
	if _, err := r.coll.InsertOne(ctx, newWorkshopDocument(w)); err != nil {
		return fmt.Errorf("failed to insert workshop: %w", err)
	}
	return nil
}

// Update はワークショップを上書き更新する。
func (r *MongoWorkshopRepo) Update(ctx context.Context, w *model.Workshop) error {
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": w.ID}, bson.M{
		"$set": bson.M{
			"title":       w.Title,
			"description": w.Description,
			"location":    w.Location,
			"starts_at":   w.StartsAt,
			"ends_at":     w.EndsAt,
			"capacity":    w.Capacity,
			"updated_at":  w.UpdatedAt,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update workshop: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete は指定IDのワークショップを削除する。
func (r *MongoWorkshopRepo) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete workshop: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ WorkshopRepository = (*MongoWorkshopRepo)(nil)
