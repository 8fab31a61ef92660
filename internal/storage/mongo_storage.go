// internal/storage/mongo_storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoDocument 文档内容以 JSON 字符串保存，避免与 BSON 类型互转
type mongoDocument struct {
	ID        string    `bson:"_id"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStorage 每个集合对应一个 MongoDB collection
type MongoStorage struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoStorage 连接并验证 MongoDB
func NewMongoStorage(ctx context.Context, uri, database string) (*MongoStorage, error) {
	if uri == "" {
		return nil, errors.New("未设置 MONGO_URI")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB 不可用: %w", err)
	}
	return &MongoStorage{client: client, database: client.Database(database)}, nil
}

func (s *MongoStorage) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var doc mongoDocument
	err := s.database.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询失败: %w", err)
	}
	return []byte(doc.Data), nil
}

func (s *MongoStorage) Put(ctx context.Context, collection, id string, data []byte) error {
	doc := mongoDocument{ID: id, Data: string(data), UpdatedAt: time.Now()}
	_, err := s.database.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("写入失败: %w", err)
	}
	return nil
}

func (s *MongoStorage) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.database.Collection(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("删除失败: %w", err)
	}
	return nil
}

func (s *MongoStorage) List(ctx context.Context, collection string) (map[string][]byte, error) {
	cursor, err := s.database.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("查询失败: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(docs))
	for _, d := range docs {
		out[d.ID] = []byte(d.Data)
	}
	return out, nil
}

func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
