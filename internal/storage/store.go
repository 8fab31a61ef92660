// internal/storage/store.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// 集合名称
const (
	CollectionKeyValue    = "keyValueStore"
	CollectionCharacters  = "characters"
	CollectionPersonas    = "userPersonas"
	CollectionPromptSets  = "promptSets"
	CollectionLorebooks   = "lorebooks"
	CollectionHistories   = "chatHistories"
	CollectionMemories    = "longTermMemories"
	CollectionMetadatas   = "chatMetadatas"
	CollectionSceneStates = "sceneStates"
)

// Store 按 (集合, ID) 存取 JSON 文档
type Store interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Put(ctx context.Context, collection, id string, data []byte) error
	// Delete 删除不存在的记录不报错
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) (map[string][]byte, error)
	Close() error
}

// GetJSON 读取并解析
func GetJSON(ctx context.Context, s Store, collection, id string, v interface{}) error {
	data, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("解析JSON失败 %s/%s: %w", collection, id, err)
	}
	return nil
}

// PutJSON 序列化并写入
func PutJSON(ctx context.Context, s Store, collection, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return s.Put(ctx, collection, id, data)
}

// ListJSON 读取整个集合，按 ID 排序
func ListJSON[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	raw, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		var v T
		if err := json.Unmarshal(raw[id], &v); err != nil {
			return nil, fmt.Errorf("解析JSON失败 %s/%s: %w", collection, id, err)
		}
		out = append(out, v)
	}
	return out, nil
}
