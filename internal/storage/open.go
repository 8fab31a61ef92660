// internal/storage/open.go
package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

// 存储驱动
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Options 打开存储所需的配置
type Options struct {
	Driver        string
	DataDir       string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
}

// Open 按驱动创建存储，未指定驱动时使用文件存储
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverFile:
		return NewFileStorage(filepath.Join(opts.DataDir, "store"))
	case DriverSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.DataDir, "lorechat.db")
		}
		return NewSQLiteStorage(path)
	case DriverMongo:
		db := opts.MongoDatabase
		if db == "" {
			db = "lorechat"
		}
		return NewMongoStorage(ctx, opts.MongoURI, db)
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", opts.Driver)
	}
}
