// internal/storage/kv.go
package storage

import (
	"context"
	"fmt"
	"path/filepath"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
)

// KV is a key to JSON-blob store. Keys look like "scenario:<id>". There
// is no transaction across keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// 存储后端名称
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

func notFound(key string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("key %s not found", key), nil)
}

// Open creates the KV named by backend under dataDir.
func Open(backend, dataDir string) (KV, error) {
	switch backend {
	case "", BackendFile:
		fs, err := NewFileStorage(filepath.Join(dataDir, "kv"))
		if err != nil {
			return nil, err
		}
		return NewFileKV(fs), nil
	case BackendBadger:
		return NewBadgerKV(filepath.Join(dataDir, "badger"), false)
	case BackendSQLite:
		return NewSQLiteKV(filepath.Join(dataDir, "scenechronicle.db"))
	case BackendMemory:
		return NewMemoryKV(), nil
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown store backend %q", backend), nil)
	}
}
