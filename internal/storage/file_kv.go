// internal/storage/file_kv.go
package storage

import (
	"context"
	"net/url"
	"strings"
)

const jsonExt = ".json"

// FileKV maps keys onto JSON files: "scenario:abc" is stored as
// scenario/abc.json under the storage root.
type FileKV struct {
	fs *FileStorage
}

// NewFileKV 基于文件存储创建 KV
func NewFileKV(fs *FileStorage) *FileKV {
	return &FileKV{fs: fs}
}

func splitKey(key string) (dir, file string) {
	ns, name, found := strings.Cut(key, ":")
	if !found {
		return "_", url.PathEscape(key) + jsonExt
	}
	return url.PathEscape(ns), url.PathEscape(name) + jsonExt
}

func joinKey(dir, file string) string {
	name, _ := url.PathUnescape(strings.TrimSuffix(file, jsonExt))
	if dir == "_" {
		return name
	}
	ns, _ := url.PathUnescape(dir)
	return ns + ":" + name
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	dir, file := splitKey(key)
	return f.fs.LoadFile(dir, file)
}

func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	dir, file := splitKey(key)
	return f.fs.SaveFile(dir, file, value)
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	dir, file := splitKey(key)
	return f.fs.DeleteFile(dir, file)
}

func (f *FileKV) Keys(_ context.Context, prefix string) ([]string, error) {
	dirs, err := f.fs.ListDirs("")
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, dir := range dirs {
		files, err := f.fs.ListFiles(dir, jsonExt)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			if key := joinKey(dir, file); strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

func (f *FileKV) Close() error {
	return f.fs.Close()
}
