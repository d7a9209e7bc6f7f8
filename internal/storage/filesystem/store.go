package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flowmail/backend/internal/storage"
)

// Store 文件系统对象存储，附件内容按对象键保存在根目录下
type Store struct {
	basePath      string         // 对象存储根目录
	platformUtils *PlatformUtils // 平台兼容性工具
}

var _ storage.ObjectStore = (*Store)(nil)

// objectMeta 与对象并排保存的元数据
type objectMeta struct {
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	SavedAt     string `json:"savedAt"`
}

// NewStore 创建文件系统存储实例
func NewStore(basePath string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(basePath)
	if err := os.MkdirAll(normalizedPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{
		basePath:      normalizedPath,
		platformUtils: platformUtils,
	}, nil
}

func (s *Store) objectPath(key string) (string, error) {
	if err := s.platformUtils.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

// PutObject 写入对象内容与元数据
func (s *Store) PutObject(_ context.Context, key, contentType string, data []byte) error {
	file, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(file, data, 0644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}

	meta, _ := json.Marshal(objectMeta{
		ContentType: contentType,
		Size:        int64(len(data)),
		SavedAt:     time.Now().Format(time.RFC3339),
	})
	if err := os.WriteFile(file+".meta.json", meta, 0644); err != nil {
		return fmt.Errorf("failed to write object metadata: %w", err)
	}
	return nil
}

// GetObject 读取对象，元数据缺失时内容类型为空
func (s *Store) GetObject(_ context.Context, key string) (*storage.Object, error) {
	file, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	obj := &storage.Object{Data: data}
	if raw, err := os.ReadFile(file + ".meta.json"); err == nil {
		var meta objectMeta
		if json.Unmarshal(raw, &meta) == nil {
			obj.ContentType = meta.ContentType
		}
	}
	return obj, nil
}

// DeleteObject 删除对象，不存在时不报错
func (s *Store) DeleteObject(_ context.Context, key string) error {
	file, err := s.objectPath(key)
	if err != nil {
		return err
	}
	for _, f := range []string{file, file + ".meta.json"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete object: %w", err)
		}
	}
	return nil
}

// Ping 检查根目录可访问
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.basePath)
	}
	return nil
}
