package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// KeyStore 凭证的显式持久化接口。编排器绝不在运行中途读取它，
// 凭证只在构造Settings时注入一次。
type KeyStore interface {
	Load() (Keys, error)
	Save(Keys) error
}

// FileKeyStore 把凭证存成一个json文件
type FileKeyStore struct {
	Path string
}

func NewFileKeyStore(dataDir string) *FileKeyStore {
	return &FileKeyStore{Path: filepath.Join(dataDir, "keys.json")}
}

func (s *FileKeyStore) Load() (Keys, error) {
	var keys Keys
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return keys, nil
		}
		return keys, fmt.Errorf("read key store: %w", err)
	}
	if err := json.Unmarshal(data, &keys); err != nil {
		return keys, fmt.Errorf("parse key store: %w", err)
	}
	return keys, nil
}

func (s *FileKeyStore) Save(keys Keys) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create key store dir: %w", err)
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("write key store: %w", err)
	}
	return nil
}
