// Package keystore 提供认证密钥的键值持久化
package keystore

import (
	"errors"
	"regexp"
	"sync"
)

var (
	ErrNotFound    = errors.New("key not found")
	ErrInvalidName = errors.New("invalid key name")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// Store 窄化的键值存储接口
// Get在键不存在时返回ErrNotFound，Remove删除不存在的键不报错
type Store interface {
	Get(name string) ([]byte, error)
	Set(name string, value []byte) error
	Remove(name string) error
}

func checkName(name string) error {
	if !validName.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// MemoryStore 进程内存储，主要用于测试
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(name string, value []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.data[name] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, name)
	s.mu.Unlock()
	return nil
}
