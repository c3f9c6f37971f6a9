package keystore

import (
	"fmt"

	"github.com/junbin-yang/adbbridge-go/pkg/utils/crypto"
)

// EncryptedStore 将值用口令加密后保存到底层存储
// 键名作为附加认证数据，值不能在键之间挪用
type EncryptedStore struct {
	inner      Store
	passphrase []byte
}

// NewEncryptedStore 包装底层存储
func NewEncryptedStore(inner Store, passphrase string) *EncryptedStore {
	return &EncryptedStore{inner: inner, passphrase: []byte(passphrase)}
}

func (s *EncryptedStore) Get(name string) ([]byte, error) {
	sealed, err := s.inner.Get(name)
	if err != nil {
		return nil, err
	}
	value, err := crypto.Open(s.passphrase, sealed, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("读取%s: %w", name, err)
	}
	return value, nil
}

func (s *EncryptedStore) Set(name string, value []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	sealed, err := crypto.Seal(s.passphrase, value, []byte(name))
	if err != nil {
		return err
	}
	return s.inner.Set(name, sealed)
}

func (s *EncryptedStore) Remove(name string) error {
	return s.inner.Remove(name)
}
