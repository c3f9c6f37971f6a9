package authmanager

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/junbin-yang/adbbridge-go/pkg/keystore"
	log "github.com/junbin-yang/adbbridge-go/pkg/utils/logger"
)

// Options AuthManager的可选参数，零值字段使用默认值
type Options struct {
	Bits       int       // 生成密钥的位数
	Identifier string    // 公钥后附加的主机标识
	Rand       io.Reader // 生成密钥使用的随机源
}

// AuthManager 管理设备认证使用的RSA密钥对
// 首次使用时生成密钥并持久化，之后从存储中加载
type AuthManager struct {
	store      keystore.Store
	opts       Options
	mu         sync.RWMutex
	privateKey *rsa.PrivateKey
	publicKey  string // mincrypt格式
}

// NewAuthManager 创建认证管理器
// 参数：
//   - store：密钥持久化存储
//   - opts：可选参数
func NewAuthManager(store keystore.Store, opts Options) *AuthManager {
	if opts.Bits == 0 {
		opts.Bits = DefaultKeyBits
	}
	if opts.Identifier == "" {
		opts.Identifier = DefaultIdentifier
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	return &AuthManager{store: store, opts: opts}
}

// Initialize 从存储加载密钥，不存在时生成新的密钥对并保存
func (m *AuthManager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.store.Get(RSAPrivateIndex)
	switch {
	case err == nil:
		key, err := UnmarshalKeyRecord(data)
		if err != nil {
			return fmt.Errorf("加载私钥失败: %w", err)
		}
		pub, err := ConvertToMinCrypt(&key.PublicKey, m.opts.Identifier)
		if err != nil {
			return err
		}
		// 公钥缺失或与私钥不一致时重写
		if stored, err := m.store.Get(RSAPublicIndex); err != nil || string(stored) != pub {
			if err := m.store.Set(RSAPublicIndex, []byte(pub)); err != nil {
				return fmt.Errorf("保存公钥失败: %w", err)
			}
		}
		m.privateKey, m.publicKey = key, pub
		log.Infof("[AUTH] 已加载%d位RSA密钥", key.N.BitLen())
		return nil

	case errors.Is(err, keystore.ErrNotFound):
		log.Infof("[AUTH] 未找到密钥，正在生成%d位RSA密钥", m.opts.Bits)
		key, err := rsa.GenerateKey(m.opts.Rand, m.opts.Bits)
		if err != nil {
			return fmt.Errorf("生成RSA密钥失败: %w", err)
		}
		if key.E != DefaultExponent {
			return fmt.Errorf("%w: 公钥指数%d", ErrUnsupportedKey, key.E)
		}
		return m.setKeyLocked(key)

	default:
		return fmt.Errorf("读取私钥失败: %w", err)
	}
}

// SetKey 替换当前使用的密钥并持久化
func (m *AuthManager) SetKey(key *rsa.PrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setKeyLocked(key)
}

func (m *AuthManager) setKeyLocked(key *rsa.PrivateKey) error {
	record, err := MarshalKeyRecord(key)
	if err != nil {
		return err
	}
	pub, err := ConvertToMinCrypt(&key.PublicKey, m.opts.Identifier)
	if err != nil {
		return err
	}
	if err := m.store.Set(RSAPrivateIndex, record); err != nil {
		return fmt.Errorf("保存私钥失败: %w", err)
	}
	if err := m.store.Set(RSAPublicIndex, []byte(pub)); err != nil {
		return fmt.Errorf("保存公钥失败: %w", err)
	}
	m.privateKey, m.publicKey = key, pub
	return nil
}

// Clear 清除内存和存储中的密钥
func (m *AuthManager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.privateKey = nil
	m.publicKey = ""
	if err := m.store.Remove(RSAPrivateIndex); err != nil {
		return err
	}
	return m.store.Remove(RSAPublicIndex)
}

// PublicKey 返回mincrypt格式的公钥字符串
func (m *AuthManager) PublicKey() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.privateKey == nil {
		return "", ErrNotInitialized
	}
	return m.publicKey, nil
}

// Fingerprint 返回当前公钥的SHA256指纹
func (m *AuthManager) Fingerprint() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.privateKey == nil {
		return "", ErrNotInitialized
	}
	return Fingerprint(&m.privateKey.PublicKey)
}

// Sign 对设备下发的认证随机数签名
// 未加载私钥时返回ErrNotInitialized，不产生任何签名
func (m *AuthManager) Sign(nonce []byte) ([]byte, error) {
	m.mu.RLock()
	key := m.privateKey
	m.mu.RUnlock()

	if key == nil {
		return nil, ErrNotInitialized
	}
	return SignToken(key, nonce)
}
