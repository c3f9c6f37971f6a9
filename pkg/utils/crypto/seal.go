package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	SaltLen     = 16
	GcmNonceLen = 12 // GCM模式的Nonce长度
	GcmTagLen   = 16
	KeyLen      = 32 // AES-256

	// OverheadLen 密封后相对明文增加的长度
	OverheadLen = 1 + SaltLen + GcmNonceLen + GcmTagLen
)

// 密封格式版本，写在输出的第一个字节
const sealVersion = 1

// argon2id参数
const (
	kdfTime    = 1
	kdfMemory  = 19 * 1024 // KiB
	kdfThreads = 1
)

var ErrOpenFailed = errors.New("解密失败，口令错误或数据被篡改")

// DeriveKey 由口令和盐派生AES密钥
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, KeyLen)
}

// Seal 使用口令加密数据
// 参数：
//   - passphrase：口令
//   - plaintext：明文
//   - aad：附加认证数据，Open时必须一致（可为nil）
//
// 返回：
//   - 版本(1字节) + 盐(16字节) + Nonce(12字节) + 密文 + 标签(16字节)
//   - 错误信息
func Seal(passphrase, plaintext, aad []byte) ([]byte, error) {
	header := make([]byte, 1+SaltLen+GcmNonceLen)
	header[0] = sealVersion
	if _, err := io.ReadFull(rand.Reader, header[1:]); err != nil {
		return nil, fmt.Errorf("生成随机数失败: %w", err)
	}
	salt := header[1 : 1+SaltLen]
	nonce := header[1+SaltLen:]

	aead, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	return aead.Seal(header, nonce, plaintext, aad), nil
}

// Open 解密Seal的输出
func Open(passphrase, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < OverheadLen {
		return nil, fmt.Errorf("密文长度过短，至少需要%d字节", OverheadLen)
	}
	if sealed[0] != sealVersion {
		return nil, fmt.Errorf("不支持的密封版本: %d", sealed[0])
	}
	salt := sealed[1 : 1+SaltLen]
	nonce := sealed[1+SaltLen : 1+SaltLen+GcmNonceLen]

	aead, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, sealed[1+SaltLen+GcmNonceLen:], aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("创建cipher失败: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("创建GCM失败: %w", err)
	}
	return aead, nil
}
