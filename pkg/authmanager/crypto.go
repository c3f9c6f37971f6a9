package authmanager

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/crypto/ssh"
)

// ConvertToMinCrypt 将RSA公钥转换为设备端mincrypt校验所需的格式
// 二进制布局（小端）：
//
//	int32  numWords
//	uint32 n0inv
//	uint32 n[numWords]
//	uint32 rr[numWords]
//	int32  exponent
//
// 参数：
//   - pub：RSA公钥，模数位数必须是32的倍数
//   - identifier：附加在base64之后的主机标识
//
// 返回：
//   - base64编码的公钥 + " " + identifier
//   - 错误信息
func ConvertToMinCrypt(pub *rsa.PublicKey, identifier string) (string, error) {
	if pub == nil || pub.N == nil {
		return "", ErrUnsupportedKey
	}
	bitLen := pub.N.BitLen()
	if bitLen == 0 || bitLen%32 != 0 {
		return "", fmt.Errorf("%w: 模数位数%d不是32的倍数", ErrUnsupportedKey, bitLen)
	}
	numWords := bitLen / 32

	b32 := new(big.Int).Lsh(big.NewInt(1), 32)

	// n0inv = (2^32 - n^-1 mod 2^32) mod 2^32
	inv := new(big.Int).ModInverse(pub.N, b32)
	if inv == nil {
		return "", fmt.Errorf("%w: 模数为偶数", ErrUnsupportedKey)
	}
	n0inv := new(big.Int).Sub(b32, inv)
	n0inv.Mod(n0inv, b32)

	// RR = (2^bitLen)^2 mod n
	rr := new(big.Int).Lsh(big.NewInt(1), uint(2*bitLen))
	rr.Mod(rr, pub.N)

	buf := make([]byte, 4*(3+2*numWords))
	binary.LittleEndian.PutUint32(buf[0:], uint32(numWords))
	binary.LittleEndian.PutUint32(buf[4:], uint32(n0inv.Uint64()))

	n := new(big.Int).Set(pub.N)
	word := new(big.Int)
	for i := 0; i < numWords; i++ {
		n.DivMod(n, b32, word)
		binary.LittleEndian.PutUint32(buf[8+4*i:], uint32(word.Uint64()))
		rr.DivMod(rr, b32, word)
		binary.LittleEndian.PutUint32(buf[8+4*(numWords+i):], uint32(word.Uint64()))
	}
	binary.LittleEndian.PutUint32(buf[len(buf)-4:], uint32(int32(pub.E)))

	return base64.StdEncoding.EncodeToString(buf) + " " + identifier, nil
}

// SignToken 对设备下发的随机数做原始RSA签名
// 待签名块：0x00 0x01 0xFF... 0x00 [SHA-1 DigestInfo前缀] [nonce]，长度等于模数字节数
// 参数：
//   - key：RSA私钥（使用CRT参数）
//   - nonce：设备下发的随机数
//
// 返回：
//   - 大端签名，长度固定为模数字节数
//   - 错误信息（随机数过长时返回ErrNonceTooLong）
func SignToken(key *rsa.PrivateKey, nonce []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNotInitialized
	}
	k := key.N.BitLen() / 8

	t := make([]byte, 0, len(sha1DigestInfoPrefix)+len(nonce))
	t = append(t, sha1DigestInfoPrefix...)
	t = append(t, nonce...)
	// 0x00 0x01 至少8字节0xFF 0x00
	if len(t)+11 > k {
		return nil, fmt.Errorf("%w: %d字节随机数，密钥%d字节", ErrNonceTooLong, len(nonce), k)
	}

	// hash为0时SignPKCS1v15不再附加前缀，直接对t做PKCS#1 v1.5类型1填充
	return rsa.SignPKCS1v15(nil, key, crypto.Hash(0), t)
}

// Fingerprint 返回公钥的OpenSSH格式SHA256指纹，用于展示
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(sshPub), nil
}
