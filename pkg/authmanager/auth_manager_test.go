package authmanager

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"

	"github.com/junbin-yang/adbbridge-go/pkg/keystore"
)

func TestRetainsKeys(t *testing.T) {
	store := keystore.NewMemoryStore()

	am := NewAuthManager(store, Options{})
	if err := am.SetKey(testPrivateKey(t)); err != nil {
		t.Fatalf("设置密钥失败: %v", err)
	}
	pub, _ := am.PublicKey()

	am = NewAuthManager(store, Options{})
	if err := am.Initialize(); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	got, err := am.PublicKey()
	if err != nil {
		t.Fatal(err)
	}
	if got != pub || got != testPublicKey {
		t.Errorf("重新加载后公钥不一致: %s", got)
	}

	stored, _ := store.Get(RSAPublicIndex)
	if string(stored) != testPublicKey {
		t.Errorf("持久化的公钥错误: %s", stored)
	}
}

func TestInitializeGeneratesKey(t *testing.T) {
	store := keystore.NewMemoryStore()
	am := NewAuthManager(store, Options{Identifier: "tester@host"})
	if err := am.Initialize(); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	pub, err := am.PublicKey()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(pub, " tester@host") {
		t.Errorf("公钥缺少主机标识: %s", pub)
	}
	// 2048位密钥：(3 + 64*2) * 4 = 524字节，base64后704字符
	if idx := strings.IndexByte(pub, ' '); idx != 704 {
		t.Errorf("base64部分长度错误: %d", idx)
	}

	record, err := store.Get(RSAPrivateIndex)
	if err != nil {
		t.Fatalf("私钥未持久化: %v", err)
	}
	key, err := UnmarshalKeyRecord(record)
	if err != nil {
		t.Fatalf("私钥记录无法解析: %v", err)
	}
	if key.N.BitLen() != DefaultKeyBits || key.E != DefaultExponent {
		t.Errorf("生成的密钥参数错误: bits=%d e=%d", key.N.BitLen(), key.E)
	}
	if stored, _ := store.Get(RSAPublicIndex); string(stored) != pub {
		t.Error("持久化的公钥与内存中不一致")
	}

	sig, err := am.Sign(testNonce)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	block := append(append([]byte(nil), sha1DigestInfoPrefix...), testNonce...)
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.Hash(0), block, sig); err != nil {
		t.Errorf("签名验证失败: %v", err)
	}

	// 再次初始化应加载同一密钥
	again := NewAuthManager(store, Options{Identifier: "tester@host"})
	if err := again.Initialize(); err != nil {
		t.Fatal(err)
	}
	if p2, _ := again.PublicKey(); p2 != pub {
		t.Error("再次初始化生成了新的密钥")
	}
}

func TestInitializeRewritesStalePublicKey(t *testing.T) {
	store := keystore.NewMemoryStore()
	record, err := MarshalKeyRecord(testPrivateKey(t))
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Set(RSAPrivateIndex, record)
	_ = store.Set(RSAPublicIndex, []byte("stale"))

	am := NewAuthManager(store, Options{})
	if err := am.Initialize(); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	if stored, _ := store.Get(RSAPublicIndex); string(stored) != testPublicKey {
		t.Errorf("过期的公钥未被重写: %s", stored)
	}
}

func TestInitializeCorruptRecord(t *testing.T) {
	store := keystore.NewMemoryStore()
	_ = store.Set(RSAPrivateIndex, []byte("ADBK garbage"))

	am := NewAuthManager(store, Options{})
	if err := am.Initialize(); !errors.Is(err, ErrInvalidKeyRecord) {
		t.Errorf("损坏的记录应返回ErrInvalidKeyRecord，实际%v", err)
	}
	if _, err := am.Sign(testNonce); !errors.Is(err, ErrNotInitialized) {
		t.Error("加载失败后不应可以签名")
	}
}

func TestClearKeys(t *testing.T) {
	store := keystore.NewMemoryStore()
	am := NewAuthManager(store, Options{})
	_ = am.SetKey(testPrivateKey(t))

	if err := am.Clear(); err != nil {
		t.Fatalf("清除失败: %v", err)
	}
	for _, name := range []string{RSAPrivateIndex, RSAPublicIndex} {
		if _, err := store.Get(name); !errors.Is(err, keystore.ErrNotFound) {
			t.Errorf("%s 未被删除", name)
		}
	}
	if _, err := am.Sign(testNonce); !errors.Is(err, ErrNotInitialized) {
		t.Error("清除后不应可以签名")
	}
}

func TestKeyRecordRoundTrip(t *testing.T) {
	key := testPrivateKey(t)
	record, err := MarshalKeyRecord(key)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	if len(record) != keyRecordHeaderLen+2*256+5*128 {
		t.Errorf("记录长度错误: %d", len(record))
	}
	if !bytes.Equal(record[:4], []byte(keyRecordMagic)) {
		t.Errorf("记录头错误: % x", record[:4])
	}

	got, err := UnmarshalKeyRecord(record)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if got.N.Cmp(key.N) != 0 || got.D.Cmp(key.D) != 0 || got.E != key.E {
		t.Error("解析出的密钥不一致")
	}

	// 篡改qinv
	bad := append([]byte(nil), record...)
	bad[len(bad)-1] ^= 0x01
	if _, err := UnmarshalKeyRecord(bad); !errors.Is(err, ErrInvalidKeyRecord) {
		t.Errorf("篡改的记录应被拒绝，实际%v", err)
	}

	if _, err := UnmarshalKeyRecord(record[:len(record)-1]); !errors.Is(err, ErrInvalidKeyRecord) {
		t.Errorf("截断的记录应被拒绝，实际%v", err)
	}
}
