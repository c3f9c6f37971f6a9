package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen(t *testing.T) {
	pass := []byte("correct horse")
	plaintext := []byte("private key record")

	sealed, err := Seal(pass, plaintext, []byte("adbkey"))
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}
	if len(sealed) != len(plaintext)+OverheadLen {
		t.Errorf("期望长度%d，实际%d", len(plaintext)+OverheadLen, len(sealed))
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("密文中不应包含明文")
	}

	got, err := Open(pass, sealed, []byte("adbkey"))
	if err != nil {
		t.Fatalf("解密失败: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("解密结果不匹配: %q", got)
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, _ := Seal([]byte("p"), []byte("data"), nil)
	b, _ := Seal([]byte("p"), []byte("data"), nil)
	if bytes.Equal(a, b) {
		t.Error("两次加密结果不应相同")
	}
}

func TestOpenRejects(t *testing.T) {
	pass := []byte("secret")
	sealed, err := Seal(pass, []byte("data"), []byte("name"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Open([]byte("wrong"), sealed, []byte("name")); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("错误口令期望ErrOpenFailed，实际%v", err)
	}
	if _, err := Open(pass, sealed, []byte("other")); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("附加数据不一致期望ErrOpenFailed，实际%v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := Open(pass, tampered, []byte("name")); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("篡改数据期望ErrOpenFailed，实际%v", err)
	}

	if _, err := Open(pass, sealed[:OverheadLen-1], []byte("name")); err == nil {
		t.Error("过短的数据应返回错误")
	}

	badVersion := append([]byte(nil), sealed...)
	badVersion[0] = 9
	if _, err := Open(pass, badVersion, []byte("name")); err == nil {
		t.Error("未知版本应返回错误")
	}
}
