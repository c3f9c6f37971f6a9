package authmanager

import (
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"math/big"
)

// MarshalKeyRecord 将RSA私钥序列化为定长记录
// 格式（大端）："ADBK" | u8 版本 | u16 位数 | u32 e | n | d | p | q | dp | dq | qinv
// n和d占 位数/8 字节，其余各占 位数/16 字节
func MarshalKeyRecord(key *rsa.PrivateKey) ([]byte, error) {
	if key == nil || key.N == nil || len(key.Primes) != 2 {
		return nil, fmt.Errorf("%w: 需要双素数私钥", ErrUnsupportedKey)
	}
	bits := key.N.BitLen()
	if bits%16 != 0 || bits > 0xFFFF {
		return nil, fmt.Errorf("%w: 模数位数%d", ErrUnsupportedKey, bits)
	}
	key.Precompute()

	full, half := bits/8, bits/16
	fields := []struct {
		v     *big.Int
		width int
	}{
		{key.N, full},
		{key.D, full},
		{key.Primes[0], half},
		{key.Primes[1], half},
		{key.Precomputed.Dp, half},
		{key.Precomputed.Dq, half},
		{key.Precomputed.Qinv, half},
	}

	buf := make([]byte, keyRecordHeaderLen+2*full+5*half)
	copy(buf, keyRecordMagic)
	buf[4] = keyRecordVersion
	binary.BigEndian.PutUint16(buf[5:], uint16(bits))
	binary.BigEndian.PutUint32(buf[7:], uint32(key.E))

	off := keyRecordHeaderLen
	for i, f := range fields {
		if f.v == nil || f.v.Sign() < 0 || (f.v.BitLen()+7)/8 > f.width {
			return nil, fmt.Errorf("%w: 第%d个整数超出%d字节", ErrUnsupportedKey, i, f.width)
		}
		f.v.FillBytes(buf[off : off+f.width])
		off += f.width
	}
	return buf, nil
}

// UnmarshalKeyRecord 解析MarshalKeyRecord生成的记录并校验私钥
func UnmarshalKeyRecord(data []byte) (*rsa.PrivateKey, error) {
	if len(data) < keyRecordHeaderLen || string(data[:4]) != keyRecordMagic {
		return nil, fmt.Errorf("%w: 头部错误", ErrInvalidKeyRecord)
	}
	if data[4] != keyRecordVersion {
		return nil, fmt.Errorf("%w: 不支持的版本%d", ErrInvalidKeyRecord, data[4])
	}
	bits := int(binary.BigEndian.Uint16(data[5:]))
	e := binary.BigEndian.Uint32(data[7:])
	if bits == 0 || bits%16 != 0 || e > 1<<31-1 {
		return nil, fmt.Errorf("%w: 位数%d 指数%d", ErrInvalidKeyRecord, bits, e)
	}

	full, half := bits/8, bits/16
	if len(data) != keyRecordHeaderLen+2*full+5*half {
		return nil, fmt.Errorf("%w: 长度%d与%d位密钥不符", ErrInvalidKeyRecord, len(data), bits)
	}

	off := keyRecordHeaderLen
	next := func(width int) *big.Int {
		v := new(big.Int).SetBytes(data[off : off+width])
		off += width
		return v
	}
	n, d := next(full), next(full)
	p, q := next(half), next(half)
	dp, dq, qinv := next(half), next(half), next(half)

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: int(e)},
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	if n.BitLen() != bits {
		return nil, fmt.Errorf("%w: 模数位数不符", ErrInvalidKeyRecord)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyRecord, err)
	}
	key.Precompute()
	if key.Precomputed.Dp.Cmp(dp) != 0 || key.Precomputed.Dq.Cmp(dq) != 0 || key.Precomputed.Qinv.Cmp(qinv) != 0 {
		return nil, fmt.Errorf("%w: CRT参数不一致", ErrInvalidKeyRecord)
	}
	return key, nil
}
