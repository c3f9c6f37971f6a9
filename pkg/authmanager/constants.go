package authmanager

// 持久化使用的键名
const (
	RSAPrivateIndex = "RSA_key_private" // 私钥记录
	RSAPublicIndex  = "RSA_key_public"  // mincrypt格式公钥字符串
)

// 密钥相关常量
const (
	DefaultKeyBits    = 2048         // 生成的RSA模数位数
	DefaultExponent   = 0x10001      // RSA_F4
	DefaultIdentifier = "adb@chrome" // 公钥后附加的主机标识
)

// 密钥记录格式
const (
	keyRecordMagic     = "ADBK"
	keyRecordVersion   = 1
	keyRecordHeaderLen = 4 + 1 + 2 + 4 // magic + 版本 + 位数 + 公钥指数
)

// sha1DigestInfoPrefix SHA-1的DigestInfo ASN.1前缀，签名时放在随机数之前
var sha1DigestInfoPrefix = []byte{
	0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e,
	0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14,
}
