package adbproto

// 数据包相关常量
const (
	MessageHeaderSize = 24         // 数据包头部大小（6个小端u32）
	Version           = 0x01000000 // ADB USB协议版本
	MaxData           = 4096       // 主机端声明的最大负载长度
	MaxPayload        = 1 << 20    // 接受的单个负载上限
	ChecksumModulus   = 0xFFFFFFFF // 校验和取模值（与设备端实现保持一致，不是2^32）
)

// AUTH数据包的arg0取值
const (
	AuthToken        = 1 // 设备下发待签名的随机数
	AuthSignature    = 2 // 主机返回签名
	AuthRSAPublicKey = 3 // 签名未被接受时主机发送公钥
)

// 连接标识（CNXN负载）
const (
	HostIdentity     = "host::\x00"
	DevicePrefix     = "device"
	BootloaderPrefix = "bootloader"
	FastbootPrefix   = "fastboot"
)
